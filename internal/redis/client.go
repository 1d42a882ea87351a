package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/models"
)

// ErrRoomNotFound is returned when no metadata is stored for a room.
var ErrRoomNotFound = errors.New("room not found")

// Store keeps room metadata and a presence mirror of relay membership.
//
// Keys:
//
//	room:{id}        JSON RoomMetadata
//	room:{id}:peers  set of peer ids currently attached on any instance
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect initializes the Redis client and verifies the connection
func Connect(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStore(client, ttl), nil
}

// NewStore wraps an existing client. Keys written by the store expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func roomKey(roomID string) string  { return "room:" + roomID }
func peersKey(roomID string) string { return "room:" + roomID + ":peers" }

// AddPeer records peerID as present in roomID.
func (s *Store) AddPeer(ctx context.Context, roomID, peerID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, peersKey(roomID), peerID)
	pipe.Expire(ctx, peersKey(roomID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RemovePeer drops peerID from the presence set of roomID.
func (s *Store) RemovePeer(ctx context.Context, roomID, peerID string) error {
	return s.client.SRem(ctx, peersKey(roomID), peerID).Err()
}

// PeerCount returns how many peers are present in roomID across instances.
func (s *Store) PeerCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// SaveRoom stores metadata for a room created through the API.
func (s *Store) SaveRoom(ctx context.Context, room models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, roomKey(room.ID), data, s.ttl).Err()
}

// GetRoom loads room metadata. It returns ErrRoomNotFound for unknown ids.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	var room models.RoomMetadata
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	return &room, nil
}

// DeleteRoom removes metadata and presence for roomID.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomKey(roomID), peersKey(roomID)).Err()
}
