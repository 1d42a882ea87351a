package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrRoomFull is returned by Attach when the room already holds its capacity.
var ErrRoomFull = errors.New("room is full")

const presenceTimeout = 2 * time.Second

// Presence mirrors room membership outside this process.
type Presence interface {
	AddPeer(ctx context.Context, roomID, peerID string) error
	RemovePeer(ctx context.Context, roomID, peerID string) error
}

// Options tune a Hub. Zero fields take defaults: two members per room, 64 KiB
// messages, 60s pong wait and a 256 message send buffer.
type Options struct {
	Capacity        int
	MaxMessageBytes int64
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 2
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Hub owns every room served by this process.
type Hub struct {
	opts     Options
	presence Presence
	logger   *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates a hub. presence may be nil.
func NewHub(opts Options, presence Presence, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		opts:     opts.withDefaults(),
		presence: presence,
		logger:   logger,
		rooms:    make(map[string]*Room),
	}
}

// Attach registers conn as a new member of roomID and starts relaying for it.
// The room is created if needed. Other members receive peer-joined; the new
// member is not told about itself or about existing members.
func (h *Hub) Attach(roomID string, conn *websocket.Conn) (*Peer, error) {
	p := &Peer{
		ID:     uuid.New().String(),
		RoomID: roomID,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		hub:    h,
	}
	p.logger = h.logger.With("room_id", roomID, "peer_id", p.ID)

	h.mu.Lock()
	room, exists := h.rooms[roomID]
	if !exists {
		room = newRoom(roomID)
		h.rooms[roomID] = room
	}
	members, err := room.join(p, h.opts.Capacity)
	if err != nil && !exists {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if err != nil {
		p.logger.Info("rejected join", "err", err, "capacity", h.opts.Capacity)
		return nil, err
	}
	if !exists {
		h.logger.Info("created room", "room_id", roomID)
	}
	p.logger.Info("peer joined room", "members", members)

	h.presenceUpdate(func(ctx context.Context) error {
		return h.presence.AddPeer(ctx, roomID, p.ID)
	}, p.logger)

	go p.writePump()
	go p.readPump()
	return p, nil
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	remaining, removed := p.room.leave(p)
	if removed && remaining == 0 && h.rooms[p.RoomID] == p.room {
		delete(h.rooms, p.RoomID)
		h.logger.Info("removed empty room", "room_id", p.RoomID)
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	p.logger.Info("peer left room", "members", remaining)
	h.presenceUpdate(func(ctx context.Context) error {
		return h.presence.RemovePeer(ctx, p.RoomID, p.ID)
	}, p.logger)
}

func (h *Hub) presenceUpdate(fn func(ctx context.Context) error, logger *slog.Logger) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("presence update failed", "err", err)
	}
}

// Members returns the peer ids attached to roomID on this instance.
func (h *Hub) Members(roomID string) []string {
	h.mu.Lock()
	room := h.rooms[roomID]
	h.mu.Unlock()
	if room == nil {
		return nil
	}
	return room.memberIDs()
}

// Rooms returns the ids of the live rooms, in no particular order.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// CloseRoom disconnects every member of roomID with a normal close frame and
// returns how many connections were closed.
func (h *Hub) CloseRoom(roomID string) int {
	h.mu.Lock()
	room := h.rooms[roomID]
	h.mu.Unlock()
	if room == nil {
		return 0
	}

	peers := room.snapshot()
	for _, p := range peers {
		p.closeWith(websocket.CloseNormalClosure, "room closed")
	}
	return len(peers)
}

// Shutdown disconnects every peer in every room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		for _, p := range room.snapshot() {
			p.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
	}
}
