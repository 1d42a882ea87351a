package models

import "time"

// RoomMetadata stores information about a registered call room
type RoomMetadata struct {
	ID          string    `json:"id"`
	CreatorID   string    `json:"creatorId"` // User ID from JWT who created the room
	CreatedAt   time.Time `json:"createdAt"`
	Capacity    int       `json:"capacity"`
	PeerCount   int       `json:"peerCount"`
	LivePeerIDs []string  `json:"livePeerIds,omitempty"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}
