package negotiation

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/callrelay/internal/media"
)

// Phase is where the call is in its lifecycle.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseAwaitingPeer  Phase = "awaiting-peer"
	PhaseNegotiating   Phase = "negotiating"
	PhaseConnected     Phase = "connected"
	PhaseDisconnected  Phase = "disconnected"
	PhaseFailed        Phase = "failed"
)

// ConnectionState is the status indicator shown next to the call.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
)

func connectionStateFrom(s webrtc.PeerConnectionState) (ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnectionNew, true
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return ConnectionConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return ConnectionFailed, true
	default:
		return "", false
	}
}

// Snapshot is an immutable view of the call for the UI.
type Snapshot struct {
	Phase           Phase
	ConnectionState ConnectionState
	LocalStream     *media.Stream
	RemoteStream    *media.RemoteStream
	RemotePeerID    string
	Err             error
	PeerAISettings  json.RawMessage
	PeerAIResults   json.RawMessage
}

// ErrorMessage is UserMessage(s.Err).
func (s Snapshot) ErrorMessage() string {
	return UserMessage(s.Err)
}
