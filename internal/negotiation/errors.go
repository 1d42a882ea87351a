package negotiation

import (
	"errors"

	"github.com/mossy-p/callrelay/internal/media"
)

var (
	// ErrMediaAccess means the camera or microphone could not be opened. Terminal for the session.
	ErrMediaAccess = errors.New("media access failed")
	// ErrNegotiation covers malformed signaling and offer/answer/ICE failures. The session continues.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrConnectionFailed is reported when the peer connection enters the failed state. Terminal.
	ErrConnectionFailed = errors.New("peer connection failed")
	// ErrNegotiationTimeout is reported when a call stays in negotiation past the configured limit.
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	// ErrPeerDisconnected is informational: the other party left the room.
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrRelayTransport   = errors.New("relay transport failed")
	ErrRoomFull         = errors.New("room is full")
	ErrNotInitialized   = errors.New("call not initialized")
	ErrCameraSwitch     = errors.New("camera switch failed")
)

// UserMessage turns an error reported by the client into a sentence fit for
// display. It returns "" for nil.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMediaAccess):
		if errors.Is(err, media.ErrDeviceNotFound) {
			return "camera/microphone not found"
		}
		return "camera/microphone access denied"
	case errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrNegotiationTimeout):
		return "connection failed, please try again"
	case errors.Is(err, ErrPeerDisconnected):
		return "other party disconnected"
	case errors.Is(err, ErrRoomFull):
		return "this call already has two participants"
	case errors.Is(err, ErrCameraSwitch):
		return "could not switch camera"
	case errors.Is(err, ErrRelayTransport):
		return "lost connection to the signaling server, reconnecting"
	case errors.Is(err, ErrNotInitialized):
		return "call has not started"
	default:
		return "something went wrong while connecting the call"
	}
}
