package negotiation

import (
	"log/slog"

	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/signaling"
)

// Relay is the client's connection to its call room.
type Relay interface {
	Send(msg models.SignalMessage) error
	Close() error
}

// RelayEvents are invoked from the relay's own goroutines. They must not block.
type RelayEvents struct {
	OnMessage     func(raw []byte)
	OnStateChange func(state signaling.State, err error)
}

// RelayDialer opens the relay connection for callID.
type RelayDialer func(callID string, events RelayEvents) (Relay, error)

// SignalingDialer connects through the websocket signaling client.
func SignalingDialer(cfg *config.ClientConfig, logger *slog.Logger) RelayDialer {
	return func(callID string, events RelayEvents) (Relay, error) {
		c, err := signaling.Dial(cfg.RelayURL, callID, signaling.Options{
			ReconnectDelay: cfg.ReconnectDelay,
			OutboxSize:     cfg.OutboxSize,
			OnMessage:      events.OnMessage,
			OnStateChange:  events.OnStateChange,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
