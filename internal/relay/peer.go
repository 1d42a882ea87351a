package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/callrelay/internal/models"
)

// Peer is one websocket connection inside a room.
type Peer struct {
	ID     string
	RoomID string

	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	room      *Room
	logger    *slog.Logger
	closeOnce sync.Once
}

// enqueue must be called with the room lock held. A peer that cannot keep up
// is disconnected instead of silently losing messages.
func (p *Peer) enqueue(data []byte) {
	select {
	case p.send <- data:
	default:
		p.logger.Warn("send buffer full, disconnecting peer")
		p.close()
	}
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
	})
}

func (p *Peer) closeWith(code int, reason string) {
	deadline := time.Now().Add(p.hub.opts.WriteWait)
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	p.close()
}

func (p *Peer) readPump() {
	defer func() {
		p.hub.leave(p)
		p.close()
	}()

	opts := p.hub.opts
	p.conn.SetReadLimit(opts.MaxMessageBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		msgType, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("websocket error", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			p.logger.Debug("dropping non-text frame", "frame_type", msgType)
			continue
		}

		env, err := models.ParseEnvelope(message)
		if err != nil {
			p.logger.Warn("dropping malformed message", "err", err, "bytes", len(message))
			continue
		}

		switch env.Type {
		case models.SignalTypePeerJoined, models.SignalTypePeerDisconnected, models.SignalTypeError:
			// Only the relay speaks for membership.
			p.logger.Warn("dropping relay-reserved message type", "type", env.Type)
			continue
		}
		if !env.Type.Known() {
			p.logger.Info("forwarding unknown message type", "type", env.Type)
		} else {
			p.logger.Debug("forwarding message", "type", env.Type)
		}

		p.room.broadcast(message, p.ID)
	}
}

func (p *Peer) writePump() {
	opts := p.hub.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				p.logger.Warn("failed to write message", "err", err)
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// RejectFull tells a client the room is at capacity and closes the connection.
func RejectFull(conn *websocket.Conn, writeWait time.Duration) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, mustMarshal(models.NewError(models.ErrorCodeRoomFull, ErrRoomFull.Error())))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room full"))
	_ = conn.Close()
}
