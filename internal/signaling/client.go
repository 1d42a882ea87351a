package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/callrelay/internal/models"
)

var (
	ErrClosed = errors.New("signaling client closed")
	// ErrQueueFull is returned by Send when too many messages are waiting for a connection.
	ErrQueueFull = errors.New("signaling outbox full")
	// ErrTransport wraps websocket dial, read and write failures.
	ErrTransport = errors.New("relay transport error")
	// ErrRejected means the relay refused the connection (for example a full room).
	ErrRejected = errors.New("relay rejected connection")
	// ErrRemoteClosed means the relay ended the session deliberately.
	ErrRemoteClosed = errors.New("relay closed connection")
)

// State is the connection state of a Client.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configure Dial. Zero values take defaults.
type Options struct {
	// ReconnectDelay is the fixed wait between connection attempts. Negative
	// disables reconnecting.
	ReconnectDelay time.Duration
	OutboxSize     int
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	Dialer         *websocket.Dialer
	Header         http.Header

	// OnMessage receives every inbound text frame, in order, from a single goroutine.
	OnMessage func([]byte)
	// OnStateChange reports connection transitions. err is set for failures.
	OnStateChange func(State, error)
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 128
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
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is a websocket connection to one relay room. Messages sent while the
// connection is down are queued and flushed in order once it is back.
type Client struct {
	url    string
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	outbox    [][]byte
	conn      *websocket.Conn
	closed    bool
	wake      chan struct{}
	closeOnce sync.Once
}

// RoomURL builds the relay endpoint for callID.
func RoomURL(relayURL, callID string) (string, error) {
	if strings.TrimSpace(callID) == "" {
		return "", errors.New("call id is required")
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/") + "/ws/signal/" + url.PathEscape(callID), nil
}

// Dial starts connecting to the relay room for callID and returns immediately.
func Dial(relayURL, callID string, opts Options) (*Client, error) {
	target, err := RoomURL(relayURL, callID)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:    target,
		opts:   opts,
		logger: opts.Logger.With("call_id", callID),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Send queues msg for delivery.
func (c *Client) Send(msg models.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return c.SendRaw(data)
}

// SendRaw queues an already encoded message. It never blocks on the network.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if len(c.outbox) >= c.opts.OutboxSize {
		c.mu.Unlock()
		return ErrQueueFull
	}
	c.outbox = append(c.outbox, data)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued, unsent messages.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Close stops reconnecting, closes the connection and waits for the
// background goroutines to exit. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		c.cancel()
		if conn != nil {
			deadline := time.Now().Add(c.opts.WriteWait)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		c.wg.Wait()
	})
	return nil
}

func (c *Client) setState(s State, err error) {
	if err != nil {
		c.logger.Warn("relay connection state changed", "state", s.String(), "err", err)
	} else {
		c.logger.Debug("relay connection state changed", "state", s.String())
	}
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s, err)
	}
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		c.setState(StateConnecting, nil)
		conn, _, err := c.opts.Dialer.DialContext(c.ctx, c.url, c.opts.Header)
		if err == nil {
			var terminal bool
			terminal, err = c.serve(conn)
			if c.ctx.Err() != nil {
				c.setState(StateClosed, nil)
				return
			}
			if terminal {
				c.markClosed()
				c.setState(StateClosed, err)
				return
			}
		} else {
			if c.ctx.Err() != nil {
				c.setState(StateClosed, nil)
				return
			}
			err = fmt.Errorf("%w: dial: %w", ErrTransport, err)
		}

		c.setState(StateDisconnected, err)
		if c.opts.ReconnectDelay < 0 {
			c.markClosed()
			c.setState(StateClosed, nil)
			return
		}

		select {
		case <-c.ctx.Done():
			c.setState(StateClosed, nil)
			return
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// serve runs one connection until it ends. terminal reports whether the relay
// asked us not to come back.
func (c *Client) serve(conn *websocket.Conn) (terminal bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return true, ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateConnected, nil)

	stop := make(chan struct{})
	writeDone := make(chan error, 1)
	go func() {
		werr := c.writeLoop(conn, stop)
		if werr != nil {
			_ = conn.Close()
		}
		writeDone <- werr
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	var readErr error
	for {
		msgType, data, rerr := conn.ReadMessage()
		if rerr != nil {
			readErr = rerr
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}

	close(stop)
	if werr := <-writeDone; werr != nil {
		c.logger.Debug("relay write failed", "err", werr)
	}
	return classifyClose(readErr)
}

func (c *Client) writeLoop(conn *websocket.Conn, stop <-chan struct{}) error {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		// Messages leave the outbox only once written, so a dropped
		// connection keeps them for the next one.
		for {
			c.mu.Lock()
			if len(c.outbox) == 0 {
				c.mu.Unlock()
				break
			}
			next := c.outbox[0]
			c.mu.Unlock()

			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, next); err != nil {
				return err
			}

			c.mu.Lock()
			c.outbox[0] = nil
			c.outbox = c.outbox[1:]
			c.mu.Unlock()
		}

		select {
		case <-stop:
			return nil
		case <-c.wake:
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func classifyClose(err error) (terminal bool, out error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.ClosePolicyViolation:
			return true, fmt.Errorf("%w: %s", ErrRejected, ce.Text)
		case websocket.CloseNormalClosure:
			return true, fmt.Errorf("%w: %s", ErrRemoteClosed, ce.Text)
		}
	}
	return false, fmt.Errorf("%w: %w", ErrTransport, err)
}
