package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/signaling"
)

// Config tunes a Client. The zero value is usable.
type Config struct {
	ICEServers []webrtc.ICEServer
	// NegotiationTimeout fails a call that stays in negotiation this long. Zero disables it.
	NegotiationTimeout time.Duration
	// Constraints used to open local media. Defaults to audio plus the user-facing camera.
	Constraints media.Constraints
}

// Dependencies are the outside resources a Client drives. A nil
// NewPeerConnection uses pion with its default codecs and interceptors.
type Dependencies struct {
	Devices           media.Devices
	NewPeerConnection PeerConnectionFactory
	DialRelay         RelayDialer
}

// Client owns one call at a time: local media, one peer connection and the
// relay connection used to negotiate it. All state changes are published as
// Snapshots on Updates.
type Client struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	mu           sync.Mutex
	sess         *session
	phase        Phase
	conn         ConnectionState
	err          error
	peerSettings json.RawMessage
	peerResults  json.RawMessage

	updates chan Snapshot
}

type session struct {
	callID    string
	initiator bool
	events    *eventQueue

	local        *media.Stream
	remote       *media.RemoteStream
	pc           PeerConnection
	videoSender  Sender
	relay        Relay
	remotePeerID string

	pending      []webrtc.ICECandidateInit
	negotiating  bool
	offerCreated bool

	// peerGone is set between a peer-disconnected and the next peer-joined.
	peerGone bool
	// stale marks a connection kept after its peer left the relay. Its
	// transport decides whether the call survives.
	stale bool

	timer    *time.Timer
	timerGen int

	detectCancel context.CancelFunc
}

// New returns an idle client. Nothing is opened until Initialize.
func New(cfg Config, deps Dependencies, logger *slog.Logger) *Client {
	if !cfg.Constraints.Audio && !cfg.Constraints.Video {
		cfg.Constraints = media.Constraints{Audio: true, Video: true, FacingMode: media.FacingUser}
	}
	if deps.NewPeerConnection == nil {
		deps.NewPeerConnection = defaultPeerConnectionFactory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		phase:   PhaseUninitialized,
		conn:    ConnectionNew,
		updates: make(chan Snapshot, 1),
	}
}

// NewFromConfig wires a client to the websocket relay and STUN servers in cc.
func NewFromConfig(cc *config.ClientConfig, devices media.Devices, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return New(Config{
		ICEServers:         cc.ICEServers(),
		NegotiationTimeout: cc.NegotiationTimeout,
	}, Dependencies{
		Devices:   devices,
		DialRelay: SignalingDialer(cc, logger),
	}, logger)
}

func defaultPeerConnectionFactory(cfg webrtc.Configuration) (PeerConnection, error) {
	api, err := NewAPI(webrtc.SettingEngine{})
	if err != nil {
		return nil, err
	}
	return PionFactory(api)(cfg)
}

// Initialize opens local media, creates the peer connection and joins the
// relay room for callID. It is a no-op while a call is already set up. A call
// that has failed is released and replaced. When Initialize fails, everything
// it opened is released again and the failure stays visible in Snapshot.
func (c *Client) Initialize(ctx context.Context, callID string, isInitiator bool) error {
	if strings.TrimSpace(callID) == "" {
		return errors.New("call id is required")
	}

	c.mu.Lock()
	if c.sess != nil && c.phase != PhaseFailed {
		c.mu.Unlock()
		return nil
	}
	previous := c.sess
	s := &session{
		callID:    callID,
		initiator: isInitiator,
		events:    newEventQueue(),
		remote:    &media.RemoteStream{},
	}
	c.sess = s
	c.resetLocked()
	c.mu.Unlock()

	if previous != nil {
		c.release(previous)
	}

	var stream *media.Stream
	var err error
	if c.deps.Devices == nil {
		err = media.ErrDeviceNotFound
	} else {
		stream, err = c.deps.Devices.GetUserMedia(ctx, c.cfg.Constraints)
	}

	var abandoned *session
	defer func() {
		if abandoned != nil {
			c.release(abandoned)
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != s {
		if stream != nil {
			stream.Stop()
		}
		return fmt.Errorf("%w: call ended during setup", ErrNotInitialized)
	}
	defer c.publishLocked()

	logger := c.logger.With("call_id", callID)
	abandon := func(err error) error {
		c.failLocked(err)
		c.sess = nil
		abandoned = s
		return err
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMediaAccess, err)
		logger.Warn("local media unavailable", "err", err)
		return abandon(err)
	}
	s.local = stream

	if err := c.createPeerLocked(s); err != nil {
		err = fmt.Errorf("%w: create peer connection: %w", ErrConnectionFailed, err)
		logger.Error("peer connection setup failed", "err", err)
		return abandon(err)
	}

	if c.deps.DialRelay == nil {
		return abandon(fmt.Errorf("%w: no relay configured", ErrRelayTransport))
	}
	relay, err := c.deps.DialRelay(callID, RelayEvents{
		OnMessage: func(raw []byte) {
			c.post(s, func() { c.handleRelayMessageLocked(s, raw) })
		},
		OnStateChange: func(state signaling.State, err error) {
			c.post(s, func() { c.handleRelayStateLocked(s, state, err) })
		},
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRelayTransport, err)
		logger.Error("relay dial failed", "err", err)
		return abandon(err)
	}
	s.relay = relay

	c.phase = PhaseAwaitingPeer
	logger.Info("call initialized", "initiator", isInitiator)
	return nil
}

// createPeerLocked builds a peer connection, hooks its callbacks and adds
// every local track to it.
func (c *Client) createPeerLocked(s *session) error {
	pc, err := c.deps.NewPeerConnection(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		c.post(s, func() {
			if s.pc != pc {
				return
			}
			if err := c.sendLocked(s, models.NewICECandidate(init)); err != nil {
				c.logger.Warn("send local candidate failed", "call_id", s.callID, "err", err)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.post(s, func() { c.handleConnectionStateLocked(s, pc, state) })
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.post(s, func() {
			if s.pc != pc {
				return
			}
			s.remote.Add(track)
			c.logger.Info("remote track received", "call_id", s.callID, "kind", track.Kind().String())
		})
	})

	s.videoSender = nil
	for _, track := range s.local.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo && s.videoSender == nil {
			s.videoSender = sender
		}
	}

	s.pc = pc
	return nil
}

// Cleanup ends the call: local tracks are stopped, the peer and relay
// connections are closed and all negotiation state is discarded. It may be
// called any number of times, including before Initialize.
func (c *Client) Cleanup() error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.resetLocked()
	c.publishLocked()
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	c.release(s)
	c.logger.Info("call cleaned up", "call_id", s.callID)
	return nil
}

// release closes everything s holds. s must already be detached from c.
func (c *Client) release(s *session) {
	s.events.stop()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.detectCancel != nil {
		s.detectCancel()
	}
	if s.local != nil {
		s.local.Stop()
	}
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			c.logger.Debug("close peer connection", "call_id", s.callID, "err", err)
		}
	}
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			c.logger.Debug("close relay", "call_id", s.callID, "err", err)
		}
	}
	s.pending = nil
	s.negotiating = false
	s.offerCreated = false
}

// Updates delivers the latest Snapshot after every change. Intermediate
// snapshots are dropped if the reader falls behind.
func (c *Client) Updates() <-chan Snapshot {
	return c.updates
}

// Snapshot returns the current call state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SendAISettings shares settings with the other participant as an
// ai-settings message.
func (c *Client) SendAISettings(settings any) error {
	msg, err := models.NewAISettings(settings)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendAIResults shares analysis results as an ai-results message.
func (c *Client) SendAIResults(results any) error {
	msg, err := models.NewAIResults(results)
	if err != nil {
		return err
	}
	return c.send(msg)
}

func (c *Client) send(msg models.SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNotInitialized
	}
	return c.sendLocked(c.sess, msg)
}

func (c *Client) sendLocked(s *session, msg models.SignalMessage) error {
	if s.relay == nil {
		return ErrNotInitialized
	}
	if err := s.relay.Send(msg); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrRelayTransport, msg.Type, err)
	}
	return nil
}

// post runs fn on the session's event goroutine, under the client lock, as
// long as s is still the active session.
func (c *Client) post(s *session, fn func()) {
	s.events.post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sess != s {
			return
		}
		fn()
		c.publishLocked()
	})
}

func (c *Client) resetLocked() {
	c.phase = PhaseUninitialized
	c.conn = ConnectionNew
	c.err = nil
	c.peerSettings = nil
	c.peerResults = nil
}

func (c *Client) failLocked(err error) {
	c.phase = PhaseFailed
	c.conn = ConnectionFailed
	c.err = err
	if c.sess != nil {
		c.stopTimerLocked(c.sess)
	}
}

func (c *Client) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:           c.phase,
		ConnectionState: c.conn,
		Err:             c.err,
		PeerAISettings:  c.peerSettings,
		PeerAIResults:   c.peerResults,
	}
	if s := c.sess; s != nil {
		snap.LocalStream = s.local
		snap.RemoteStream = s.remote
		snap.RemotePeerID = s.remotePeerID
	}
	return snap
}

func (c *Client) publishLocked() {
	snap := c.snapshotLocked()
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

func (c *Client) armTimerLocked(s *session) {
	if c.cfg.NegotiationTimeout <= 0 || s.timer != nil {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(c.cfg.NegotiationTimeout, func() {
		c.post(s, func() {
			if s.timerGen != gen || c.phase != PhaseNegotiating {
				return
			}
			s.timer = nil
			c.logger.Warn("negotiation timed out", "call_id", s.callID, "after", c.cfg.NegotiationTimeout)
			c.failLocked(ErrNegotiationTimeout)
		})
	})
}

func (c *Client) stopTimerLocked(s *session) {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
