package negotiation

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/signaling"
)

// HandleSignalingMessage applies one raw relay message to the call. Messages
// delivered by the relay connection go through the same path, so this is
// only needed when signaling arrives by other means.
func (c *Client) HandleSignalingMessage(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil {
		return ErrNotInitialized
	}
	err := c.handleLocked(s, raw)
	c.publishLocked()
	return err
}

func (c *Client) handleRelayMessageLocked(s *session, raw []byte) {
	if err := c.handleLocked(s, raw); err != nil && !errors.Is(err, ErrNotInitialized) {
		c.logger.Debug("signaling message not applied", "call_id", s.callID, "err", err)
	}
}

func (c *Client) handleLocked(s *session, raw []byte) error {
	if s.pc == nil {
		return ErrNotInitialized
	}
	if c.phase == PhaseFailed {
		c.logger.Debug("call failed, ignoring signaling", "call_id", s.callID)
		return nil
	}

	msg, err := models.ParseSignalMessage(raw)
	if err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: malformed message: %w", ErrNegotiation, err))
	}

	switch msg.Type {
	case models.SignalTypePeerJoined:
		return c.onPeerJoinedLocked(s, msg)
	case models.SignalTypeOffer:
		return c.onOfferLocked(s, msg)
	case models.SignalTypeAnswer:
		return c.onAnswerLocked(s, msg)
	case models.SignalTypeICECandidate:
		return c.onRemoteCandidateLocked(s, *msg.Candidate)
	case models.SignalTypePeerDisconnected:
		return c.onPeerDisconnectedLocked(s, msg)
	case models.SignalTypeAISettings:
		c.peerSettings = msg.Settings
	case models.SignalTypeAIResults:
		c.peerResults = msg.Results
	case models.SignalTypeError:
		if msg.Code == models.ErrorCodeRoomFull {
			err := fmt.Errorf("%w: %s", ErrRoomFull, msg.Message)
			c.logger.Warn("relay rejected call", "call_id", s.callID, "err", err)
			c.failLocked(err)
			return err
		}
		c.err = fmt.Errorf("%w: relay error %s: %s", ErrRelayTransport, msg.Code, msg.Message)
	default:
		c.logger.Info("ignoring unknown signaling message", "call_id", s.callID, "type", string(msg.Type))
	}
	return nil
}

func (c *Client) onPeerJoinedLocked(s *session, msg models.SignalMessage) error {
	s.remotePeerID = msg.PeerID
	if s.peerGone {
		s.peerGone = false
		if s.stale && c.conn == ConnectionConnected {
			// Media never stopped, so this is the same endpoint back on the
			// relay under a new id. Nothing to renegotiate.
			c.logger.Info("peer rejoined relay, keeping connection", "call_id", s.callID, "peer_id", msg.PeerID)
			c.phase = PhaseConnected
			c.err = nil
			return nil
		}
	}
	if !s.initiator {
		return nil
	}
	return c.offerLocked(s)
}

// offerLocked starts a negotiation from the initiator side unless one is
// already under way.
func (c *Client) offerLocked(s *session) error {
	if s.offerCreated || s.negotiating {
		c.logger.Debug("duplicate peer-joined ignored", "call_id", s.callID, "peer_id", s.remotePeerID)
		return nil
	}
	if state := s.pc.SignalingState(); state != webrtc.SignalingStateStable {
		c.logger.Debug("peer-joined while not stable", "call_id", s.callID, "signaling_state", state.String())
		return nil
	}

	s.negotiating = true
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: create offer: %w", ErrNegotiation, err))
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: set local offer: %w", ErrNegotiation, err))
	}
	if err := c.sendLocked(s, models.NewOffer(offer)); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: %w", ErrNegotiation, err))
	}
	s.offerCreated = true

	c.logger.Info("offer sent", "call_id", s.callID, "peer_id", s.remotePeerID)
	c.enterNegotiatingLocked(s)
	return nil
}

func (c *Client) onOfferLocked(s *session, msg models.SignalMessage) error {
	s.negotiating = true
	if err := s.pc.SetRemoteDescription(*msg.Offer); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: set remote offer: %w", ErrNegotiation, err))
	}
	drainErr := c.drainCandidatesLocked(s)

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: create answer: %w", ErrNegotiation, err))
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: set local answer: %w", ErrNegotiation, err))
	}
	if err := c.sendLocked(s, models.NewAnswer(answer)); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: %w", ErrNegotiation, err))
	}
	s.negotiating = false

	c.logger.Info("answer sent", "call_id", s.callID)
	c.enterNegotiatingLocked(s)
	if drainErr != nil {
		return c.negotiationErrorLocked(s, drainErr)
	}
	return nil
}

func (c *Client) onAnswerLocked(s *session, msg models.SignalMessage) error {
	if err := s.pc.SetRemoteDescription(*msg.Answer); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: set remote answer: %w", ErrNegotiation, err))
	}
	s.negotiating = false
	c.logger.Info("answer applied", "call_id", s.callID)
	c.enterNegotiatingLocked(s)
	if err := c.drainCandidatesLocked(s); err != nil {
		return c.negotiationErrorLocked(s, err)
	}
	return nil
}

func (c *Client) onRemoteCandidateLocked(s *session, candidate webrtc.ICECandidateInit) error {
	if s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, candidate)
		return nil
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		return c.negotiationErrorLocked(s, fmt.Errorf("%w: add candidate: %w", ErrNegotiation, err))
	}
	return nil
}

// drainCandidatesLocked applies buffered candidates in arrival order. The
// buffer is emptied even when some of them fail.
func (c *Client) drainCandidatesLocked(s *session) error {
	pending := s.pending
	s.pending = nil

	var errs []error
	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d buffered candidates rejected: %w", ErrNegotiation, len(errs), len(pending), errors.Join(errs...))
	}
	return nil
}

// onPeerDisconnectedLocked keeps local media running. An established peer
// connection is kept as long as its transport holds, because media does not
// pass through the relay and the peer may only have lost its relay socket.
// Anything else is swapped for a fresh connection so the next participant can
// join the same call.
func (c *Client) onPeerDisconnectedLocked(s *session, msg models.SignalMessage) error {
	c.logger.Info("peer disconnected", "call_id", s.callID, "peer_id", msg.PeerID)

	c.stopTimerLocked(s)
	c.phase = PhaseDisconnected
	c.err = ErrPeerDisconnected
	s.remotePeerID = ""
	s.peerGone = true

	if c.conn == ConnectionConnected {
		s.stale = true
		return nil
	}
	c.conn = ConnectionDisconnected
	return c.rebuildPeerLocked(s)
}

// rebuildPeerLocked closes the current peer connection and replaces it with
// a new one carrying the same local tracks.
func (c *Client) rebuildPeerLocked(s *session) error {
	old := s.pc
	s.pc = nil
	if err := old.Close(); err != nil {
		c.logger.Debug("close peer connection", "call_id", s.callID, "err", err)
	}
	s.pending = nil
	s.negotiating = false
	s.offerCreated = false
	s.stale = false
	s.remote = &media.RemoteStream{}

	if err := c.createPeerLocked(s); err != nil {
		err = fmt.Errorf("%w: rebuild peer connection: %w", ErrConnectionFailed, err)
		c.logger.Error("peer connection rebuild failed", "call_id", s.callID, "err", err)
		c.failLocked(err)
		return err
	}
	return nil
}

// recoverStaleLocked replaces a kept connection whose transport went down
// after its peer left the relay. If someone is in the room by then, the
// initiator offers to them right away.
func (c *Client) recoverStaleLocked(s *session, state webrtc.PeerConnectionState) {
	c.logger.Info("kept connection lost its transport", "call_id", s.callID, "state", state.String())
	c.conn = ConnectionDisconnected
	if err := c.rebuildPeerLocked(s); err != nil {
		return
	}
	if s.remotePeerID == "" {
		c.phase = PhaseDisconnected
		c.err = ErrPeerDisconnected
		return
	}
	c.phase = PhaseAwaitingPeer
	c.err = nil
	if s.initiator {
		_ = c.offerLocked(s)
	}
}

func (c *Client) enterNegotiatingLocked(s *session) {
	if c.phase == PhaseConnected {
		return
	}
	c.phase = PhaseNegotiating
	if c.conn == ConnectionNew || c.conn == ConnectionDisconnected {
		c.conn = ConnectionConnecting
	}
	c.armTimerLocked(s)
}

// negotiationErrorLocked records a recoverable failure and clears the offer
// guards so a later peer-joined can retry.
func (c *Client) negotiationErrorLocked(s *session, err error) error {
	c.logger.Warn("negotiation error", "call_id", s.callID, "err", err)
	s.negotiating = false
	s.offerCreated = false
	c.err = err
	return err
}

func (c *Client) handleConnectionStateLocked(s *session, pc PeerConnection, state webrtc.PeerConnectionState) {
	if s.pc != pc {
		return
	}
	cs, ok := connectionStateFrom(state)
	if !ok {
		return
	}
	c.logger.Info("peer connection state changed", "call_id", s.callID, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.stopTimerLocked(s)
		c.conn = cs
		c.phase = PhaseConnected
		c.err = nil
	case webrtc.PeerConnectionStateFailed:
		if s.stale {
			c.recoverStaleLocked(s, state)
			return
		}
		c.failLocked(ErrConnectionFailed)
	case webrtc.PeerConnectionStateDisconnected:
		if s.stale && s.peerGone {
			c.recoverStaleLocked(s, state)
			return
		}
		if c.phase != PhaseFailed {
			c.conn = cs
		}
	default:
		if c.phase != PhaseFailed {
			c.conn = cs
		}
	}
}

func (c *Client) handleRelayStateLocked(s *session, state signaling.State, err error) {
	switch state {
	case signaling.StateConnected:
		if errors.Is(c.err, ErrRelayTransport) {
			c.err = nil
		}
	case signaling.StateDisconnected:
		if err != nil && c.err == nil {
			c.err = fmt.Errorf("%w: %w", ErrRelayTransport, err)
		}
	case signaling.StateClosed:
		switch {
		case errors.Is(err, signaling.ErrRejected):
			if !errors.Is(c.err, ErrRoomFull) {
				c.failLocked(fmt.Errorf("%w: %w", ErrRoomFull, err))
			}
		case errors.Is(err, signaling.ErrRemoteClosed):
			c.logger.Info("relay closed the call", "call_id", s.callID)
			c.stopTimerLocked(s)
			if c.phase != PhaseFailed {
				c.phase = PhaseDisconnected
				c.err = fmt.Errorf("%w: %w", ErrRelayTransport, err)
			}
		}
	}
}
