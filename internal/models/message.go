package models

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType represents the type of a signaling message
type SignalType string

const (
	SignalTypeOffer            SignalType = "offer"
	SignalTypeAnswer           SignalType = "answer"
	SignalTypeICECandidate     SignalType = "ice-candidate"
	SignalTypePeerJoined       SignalType = "peer-joined"
	SignalTypePeerDisconnected SignalType = "peer-disconnected"
	SignalTypeAISettings       SignalType = "ai-settings"
	SignalTypeAIResults        SignalType = "ai-results"
	SignalTypeError            SignalType = "error"
)

// Error codes carried by relay-originated error messages.
const (
	ErrorCodeRoomFull = "room-full"
)

// Known reports whether the relay and clients recognise t.
func (t SignalType) Known() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate,
		SignalTypePeerJoined, SignalTypePeerDisconnected,
		SignalTypeAISettings, SignalTypeAIResults, SignalTypeError:
		return true
	}
	return false
}

// Envelope is the only part of a message the relay looks at.
type Envelope struct {
	Type SignalType `json:"type"`
}

// ParseEnvelope extracts the message type without interpreting the payload.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("message has no type")
	}
	return env, nil
}

// SignalMessage is the full client-side view of a signaling message
type SignalMessage struct {
	Type      SignalType                 `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	PeerID    string                     `json:"peerId,omitempty"`
	Settings  json.RawMessage            `json:"settings,omitempty"`
	Results   json.RawMessage            `json:"results,omitempty"`
	Code      string                     `json:"code,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

// ParseSignalMessage decodes and validates a message received from the relay.
// Unknown types decode successfully so callers can log and ignore them.
func ParseSignalMessage(data []byte) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalMessage{}, err
	}
	if err := msg.Validate(); err != nil {
		return SignalMessage{}, err
	}
	return msg, nil
}

// Validate checks that the payload required by the message type is present.
// Unknown types pass.
func (m SignalMessage) Validate() error {
	switch m.Type {
	case "":
		return fmt.Errorf("message has no type")
	case SignalTypeOffer:
		if m.Offer == nil || m.Offer.SDP == "" {
			return fmt.Errorf("offer message missing offer")
		}
		if m.Offer.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("offer message has sdp type %q", m.Offer.Type)
		}
	case SignalTypeAnswer:
		if m.Answer == nil || m.Answer.SDP == "" {
			return fmt.Errorf("answer message missing answer")
		}
		if m.Answer.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("answer message has sdp type %q", m.Answer.Type)
		}
	case SignalTypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
	case SignalTypePeerJoined, SignalTypePeerDisconnected:
		if m.PeerID == "" {
			return fmt.Errorf("%s message missing peerId", m.Type)
		}
	case SignalTypeAISettings:
		if len(m.Settings) == 0 {
			return fmt.Errorf("ai-settings message missing settings")
		}
	case SignalTypeAIResults:
		if len(m.Results) == 0 {
			return fmt.Errorf("ai-results message missing results")
		}
	}
	return nil
}

// NewOffer builds an offer message.
func NewOffer(desc webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Type: SignalTypeOffer, Offer: &desc}
}

// NewAnswer builds an answer message.
func NewAnswer(desc webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Type: SignalTypeAnswer, Answer: &desc}
}

// NewICECandidate builds an ice-candidate message.
func NewICECandidate(init webrtc.ICECandidateInit) SignalMessage {
	return SignalMessage{Type: SignalTypeICECandidate, Candidate: &init}
}

// NewPeerJoined builds the notice sent to existing members when peerID joins.
func NewPeerJoined(peerID string) SignalMessage {
	return SignalMessage{Type: SignalTypePeerJoined, PeerID: peerID}
}

// NewPeerDisconnected builds the notice sent to remaining members when peerID leaves.
func NewPeerDisconnected(peerID string) SignalMessage {
	return SignalMessage{Type: SignalTypePeerDisconnected, PeerID: peerID}
}

// NewError builds a relay error message.
func NewError(code, message string) SignalMessage {
	return SignalMessage{Type: SignalTypeError, Code: code, Message: message}
}

// NewAISettings wraps arbitrary JSON-encodable settings.
func NewAISettings(settings any) (SignalMessage, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("encode ai settings: %w", err)
	}
	return SignalMessage{Type: SignalTypeAISettings, Settings: raw}, nil
}

// NewAIResults marshals results into an ai-results message.
func NewAIResults(results any) (SignalMessage, error) {
	raw, err := json.Marshal(results)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("encode ai results: %w", err)
	}
	return SignalMessage{Type: SignalTypeAIResults, Results: raw}, nil
}
