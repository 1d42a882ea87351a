package negotiation

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of *webrtc.PeerConnection the client drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Sender is the outgoing side of one local track.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

// PeerConnectionFactory creates a peer connection for one call session.
type PeerConnectionFactory func(cfg webrtc.Configuration) (PeerConnection, error)

// NewAPI builds a pion API with the default codecs and interceptors (NACK,
// RTCP reports) registered.
func NewAPI(se webrtc.SettingEngine) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// PionFactory returns a factory backed by api.
func PionFactory(api *webrtc.API) PeerConnectionFactory {
	return func(cfg webrtc.Configuration) (PeerConnection, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return pionPeer{pc}, nil
	}
}

type pionPeer struct {
	*webrtc.PeerConnection
}

// AddTrack adds track and drains RTCP from its sender until the connection closes.
func (p pionPeer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := p.PeerConnection.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Incoming RTCP must be drained for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return sender, nil
}
