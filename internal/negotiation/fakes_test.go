package negotiation

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
	err   error
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.track = track
	return nil
}

// fakePeer records every call the client makes, in order.
type fakePeer struct {
	mu             sync.Mutex
	calls          []string
	applied        []webrtc.ICECandidateInit
	tracks         []webrtc.TrackLocal
	senders        []*fakeSender
	remote         *webrtc.SessionDescription
	signaling      webrtc.SignalingState
	closed         int
	offerErr       error
	offersCreated  int
	onICECandidate func(*webrtc.ICECandidate)
	onState        func(webrtc.PeerConnectionState)
}

func newFakePeer() *fakePeer {
	return &fakePeer{signaling: webrtc.SignalingStateStable}
}

func (p *fakePeer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("add-track:" + track.Kind().String())
	p.tracks = append(p.tracks, track)
	s := &fakeSender{track: track}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create-offer")
	if p.offerErr != nil {
		err := p.offerErr
		p.offerErr = nil
		return webrtc.SessionDescription{}, err
	}
	p.offersCreated++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("set-local:" + desc.Type.String())
	if desc.Type == webrtc.SDPTypeOffer {
		p.signaling = webrtc.SignalingStateHaveLocalOffer
	} else {
		p.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("set-remote:" + desc.Type.String())
	p.remote = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		p.signaling = webrtc.SignalingStateHaveRemoteOffer
	} else {
		p.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("add-candidate:" + candidate.Candidate)
	if candidate.Candidate == "bad" {
		return errors.New("malformed candidate")
	}
	p.applied = append(p.applied, candidate)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICECandidate = f
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

func (p *fakePeer) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) fireState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(state)
}

func (p *fakePeer) fireCandidate(c *webrtc.ICECandidate) {
	p.mu.Lock()
	f := p.onICECandidate
	p.mu.Unlock()
	f(c)
}

func (p *fakePeer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.applied {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePeer) offerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offersCreated
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeRelay struct {
	mu     sync.Mutex
	callID string
	events RelayEvents
	sent   []models.SignalMessage
	closed int
}

func (r *fakeRelay) Send(msg models.SignalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeRelay) messages() []models.SignalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SignalMessage(nil), r.sent...)
}

func (r *fakeRelay) ofType(t models.SignalType) []models.SignalMessage {
	var out []models.SignalMessage
	for _, m := range r.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeRelay) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// harness wires a Client to fake peers and relays and real sample devices.
type harness struct {
	t       *testing.T
	client  *Client
	devices *media.SampleDevices

	mu      sync.Mutex
	dialErr error
	peers   []*fakePeer
	relays  []*fakeRelay
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, devices: media.NewSampleDevices(true, media.FacingUser, media.FacingEnvironment)}
	h.client = New(cfg, Dependencies{
		Devices: h.devices,
		NewPeerConnection: func(webrtc.Configuration) (PeerConnection, error) {
			p := newFakePeer()
			h.mu.Lock()
			h.peers = append(h.peers, p)
			h.mu.Unlock()
			return p, nil
		},
		DialRelay: func(callID string, events RelayEvents) (Relay, error) {
			r := &fakeRelay{callID: callID, events: events}
			h.mu.Lock()
			if h.dialErr != nil {
				h.mu.Unlock()
				return nil, h.dialErr
			}
			h.relays = append(h.relays, r)
			h.mu.Unlock()
			return r, nil
		},
	}, quietLogger())
	t.Cleanup(func() { _ = h.client.Cleanup() })
	return h
}

func (h *harness) peer() *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.peers)
	return h.peers[len(h.peers)-1]
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *harness) relay() *fakeRelay {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.relays)
	return h.relays[len(h.relays)-1]
}

func (h *harness) deliver(msg models.SignalMessage) error {
	h.t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(h.t, err)
	return h.client.HandleSignalingMessage(raw)
}

func candidate(s string) models.SignalMessage {
	idx := uint16(0)
	mid := "0"
	return models.NewICECandidate(webrtc.ICECandidateInit{Candidate: s, SDPMid: &mid, SDPMLineIndex: &idx})
}

// fakeFactory hands out fake peers for clients wired to a real relay.
type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) create(webrtc.Configuration) (PeerConnection, error) {
	p := newFakePeer()
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}
