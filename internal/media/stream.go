package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Stream is the set of local tracks captured for a call.
type Stream struct {
	id     string
	mu     sync.Mutex
	tracks []Track
}

// NewStream groups tracks under id.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

// ID returns the stream id.
func (s *Stream) ID() string {
	return s.id
}

// Tracks returns a copy of the current tracks in the order they were added.
func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []Track {
	return s.byKind(webrtc.RTPCodecTypeVideo)
}

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []Track {
	return s.byKind(webrtc.RTPCodecTypeAudio)
}

func (s *Stream) byKind(kind webrtc.RTPCodecType) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// AddTrack appends t to the stream.
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// RemoveTrack reports whether t was part of the stream.
func (s *Stream) RemoveTrack(t Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tracks {
		if existing == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

// Stop stops every track in the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// RemoteStream collects the tracks received from the other party.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

// Add records a track received from the other participant.
func (r *RemoteStream) Add(track *webrtc.TrackRemote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, track)
}

// Tracks returns the received tracks in arrival order.
func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), r.tracks...)
}

// Len returns the number of received tracks.
func (r *RemoteStream) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}
