package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrTrackStopped is returned when writing to a stopped track.
var ErrTrackStopped = errors.New("track stopped")

// FacingMode selects the front or back camera.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Opposite returns the other camera direction.
func (f FacingMode) Opposite() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Track is a local media track that can be attached to a peer connection and
// stopped once the call is over.
type Track interface {
	webrtc.TrackLocal
	Stop()
	Stopped() bool
}

// SampleTrack is fed with encoded samples by the capture pipeline.
type SampleTrack struct {
	*webrtc.TrackLocalStaticSample
	facing   FacingMode
	stopOnce sync.Once
	stopped  atomic.Bool
}

// NewSampleTrack creates a VP8 video or Opus audio track.
func NewSampleTrack(kind webrtc.RTPCodecType, id, streamID string, facing FacingMode) (*SampleTrack, error) {
	var codec webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	case webrtc.RTPCodecTypeAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		return nil, errors.New("unsupported track kind")
	}

	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &SampleTrack{TrackLocalStaticSample: local, facing: facing}, nil
}

// Facing is empty for audio tracks.
func (t *SampleTrack) Facing() FacingMode {
	return t.facing
}

// Stop ends the track. Further writes fail with ErrTrackStopped.
func (t *SampleTrack) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
	})
}

// Stopped reports whether Stop has been called.
func (t *SampleTrack) Stopped() bool {
	return t.stopped.Load()
}

// WriteSample forwards a media sample to every bound peer connection.
func (t *SampleTrack) WriteSample(sample pionmedia.Sample) error {
	if t.Stopped() {
		return ErrTrackStopped
	}
	return t.TrackLocalStaticSample.WriteSample(sample)
}
