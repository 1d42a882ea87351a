package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("requested device not found")
)

// Constraints describe the media requested from Devices.
type Constraints struct {
	Audio      bool
	Video      bool
	FacingMode FacingMode
}

// Devices acquires local capture tracks.
type Devices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// SampleDevices hands out SampleTracks for the configured cameras and
// microphone. The caller's encoder writes into the returned tracks.
type SampleDevices struct {
	mu         sync.Mutex
	cameras    []FacingMode
	microphone bool
	denied     bool
}

// NewSampleDevices returns devices with an optional microphone and one camera
// per facing mode given. Permission starts granted.
func NewSampleDevices(microphone bool, cameras ...FacingMode) *SampleDevices {
	return &SampleDevices{cameras: cameras, microphone: microphone}
}

// SetPermission toggles whether capture is allowed.
func (d *SampleDevices) SetPermission(allowed bool) {
	d.mu.Lock()
	d.denied = !allowed
	d.mu.Unlock()
}

// GetUserMedia opens a stream with one track per requested kind.
func (d *SampleDevices) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, errors.New("at least one of audio or video must be requested")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.denied {
		return nil, ErrPermissionDenied
	}

	streamID := uuid.New().String()
	stream := NewStream(streamID)

	if c.Video {
		facing, err := d.pickCamera(c.FacingMode)
		if err != nil {
			return nil, err
		}
		track, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, "video-"+uuid.New().String(), streamID, facing)
		if err != nil {
			return nil, err
		}
		stream.AddTrack(track)
	}

	if c.Audio {
		if !d.microphone {
			return nil, fmt.Errorf("microphone: %w", ErrDeviceNotFound)
		}
		track, err := NewSampleTrack(webrtc.RTPCodecTypeAudio, "audio-"+uuid.New().String(), streamID, "")
		if err != nil {
			return nil, err
		}
		stream.AddTrack(track)
	}

	return stream, nil
}

func (d *SampleDevices) pickCamera(want FacingMode) (FacingMode, error) {
	if len(d.cameras) == 0 {
		return "", fmt.Errorf("camera: %w", ErrDeviceNotFound)
	}
	if want == "" {
		return d.cameras[0], nil
	}
	for _, f := range d.cameras {
		if f == want {
			return f, nil
		}
	}
	return "", fmt.Errorf("camera facing %s: %w", want, ErrDeviceNotFound)
}
