package media

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleDevices_GetUserMedia(t *testing.T) {
	d := NewSampleDevices(true, FacingUser, FacingEnvironment)

	stream, err := d.GetUserMedia(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, stream.Tracks(), 2)

	video := stream.VideoTracks()
	require.Len(t, video, 1)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, video[0].Kind())
	assert.Equal(t, FacingUser, video[0].(*SampleTrack).Facing())
	assert.Equal(t, stream.ID(), video[0].StreamID())

	audio := stream.AudioTracks()
	require.Len(t, audio, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, audio[0].Kind())
}

func TestSampleDevices_Errors(t *testing.T) {
	tests := []struct {
		name    string
		devices func() *SampleDevices
		c       Constraints
		want    error
	}{
		{
			name: "permission denied",
			devices: func() *SampleDevices {
				d := NewSampleDevices(true, FacingUser)
				d.SetPermission(false)
				return d
			},
			c:    Constraints{Audio: true, Video: true},
			want: ErrPermissionDenied,
		},
		{
			name:    "no camera",
			devices: func() *SampleDevices { return NewSampleDevices(true) },
			c:       Constraints{Video: true},
			want:    ErrDeviceNotFound,
		},
		{
			name:    "missing facing mode",
			devices: func() *SampleDevices { return NewSampleDevices(true, FacingUser) },
			c:       Constraints{Video: true, FacingMode: FacingEnvironment},
			want:    ErrDeviceNotFound,
		},
		{
			name:    "no microphone",
			devices: func() *SampleDevices { return NewSampleDevices(false, FacingUser) },
			c:       Constraints{Audio: true, Video: true},
			want:    ErrDeviceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.devices().GetUserMedia(context.Background(), tt.c)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSampleDevices_RequiresSomeMedia(t *testing.T) {
	_, err := NewSampleDevices(true, FacingUser).GetUserMedia(context.Background(), Constraints{})
	assert.Error(t, err)
}

func TestSampleDevices_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSampleDevices(true, FacingUser).GetUserMedia(ctx, Constraints{Video: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_StopAndRemove(t *testing.T) {
	d := NewSampleDevices(true, FacingUser, FacingEnvironment)
	stream, err := d.GetUserMedia(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	old := stream.VideoTracks()[0]
	assert.True(t, stream.RemoveTrack(old))
	assert.False(t, stream.RemoveTrack(old))
	assert.Empty(t, stream.VideoTracks())
	assert.Len(t, stream.AudioTracks(), 1)

	stream.Stop()
	for _, tr := range stream.Tracks() {
		assert.True(t, tr.Stopped())
	}
	assert.False(t, old.Stopped())
}

func TestSampleTrack_WriteAfterStop(t *testing.T) {
	track, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, "video", "stream", FacingUser)
	require.NoError(t, err)

	// Unbound tracks accept samples and discard them.
	require.NoError(t, track.WriteSample(pionmedia.Sample{Data: []byte{0x01}, Duration: time.Millisecond}))

	track.Stop()
	track.Stop()
	assert.True(t, track.Stopped())
	assert.ErrorIs(t, track.WriteSample(pionmedia.Sample{Data: []byte{0x01}, Duration: time.Millisecond}), ErrTrackStopped)
}

func TestFacingMode_Opposite(t *testing.T) {
	assert.Equal(t, FacingEnvironment, FacingUser.Opposite())
	assert.Equal(t, FacingUser, FacingEnvironment.Opposite())
	assert.Equal(t, FacingEnvironment, FacingMode("").Opposite())
}
