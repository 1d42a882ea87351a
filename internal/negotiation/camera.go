package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/mossy-p/callrelay/internal/media"
)

type facer interface {
	Facing() media.FacingMode
}

// SwitchCamera swaps the outgoing video for the camera facing the other way.
// The sender's track is replaced in place, so no renegotiation happens. On
// failure the current camera keeps running.
func (c *Client) SwitchCamera(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.local == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if s.videoSender == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: call has no video", ErrCameraSwitch)
	}
	current := c.cfg.Constraints.FacingMode
	if videos := s.local.VideoTracks(); len(videos) > 0 {
		if f, ok := videos[0].(facer); ok {
			current = f.Facing()
		}
	}
	target := current.Opposite()
	c.mu.Unlock()

	stream, err := c.deps.Devices.GetUserMedia(ctx, media.Constraints{Video: true, FacingMode: target})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != s {
		if stream != nil {
			stream.Stop()
		}
		return ErrNotInitialized
	}
	defer c.publishLocked()

	if err == nil && len(stream.VideoTracks()) == 0 {
		stream.Stop()
		err = errors.New("no video track returned")
	}
	if err != nil {
		return c.cameraErrorLocked(s, fmt.Errorf("%w: %w", ErrCameraSwitch, err))
	}

	next := stream.VideoTracks()[0]
	if err := s.videoSender.ReplaceTrack(next); err != nil {
		stream.Stop()
		return c.cameraErrorLocked(s, fmt.Errorf("%w: replace track: %w", ErrCameraSwitch, err))
	}

	for _, old := range s.local.VideoTracks() {
		s.local.RemoveTrack(old)
		old.Stop()
	}
	s.local.AddTrack(next)

	c.logger.Info("camera switched", "call_id", s.callID, "facing", string(target))
	return nil
}

func (c *Client) cameraErrorLocked(s *session, err error) error {
	c.logger.Warn("camera switch failed", "call_id", s.callID, "err", err)
	c.err = err
	return err
}
