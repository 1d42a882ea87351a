package negotiation

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/callrelay/internal/models"
)

// DetectFunc runs one detection pass over the local video and returns
// results to share with the peer.
type DetectFunc func(ctx context.Context) (any, error)

// StartDetection runs detect every interval and sends each result to the
// peer as ai-results. The loop belongs to the current call: starting again
// replaces it, and StopDetection or Cleanup ends it.
func (c *Client) StartDetection(interval time.Duration, detect DetectFunc) error {
	if interval <= 0 {
		return errors.New("detection interval must be positive")
	}
	if detect == nil {
		return errors.New("detect func is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil {
		return ErrNotInitialized
	}
	if s.detectCancel != nil {
		s.detectCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.detectCancel = cancel

	go c.detectLoop(ctx, s, interval, detect)
	return nil
}

// StopDetection cancels the running detection loop, if any.
func (c *Client) StopDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.sess; s != nil && s.detectCancel != nil {
		s.detectCancel()
		s.detectCancel = nil
	}
}

func (c *Client) detectLoop(ctx context.Context, s *session, interval time.Duration, detect DetectFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		results, err := detect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Debug("detection pass failed", "call_id", s.callID, "err", err)
			continue
		}
		if err := c.sendDetection(ctx, s, results); err != nil {
			c.logger.Debug("detection results not sent", "call_id", s.callID, "err", err)
		}
	}
}

func (c *Client) sendDetection(ctx context.Context, s *session, results any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s || ctx.Err() != nil {
		return ErrNotInitialized
	}
	msg, err := models.NewAIResults(results)
	if err != nil {
		return err
	}
	return c.sendLocked(s, msg)
}
