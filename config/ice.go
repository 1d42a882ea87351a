package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ParseSTUNServers builds the ICE server list handed to every peer connection.
//
// Only stun:/stuns: URLs are accepted; calls never relay media through TURN.
func ParseSTUNServers(urls []string) ([]webrtc.ICEServer, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one stun url is required")
	}
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			return nil, errors.New("urls must not contain empty entries")
		}
		if !isSTUNScheme(url) {
			return nil, fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	return []webrtc.ICEServer{{URLs: append([]string(nil), urls...)}}, nil
}

// ICEServers returns the parsed STUN servers. LoadClient has already validated them.
func (c *ClientConfig) ICEServers() []webrtc.ICEServer {
	servers, err := ParseSTUNServers(c.StunURLs)
	if err != nil {
		return nil
	}
	return servers
}

func isSTUNScheme(url string) bool {
	return strings.HasPrefix(url, "stun:") || strings.HasPrefix(url, "stuns:")
}
