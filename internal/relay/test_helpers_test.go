package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/callrelay/internal/models"
)

type fakePresence struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (f *fakePresence) AddPeer(_ context.Context, roomID, peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, roomID+"/"+peerID)
	return nil
}

func (f *fakePresence) RemovePeer(_ context.Context, roomID, peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, roomID+"/"+peerID)
	return nil
}

func (f *fakePresence) snapshot() (added, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...), append([]string(nil), f.removed...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, opts Options, presence Presence) (*Hub, string) {
	t.Helper()
	hub := NewHub(opts, presence, discardLogger())
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := hub.Attach(strings.TrimPrefix(r.URL.Path, "/"), conn); err != nil {
			RejectFull(conn, time.Second)
		}
	}))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base, roomID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/"+roomID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join dials and waits until the hub has registered the connection.
func join(t *testing.T, hub *Hub, base, roomID string, wantMembers int) *websocket.Conn {
	t.Helper()
	conn := dial(t, base, roomID)
	require.Eventually(t, func() bool {
		return len(hub.Members(roomID)) == wantMembers
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func readMessage(t *testing.T, conn *websocket.Conn) models.SignalMessage {
	t.Helper()
	var msg models.SignalMessage
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &msg))
	return msg
}

// expectSilence asserts that nothing arrives within d. The connection cannot be
// read from afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message: %s", data)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}
