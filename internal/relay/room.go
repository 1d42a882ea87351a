package relay

import (
	"encoding/json"
	"sync"

	"github.com/mossy-p/callrelay/internal/models"
)

// Room holds the members of one call. All membership changes and fan-out
// happen under mu, so each event is applied atomically.
type Room struct {
	ID    string
	mu    sync.Mutex
	peers map[string]*Peer
}

func newRoom(id string) *Room {
	return &Room{
		ID:    id,
		peers: make(map[string]*Peer),
	}
}

func (r *Room) join(p *Peer, capacity int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.peers) >= capacity {
		return len(r.peers), ErrRoomFull
	}
	r.peers[p.ID] = p
	p.room = r

	r.broadcastLocked(mustMarshal(models.NewPeerJoined(p.ID)), p.ID)
	return len(r.peers), nil
}

// leave removes p and tells the remaining members. The peer's send channel is
// closed while holding the lock, so nothing can be queued for it afterwards.
func (r *Room) leave(p *Peer) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.peers[p.ID] != p {
		return len(r.peers), false
	}
	delete(r.peers, p.ID)
	close(p.send)

	r.broadcastLocked(mustMarshal(models.NewPeerDisconnected(p.ID)), p.ID)
	return len(r.peers), true
}

// broadcast forwards data to every member except the sender.
func (r *Room) broadcast(data []byte, excludePeerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(data, excludePeerID)
}

func (r *Room) broadcastLocked(data []byte, excludePeerID string) {
	for peerID, p := range r.peers {
		if peerID != excludePeerID {
			p.enqueue(data)
		}
	}
}

func (r *Room) memberIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

func (r *Room) snapshot() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

func mustMarshal(msg models.SignalMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
