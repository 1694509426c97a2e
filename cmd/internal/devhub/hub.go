package devhub

import (
	"log/slog"
	"sync"

	v1 "aifshop/contracts/hub/v1"
)

// Hub tracks connected peers and their conversation rooms.
//
// Rooms are joined explicitly with JoinConversation and hold the
// ReceiveMessage and MessagesRead fan-out. User fan-out reaches every peer
// of a user whether or not it joined anything.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
	rooms map[string]map[string]*Peer // conversation id -> peer id -> peer
}

// NewHub returns an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		peers: make(map[string]*Peer),
		rooms: make(map[string]map[string]*Peer),
	}
}

// Register adds p. A previous peer with the same id is closed and replaced.
func (h *Hub) Register(p *Peer) {
	if p == nil || p.ID == "" {
		return
	}
	h.mu.Lock()
	old := h.peers[p.ID]
	h.peers[p.ID] = p
	h.mu.Unlock()

	if old != nil && old != p {
		h.Unregister(old)
	}
	h.log.Info("devhub.peer.register", "connection_id", p.ID, "user_id", p.UserID)
}

// Unregister removes p from the hub and every room, then closes it.
func (h *Hub) Unregister(p *Peer) {
	if p == nil {
		return
	}

	h.mu.Lock()
	if h.peers[p.ID] == p {
		delete(h.peers, p.ID)
	}
	for id, room := range h.rooms {
		if room[p.ID] == p {
			delete(room, p.ID)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	h.mu.Unlock()

	// Membership is gone before the peer goroutines are told to stop.
	p.Close()
	h.log.Info("devhub.peer.unregister", "connection_id", p.ID)
}

// Join adds p to a conversation room.
func (h *Hub) Join(conversationID string, p *Peer) {
	h.mu.Lock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Peer)
		h.rooms[conversationID] = room
	}
	room[p.ID] = p
	h.mu.Unlock()

	h.log.Info("devhub.room.join", "conversation_id", conversationID, "connection_id", p.ID)
}

// Leave removes p from a conversation room.
func (h *Hub) Leave(conversationID string, p *Peer) {
	h.mu.Lock()
	if room := h.rooms[conversationID]; room != nil {
		delete(room, p.ID)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	h.mu.Unlock()

	h.log.Info("devhub.room.leave", "conversation_id", conversationID, "connection_id", p.ID)
}

// Members returns the number of peers in a room.
func (h *Hub) Members(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// DropAll closes every peer without removing room state first; the gateway
// unregisters each one as its connection ends.
func (h *Hub) DropAll() {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.Close()
	}
}

// Fanout picks the recipients of one envelope.
type Fanout struct {
	Rooms []string
	Users []string
}

// Publish delivers env once to every peer selected by f. It never blocks; a
// peer with a full queue misses the envelope.
func (h *Hub) Publish(f Fanout, env v1.Envelope) int {
	users := make(map[string]struct{}, len(f.Users))
	for _, u := range f.Users {
		users[u] = struct{}{}
	}

	h.mu.RLock()
	targets := make(map[string]*Peer)
	for _, id := range f.Rooms {
		for pid, p := range h.rooms[id] {
			targets[pid] = p
		}
	}
	if len(users) > 0 {
		for pid, p := range h.peers {
			if _, ok := users[p.UserID]; ok {
				targets[pid] = p
			}
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, p := range targets {
		if p.offer(env) {
			sent++
			continue
		}
		h.log.Debug("devhub.publish.drop", "connection_id", p.ID, "type", env.Type)
	}
	return sent
}
