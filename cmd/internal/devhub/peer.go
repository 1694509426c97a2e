package devhub

import (
	"sync"

	v1 "aifshop/contracts/hub/v1"
)

// Peer is one accepted hub connection.
//
// Send is never closed by the server so concurrent fan-out cannot panic;
// Close signals the connection goroutines through Done instead.
type Peer struct {
	ID     string
	UserID string
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer builds a Peer with a bounded send queue.
func NewPeer(id, userID string, sendQueueSize int) *Peer {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Peer{
		ID:     id,
		UserID: userID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done is closed when the peer is shutting down.
func (p *Peer) Done() <-chan struct{} {
	if p == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Close signals shutdown. Safe to call more than once.
func (p *Peer) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() { close(p.done) })
}

// offer queues env without blocking. A full queue drops the envelope.
func (p *Peer) offer(env v1.Envelope) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.Send <- env:
		return true
	default:
		return false
	}
}
