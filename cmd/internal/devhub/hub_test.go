package devhub

import (
	"io"
	"log/slog"
	"testing"

	v1 "aifshop/contracts/hub/v1"

	"github.com/stretchr/testify/assert"
)

func TestHubPublishDeliversOncePerPeer(t *testing.T) {
	t.Parallel()

	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	a := NewPeer("a", "u1", 4)
	b := NewPeer("b", "u2", 4)
	h.Register(a)
	h.Register(b)
	h.Join("C1", a)

	// a is selected by room and by user; it must get a single copy.
	n := h.Publish(Fanout{Rooms: []string{"C1"}, Users: []string{"u1"}}, v1.Envelope{V: v1.Version, Type: v1.TypeEvent})
	assert.Equal(t, 1, n)
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 0)
}

func TestHubUnregisterLeavesRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := NewPeer("a", "u1", 4)
	h.Register(p)
	h.Join("C1", p)
	h.Join("C2", p)

	h.Unregister(p)

	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 0, h.Members("C1"))
	assert.Equal(t, 0, h.Members("C2"))
	select {
	case <-p.Done():
	default:
		t.Fatal("peer not closed")
	}
	assert.False(t, p.offer(v1.Envelope{}), "closed peer accepts no envelopes")
}

func TestPeerOfferDropsWhenFull(t *testing.T) {
	t.Parallel()

	p := NewPeer("a", "u1", 1)
	assert.True(t, p.offer(v1.Envelope{}))
	assert.False(t, p.offer(v1.Envelope{}))
}
