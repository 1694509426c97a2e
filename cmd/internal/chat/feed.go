package chat

import (
	"context"
	"log/slog"
	"sync"

	v1 "aifshop/contracts/hub/v1"

	"github.com/google/uuid"
)

const feedBufferSize = 64

// ChangeKind says what part of the store changed.
type ChangeKind uint8

const (
	// ChangeMessages: Messages(ConversationID) changed. Message is set when a
	// single new message was appended.
	ChangeMessages ChangeKind = iota + 1
	// ChangeConversations: the summary list changed.
	ChangeConversations
	// ChangeUnread: the total unread counter changed.
	ChangeUnread
	// ChangeReset: the store was disabled and its state discarded.
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMessages:
		return "messages"
	case ChangeConversations:
		return "conversations"
	case ChangeUnread:
		return "unread"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change is one entry of the store's change feed.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Message        *v1.Message
	Unread         int
}

// feed fans changes out to subscribers. Slow subscribers lose changes rather
// than block the store.
type feed struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]chan Change
}

func newFeed(log *slog.Logger) *feed {
	return &feed{log: log, subs: make(map[string]chan Change)}
}

func (f *feed) subscribe(ctx context.Context) <-chan Change {
	id := uuid.NewString()
	ch := make(chan Change, feedBufferSize)

	f.mu.Lock()
	if f.subs == nil {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	f.subs[id] = ch
	f.mu.Unlock()

	f.log.Debug("store.feed.subscribe", "sub_id", id)

	go func() {
		<-ctx.Done()
		f.unsubscribe(id)
	}()
	return ch
}

func (f *feed) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(ch)
}

func (f *feed) publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, ch := range f.subs {
		for _, c := range changes {
			select {
			case ch <- c:
			default:
				f.log.Debug("store.feed.drop", "sub_id", id, "kind", c.Kind.String())
			}
		}
	}
}

// close closes every subscriber channel; later subscribers get a closed channel.
func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	f.subs = nil
}
