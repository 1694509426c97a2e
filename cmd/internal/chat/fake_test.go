package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"aifshop/cmd/internal/restapi"
	v1 "aifshop/contracts/hub/v1"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id, conv string, sec int) v1.Message {
	return v1.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "u-seller",
		Content:        "content " + id,
		Type:           v1.MessageText,
		CreatedAt:      t0.Add(time.Duration(sec) * time.Second),
	}
}

func summary(id string, unread int) v1.ConversationSummary {
	return v1.ConversationSummary{ID: id, UnreadCount: unread, LastMessageContent: "last " + id}
}

// fakeAPI is an in-memory API. Responses are set per test; calls are counted.
type fakeAPI struct {
	mu sync.Mutex

	list    []v1.ConversationSummary
	details map[string]v1.ConversationDetail
	unread  int
	read    map[string]v1.MessagesRead
	listErr   error
	sendErr   error
	unreadErr error

	// listGate, when set, blocks ListConversations until closed.
	listGate chan struct{}

	calls map[string]int
	sent  []v1.SendMessageRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		details: make(map[string]v1.ConversationDetail),
		read:    make(map[string]v1.MessagesRead),
		calls:   make(map[string]int),
	}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) setList(items ...v1.ConversationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = items
}

func (f *fakeAPI) setDetail(id string, msgs ...v1.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[id] = v1.ConversationDetail{Conversation: v1.ConversationSummary{ID: id}, Messages: msgs, Page: 1}
}

func (f *fakeAPI) setUnread(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = n
}

func (f *fakeAPI) ListConversations(ctx context.Context, p restapi.ListParams) (v1.ConversationPage, error) {
	f.mu.Lock()
	f.calls["list"]++
	gate := f.listGate
	items := append([]v1.ConversationSummary(nil), f.list...)
	err := f.listErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return v1.ConversationPage{}, ctx.Err()
		}
	}
	if err != nil {
		return v1.ConversationPage{}, err
	}
	return v1.ConversationPage{Items: items, Page: 1, PageSize: p.PageSize, TotalCount: len(items)}, nil
}

func (f *fakeAPI) GetConversation(_ context.Context, id string, p restapi.PageParams) (v1.ConversationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	d, ok := f.details[id]
	if !ok {
		return v1.ConversationDetail{}, &restapi.APIError{StatusCode: 404, Message: "conversation not found"}
	}
	for _, cur := range f.list {
		if cur.ID == id {
			d.Conversation = cur
		}
	}
	if p.Page > 1 {
		return v1.ConversationDetail{Conversation: d.Conversation, Page: p.Page}, nil
	}
	d.Messages = append([]v1.Message(nil), d.Messages...)
	return d, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req v1.SendMessageRequest) (v1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["send"]++
	if f.sendErr != nil {
		return v1.Message{}, f.sendErr
	}
	f.sent = append(f.sent, req)
	n := len(f.sent)
	return v1.Message{
		ID:             fmt.Sprintf("S%d", n),
		ConversationID: req.ConversationID,
		SenderID:       "u-buyer",
		Content:        req.Content,
		Type:           req.Type,
		CreatedAt:      t0.Add(time.Hour + time.Duration(n)*time.Second),
	}, nil
}

func (f *fakeAPI) MarkAsRead(_ context.Context, id string) (v1.MessagesRead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["read"]++
	ev, ok := f.read[id]
	if !ok {
		ev = v1.MessagesRead{ConversationID: id, ReaderID: "u-buyer", UnreadCounts: map[string]int{"u-buyer": 0}}
	}
	return ev, nil
}

func (f *fakeAPI) UpdatePreferences(_ context.Context, id string, u v1.PreferencesUpdate) (v1.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["prefs"]++
	s := v1.ConversationSummary{ID: id}
	for _, cur := range f.list {
		if cur.ID == id {
			s = cur
		}
	}
	if u.IsMuted != nil {
		s.IsMuted = *u.IsMuted
	}
	if u.IsArchived != nil {
		s.IsArchived = *u.IsArchived
	}
	if u.IsBlocked != nil {
		s.IsBlocked = *u.IsBlocked
	}
	return s, nil
}

func (f *fakeAPI) UnreadCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["unread"]++
	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	return f.unread, nil
}

// fakeRealtime records what the store asks of the push connection.
type fakeRealtime struct {
	mu      sync.Mutex
	enabled []bool
	joins   []string
	leaves  []string
}

func (r *fakeRealtime) SetEnabled(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = append(r.enabled, v)
}

func (r *fakeRealtime) JoinConversation(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, id)
}

func (r *fakeRealtime) LeaveConversation(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, id)
}

func (r *fakeRealtime) snapshot() (enabled []bool, joins, leaves []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.enabled...), append([]string(nil), r.joins...), append([]string(nil), r.leaves...)
}

type fakeSession struct {
	mu     sync.Mutex
	authed bool
}

func (s *fakeSession) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *fakeSession) UserID() string { return "u-buyer" }

func (s *fakeSession) set(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authed = v
}

// newTestStore returns an enabled store with polling off unless opts says otherwise.
func newTestStore(t *testing.T, api *fakeAPI, opts Options) *Store {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = -1
	}
	if opts.UserID == "" && opts.Session == nil {
		opts.UserID = "u-buyer"
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(api, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, s.Close(ctx))
	})
	s.Enable()
	if opts.PollInterval < 0 {
		waitIdle(t, s)
	}
	return s
}

// waitIdle waits for background work: the initial refresh and push-triggered
// refreshes. Only valid with polling off.
func waitIdle(t *testing.T, s *Store) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background work did not finish")
	}
}

func requireSortedUnique(t *testing.T, msgs []v1.Message) {
	t.Helper()
	seen := make(map[string]bool, len(msgs))
	for i, m := range msgs {
		require.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			require.True(t, msgs[i-1].Before(m), "%s must sort before %s", msgs[i-1].ID, m.ID)
		}
	}
}
