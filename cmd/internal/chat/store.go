package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aifshop/cmd/internal/realtime"
	"aifshop/cmd/internal/restapi"
	v1 "aifshop/contracts/hub/v1"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPageSize        = 20
	DefaultMessagePageSize = 50
)

// API is the REST surface the store reads and writes through.
type API interface {
	ListConversations(ctx context.Context, p restapi.ListParams) (v1.ConversationPage, error)
	GetConversation(ctx context.Context, id string, p restapi.PageParams) (v1.ConversationDetail, error)
	SendMessage(ctx context.Context, req v1.SendMessageRequest) (v1.Message, error)
	MarkAsRead(ctx context.Context, id string) (v1.MessagesRead, error)
	UpdatePreferences(ctx context.Context, id string, u v1.PreferencesUpdate) (v1.ConversationSummary, error)
	UnreadCount(ctx context.Context) (int, error)
}

// Realtime is the push connection the store switches on and off and joins
// conversations through. *realtime.Controller implements it.
type Realtime interface {
	SetEnabled(enabled bool)
	JoinConversation(ctx context.Context, conversationID string)
	LeaveConversation(ctx context.Context, conversationID string)
}

// Authenticator reports whether requests can be made and on whose behalf.
// *session.Session implements it.
type Authenticator interface {
	Authenticated() bool
	UserID() string
}

// Options configure a Store. Zero values pick the defaults.
type Options struct {
	// Session gates loads and polls. Nil means always authenticated.
	Session Authenticator
	// UserID overrides Session.UserID for read-receipt handling.
	UserID string
	// Realtime is enabled and disabled together with the store. Optional.
	Realtime Realtime

	// PollInterval between polling rounds; negative disables polling.
	PollInterval    time.Duration
	PageSize        int
	MessagePageSize int

	// ResyncOnReconnect reloads conversations, the unread counter and the
	// open conversation after the hub reconnects.
	ResyncOnReconnect bool

	Metrics *Metrics
	Logger  *slog.Logger
}

// Store is the process-wide conversation state of one signed-in user.
type Store struct {
	api     API
	rt      Realtime
	auth    Authenticator
	userID  string
	opts    Options
	log     *slog.Logger
	metrics *Metrics
	feed    *feed

	// lifecycle serializes Enable, Disable and Close so Realtime sees them in order.
	lifecycle sync.Mutex
	bg        sync.WaitGroup

	mu        sync.Mutex
	enabled   bool
	closed    bool
	gen       uint64
	runCtx    context.Context
	cancelRun context.CancelFunc

	summaries []v1.ConversationSummary
	messages  map[string][]v1.Message
	pages     map[string]int  // oldest message page loaded per conversation
	hasMore   map[string]bool // older message pages exist
	unread    int
	open      string

	// seq orders fetches against read acknowledgments; ackSeq holds the seq of
	// each conversation's latest confirmed read.
	seq    uint64
	ackSeq map[string]uint64
}

var _ realtime.Handlers = (*Store)(nil)

// New builds a disabled Store.
func New(api API, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MessagePageSize <= 0 {
		opts.MessagePageSize = DefaultMessagePageSize
	}
	log := opts.Logger.With("component", "store")
	s := &Store{
		api:     api,
		rt:      opts.Realtime,
		auth:    opts.Session,
		userID:  strings.TrimSpace(opts.UserID),
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
		feed:    newFeed(log),
	}
	s.resetLocked()
	return s
}

// Enable starts the session: the push connection, polling and an initial
// load of conversations and the unread counter.
func (s *Store) Enable() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.enabled || s.closed {
		s.mu.Unlock()
		return
	}
	s.enabled = true
	s.gen++
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	if s.opts.PollInterval > 0 {
		s.goLocked(s.poll)
	}
	s.goLocked(func(ctx context.Context) { s.refresh(ctx, "enable") })
	s.mu.Unlock()

	s.log.Info("store.enable", "poll_interval", s.opts.PollInterval, "resync_on_reconnect", s.opts.ResyncOnReconnect)

	if s.rt != nil {
		s.rt.SetEnabled(true)
	}
}

// Disable stops the push connection and polling and discards all state.
// In-flight REST calls may finish but their results are dropped.
func (s *Store) Disable() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.disable()
}

func (s *Store) disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	s.gen++
	cancel := s.cancelRun
	s.runCtx = nil
	s.cancelRun = nil
	s.resetLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.rt != nil {
		s.rt.SetEnabled(false)
	}
	s.log.Info("store.disable")
	s.feed.publish(Change{Kind: ChangeReset})
}

// Close disables the store, waits for background work and closes every
// change feed. A closed store cannot be enabled again.
func (s *Store) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	s.disable()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.lifecycle.Unlock()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.feed.close()
	return err
}

// Subscribe streams store changes until ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan Change {
	return s.feed.subscribe(ctx)
}

// Enabled reports whether the store is enabled.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Conversations returns a copy of the summary list, most recent first.
func (s *Store) Conversations() []v1.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]v1.ConversationSummary(nil), s.summaries...)
}

// Conversation returns one summary.
func (s *Store) Conversation(id string) (v1.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.summaries, id); i >= 0 {
		return s.summaries[i], true
	}
	return v1.ConversationSummary{}, false
}

// Messages returns a copy of a conversation's messages in ascending order.
func (s *Store) Messages(conversationID string) []v1.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]v1.Message(nil), s.messages[conversationID]...)
}

// HasOlderMessages reports whether LoadOlderMessages can fetch more.
func (s *Store) HasOlderMessages(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore[conversationID]
}

// UnreadTotal returns the last fetched total unread counter.
func (s *Store) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// OpenConversationID returns the conversation being viewed, or "".
func (s *Store) OpenConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// ---- internals ----

func (s *Store) resetLocked() {
	s.summaries = nil
	s.messages = make(map[string][]v1.Message)
	s.pages = make(map[string]int)
	s.hasMore = make(map[string]bool)
	s.ackSeq = make(map[string]uint64)
	s.unread = 0
	s.open = ""
}

// token is what a REST call captures before it starts.
type token struct {
	gen uint64
	seq uint64
}

// begin captures the generation for a REST call. It fails while the store is
// disabled or closed, or the session has no usable token.
func (s *Store) begin() (token, error) {
	s.mu.Lock()
	t := token{gen: s.gen, seq: s.seq}
	closed, enabled := s.closed, s.enabled
	s.mu.Unlock()

	switch {
	case closed:
		return token{}, ErrClosed
	case !enabled:
		return token{}, ErrDisabled
	case s.auth != nil && !s.auth.Authenticated():
		return token{}, ErrNotAuthenticated
	}
	return t, nil
}

// currentLocked reports whether a result captured under t may still be applied.
func (s *Store) currentLocked(t token) bool {
	if s.enabled && s.gen == t.gen {
		return true
	}
	s.metrics.staleResult()
	return false
}

func (s *Store) me() string {
	if s.userID != "" {
		return s.userID
	}
	if s.auth != nil {
		return s.auth.UserID()
	}
	return ""
}

// nextUnread applies the unread rule to a value fetched under t. Fetches that
// started before the conversation's latest read acknowledgment are ignored,
// and a fetch may raise the count but never lower it.
func (s *Store) nextUnread(t token, id string, cur, fetched int) int {
	if s.ackSeq[id] > t.seq {
		return cur
	}
	if fetched < cur {
		s.metrics.heldUnread()
		return cur
	}
	return fetched
}

// ackLocked records a server-confirmed read: the only path that lowers a
// conversation's unread count.
func (s *Store) ackLocked(id string, unread int) bool {
	s.seq++
	s.ackSeq[id] = s.seq

	i := indexOf(s.summaries, id)
	if i < 0 || s.summaries[i].UnreadCount == unread {
		return false
	}
	if unread < 0 {
		unread = 0
	}
	s.summaries[i].UnreadCount = unread
	return true
}

// mergeSummaryLocked merges one fetched summary; it reports whether the list changed.
func (s *Store) mergeSummaryLocked(t token, in v1.ConversationSummary) bool {
	if in.ID == "" {
		return false
	}
	i := indexOf(s.summaries, in.ID)
	if i < 0 {
		s.summaries = append([]v1.ConversationSummary{in}, s.summaries...)
		return true
	}
	in.UnreadCount = s.nextUnread(t, in.ID, s.summaries[i].UnreadCount, in.UnreadCount)
	if summariesEqual(s.summaries[i], in) {
		return false
	}
	s.summaries[i] = in
	return true
}

// goLocked runs fn for the current session in a goroutine tracked by Close.
// s.mu must be held with the store enabled, so the WaitGroup never grows
// after Close has started waiting.
func (s *Store) goLocked(fn func(ctx context.Context)) {
	ctx := s.runCtx
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(ctx)
	}()
}

func summariesEqual(a, b v1.ConversationSummary) bool {
	if a.ID != b.ID ||
		a.LastMessageContent != b.LastMessageContent ||
		a.LastMessageSenderID != b.LastMessageSenderID ||
		a.UnreadCount != b.UnreadCount ||
		a.IsMuted != b.IsMuted ||
		a.IsArchived != b.IsArchived ||
		a.IsBlocked != b.IsBlocked ||
		len(a.Participants) != len(b.Participants) {
		return false
	}
	if (a.LastMessageAt == nil) != (b.LastMessageAt == nil) {
		return false
	}
	if a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt) {
		return false
	}
	for i := range a.Participants {
		if a.Participants[i] != b.Participants[i] {
			return false
		}
	}
	return true
}
