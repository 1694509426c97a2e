package devhub

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/oklog/ulid/v2"
)

const (
	maxMessagesPerConversation = 10_000

	defaultPageSize = 20
	maxPageSize     = 200
)

// Store holds conversations, messages and per-user read state in memory.
//
// Messages of a conversation are kept ascending by creation time; a message
// never gets a timestamp earlier than the one before it.
type Store struct {
	mu    sync.Mutex
	now   func() time.Time
	users map[string]v1.Participant
	convs map[string]*conv
}

type conv struct {
	id           string
	participants []v1.Participant
	msgs         []v1.Message
	dedupe       map[string]string // sender + idempotency key -> message id
	readUpTo     map[string]int    // user -> number of messages seen
	prefs        map[string]prefs
}

type prefs struct {
	muted, archived, blocked bool
}

// NewStore returns an empty Store. A nil now uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:   now,
		users: make(map[string]v1.Participant),
		convs: make(map[string]*conv),
	}
}

// AddConversation creates a conversation between participants.
func (s *Store) AddConversation(id string, participants ...v1.Participant) error {
	id = strings.TrimSpace(id)
	if id == "" || len(participants) < 2 {
		return fmt.Errorf("%w: conversation needs an id and two participants", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; ok {
		return fmt.Errorf("%w: conversation %s exists", ErrInvalid, id)
	}
	for _, p := range participants {
		if strings.TrimSpace(p.UserID) == "" {
			return fmt.Errorf("%w: participant without user id", ErrInvalid)
		}
		s.users[p.UserID] = p
	}

	s.convs[id] = &conv{
		id:           id,
		participants: append([]v1.Participant(nil), participants...),
		dedupe:       make(map[string]string),
		readUpTo:     make(map[string]int),
		prefs:        make(map[string]prefs),
	}
	return nil
}

// User returns a known participant by id.
func (s *Store) User(userID string) (v1.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[userID]
	return p, ok
}

// AppendInput describes one message to store.
type AppendInput struct {
	ConversationID   string
	SenderID         string
	Content          string
	Type             v1.MessageType
	OrderID          string
	ProductID        string
	ReplyToMessageID string
	IdempotencyKey   string
}

// Append stores a message. A repeated idempotency key from the same sender
// returns the first message and dup=true.
func (s *Store) Append(in AppendInput) (msg v1.Message, dup bool, err error) {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.Content = strings.TrimSpace(in.Content)
	if in.Type == "" {
		in.Type = v1.MessageText
	}
	if !in.Type.Valid() {
		return v1.Message{}, false, fmt.Errorf("%w: message type %q", ErrInvalid, in.Type)
	}
	if in.Type == v1.MessageText && in.Content == "" {
		return v1.Message{}, false, fmt.Errorf("%w: empty text message", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.participantConvLocked(in.ConversationID, in.SenderID)
	if err != nil {
		return v1.Message{}, false, err
	}
	for _, p := range c.prefs {
		if p.blocked {
			return v1.Message{}, false, ErrBlocked
		}
	}

	key := ""
	if k := strings.TrimSpace(in.IdempotencyKey); k != "" {
		key = in.SenderID + "\x00" + k
		if id, ok := c.dedupe[key]; ok {
			if i := c.indexOf(id); i >= 0 {
				return c.msgs[i], true, nil
			}
		}
	}

	now := s.now().UTC()
	if n := len(c.msgs); n > 0 && !now.After(c.msgs[n-1].CreatedAt) {
		now = c.msgs[n-1].CreatedAt.Add(time.Microsecond)
	}

	msg = v1.Message{
		ID:             ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ConversationID: c.id,
		SenderID:       in.SenderID,
		SenderName:     s.users[in.SenderID].FullName,
		Content:        in.Content,
		Type:           in.Type,
		CreatedAt:      now,
	}
	if in.OrderID != "" {
		msg.Order = &v1.OrderSummary{OrderID: in.OrderID}
	}
	if in.ProductID != "" {
		msg.Product = &v1.ProductSummary{ProductID: in.ProductID}
	}
	if in.ReplyToMessageID != "" {
		i := c.indexOf(in.ReplyToMessageID)
		if i < 0 {
			return v1.Message{}, false, fmt.Errorf("%w: reply target %s", ErrNotFound, in.ReplyToMessageID)
		}
		parent := c.msgs[i]
		parent.ReplyTo = nil
		msg.ReplyToMessageID = parent.ID
		msg.ReplyTo = &parent
	}

	c.msgs = append(c.msgs, msg)
	if len(c.msgs) > maxMessagesPerConversation {
		drop := len(c.msgs) - maxMessagesPerConversation
		c.msgs = c.msgs[drop:]
		for u, n := range c.readUpTo {
			c.readUpTo[u] = max(0, n-drop)
		}
	}
	c.readUpTo[in.SenderID] = len(c.msgs)
	if key != "" {
		c.dedupe[key] = msg.ID
	}
	return msg, false, nil
}

// ListConversations returns one page of userID's conversations, most recent first.
func (s *Store) ListConversations(userID string, page, pageSize int, search string) v1.ConversationPage {
	page, pageSize = normalizePage(page, pageSize)
	search = strings.ToLower(strings.TrimSpace(search))

	s.mu.Lock()
	defer s.mu.Unlock()

	var all []v1.ConversationSummary
	for _, c := range s.convs {
		if !c.has(userID) {
			continue
		}
		sum := c.summary(userID)
		if search != "" && !matches(sum, userID, search) {
			continue
		}
		all = append(all, sum)
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := lastActivity(all[i]), lastActivity(all[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return all[i].ID < all[j].ID
	})

	out := v1.ConversationPage{Page: page, PageSize: pageSize, TotalCount: len(all)}
	start := (page - 1) * pageSize
	if start < len(all) {
		out.Items = all[start:min(start+pageSize, len(all))]
	}
	if out.Items == nil {
		out.Items = []v1.ConversationSummary{}
	}
	return out
}

// Conversation returns a conversation with one page of messages. Page 1 holds
// the newest messages; each page is ascending.
func (s *Store) Conversation(userID, id string, page, pageSize int) (v1.ConversationDetail, error) {
	page, pageSize = normalizePage(page, pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.participantConvLocked(id, userID)
	if err != nil {
		return v1.ConversationDetail{}, err
	}

	out := v1.ConversationDetail{
		Conversation: c.summary(userID),
		Messages:     []v1.Message{},
		Page:         page,
		PageSize:     pageSize,
	}
	end := len(c.msgs) - (page-1)*pageSize
	if end > 0 {
		start := max(0, end-pageSize)
		out.Messages = append(out.Messages, c.msgs[start:end]...)
		out.HasMore = start > 0
	}
	return out, nil
}

// Summary returns userID's view of one conversation.
func (s *Store) Summary(userID, id string) (v1.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.participantConvLocked(id, userID)
	if err != nil {
		return v1.ConversationSummary{}, err
	}
	return c.summary(userID), nil
}

// MarkRead marks every message from other participants as read by userID.
func (s *Store) MarkRead(userID, id string) (v1.MessagesRead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.participantConvLocked(id, userID)
	if err != nil {
		return v1.MessagesRead{}, err
	}

	now := s.now().UTC()
	ev := v1.MessagesRead{
		ConversationID: c.id,
		ReaderID:       userID,
		MessageIDs:     []string{},
		UnreadCounts:   make(map[string]int, len(c.participants)),
		ReadAt:         now,
	}
	for i := c.readUpTo[userID]; i < len(c.msgs); i++ {
		m := &c.msgs[i]
		if m.SenderID == userID {
			continue
		}
		if !m.IsRead {
			at := now
			m.IsRead = true
			m.ReadAt = &at
		}
		ev.MessageIDs = append(ev.MessageIDs, m.ID)
	}
	c.readUpTo[userID] = len(c.msgs)

	for _, p := range c.participants {
		ev.UnreadCounts[p.UserID] = c.unread(p.UserID)
	}
	return ev, nil
}

// UpdatePreferences applies u to userID's view of a conversation.
func (s *Store) UpdatePreferences(userID, id string, u v1.PreferencesUpdate) (v1.ConversationSummary, error) {
	if u.Empty() {
		return v1.ConversationSummary{}, fmt.Errorf("%w: empty preferences update", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.participantConvLocked(id, userID)
	if err != nil {
		return v1.ConversationSummary{}, err
	}

	p := c.prefs[userID]
	if u.IsMuted != nil {
		p.muted = *u.IsMuted
	}
	if u.IsArchived != nil {
		p.archived = *u.IsArchived
	}
	if u.IsBlocked != nil {
		p.blocked = *u.IsBlocked
	}
	c.prefs[userID] = p
	return c.summary(userID), nil
}

// UnreadTotal sums userID's unread messages over all conversations.
func (s *Store) UnreadTotal(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, c := range s.convs {
		if c.has(userID) {
			total += c.unread(userID)
		}
	}
	return total
}

// ParticipantIDs returns the user ids of a conversation's participants.
func (s *Store) ParticipantIDs(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[id]
	if c == nil {
		return nil, ErrNotFound
	}
	out := make([]string, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p.UserID)
	}
	return out, nil
}

// IsParticipant reports whether userID belongs to conversation id.
func (s *Store) IsParticipant(id, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convs[id]
	return c != nil && c.has(userID)
}

func (s *Store) participantConvLocked(id, userID string) (*conv, error) {
	c := s.convs[strings.TrimSpace(id)]
	if c == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if !c.has(userID) {
		return nil, ErrForbidden
	}
	return c, nil
}

// ---- conv helpers (caller holds Store.mu) ----

func (c *conv) has(userID string) bool {
	for _, p := range c.participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c *conv) indexOf(messageID string) int {
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *conv) unread(userID string) int {
	n := 0
	for i := c.readUpTo[userID]; i < len(c.msgs); i++ {
		if c.msgs[i].SenderID != userID {
			n++
		}
	}
	return n
}

func (c *conv) summary(userID string) v1.ConversationSummary {
	p := c.prefs[userID]
	sum := v1.ConversationSummary{
		ID:           c.id,
		Participants: append([]v1.Participant(nil), c.participants...),
		UnreadCount:  c.unread(userID),
		IsMuted:      p.muted,
		IsArchived:   p.archived,
		IsBlocked:    p.blocked,
	}
	if n := len(c.msgs); n > 0 {
		last := c.msgs[n-1]
		at := last.CreatedAt
		sum.LastMessageContent = last.Content
		sum.LastMessageSenderID = last.SenderID
		sum.LastMessageAt = &at
	}
	return sum
}

func lastActivity(s v1.ConversationSummary) time.Time {
	if s.LastMessageAt == nil {
		return time.Time{}
	}
	return *s.LastMessageAt
}

func matches(s v1.ConversationSummary, userID, search string) bool {
	if strings.Contains(strings.ToLower(s.LastMessageContent), search) {
		return true
	}
	for _, p := range s.Participants {
		if p.UserID != userID && strings.Contains(strings.ToLower(p.FullName), search) {
			return true
		}
	}
	return false
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
