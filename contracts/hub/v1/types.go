package v1

import (
	"sort"
	"time"
)

// MessageType tags the content of a Message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageFile    MessageType = "file"
	MessageSystem  MessageType = "system"
	MessageOrder   MessageType = "order"
	MessageProduct MessageType = "product"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem, MessageOrder, MessageProduct:
		return true
	}
	return false
}

// Participant is one member of a conversation.
type Participant struct {
	UserID    string `json:"userId"`
	FullName  string `json:"fullName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role,omitempty"`
}

// OrderSummary is attached to order messages.
type OrderSummary struct {
	OrderID     string  `json:"orderId"`
	OrderCode   string  `json:"orderCode,omitempty"`
	Status      string  `json:"status,omitempty"`
	TotalAmount float64 `json:"totalAmount,omitempty"`
	ItemCount   int     `json:"itemCount,omitempty"`
}

// ProductSummary is attached to product messages.
type ProductSummary struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price,omitempty"`
	ImageURL  string  `json:"imageUrl,omitempty"`
}

// Message is a single chat message as delivered by REST and the hub.
type Message struct {
	ID             string          `json:"messageId"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	SenderName     string          `json:"senderName,omitempty"`
	Content        string          `json:"content,omitempty"`
	Type           MessageType     `json:"messageType"`
	Order          *OrderSummary   `json:"order,omitempty"`
	Product        *ProductSummary `json:"product,omitempty"`

	IsRead    bool       `json:"isRead"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	IsEdited  bool       `json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	IsDeleted bool       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	ReplyToMessageID string   `json:"replyToMessageId,omitempty"`
	ReplyTo          *Message `json:"replyToMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Shallow returns m with its reply chain cut to one level.
func (m Message) Shallow() Message {
	if m.ReplyTo != nil {
		parent := *m.ReplyTo
		parent.ReplyTo = nil
		m.ReplyTo = &parent
	}
	return m
}

// Before orders messages ascending by creation time, ties broken by id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// SortMessages sorts msgs in place in ascending order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	ID                  string        `json:"conversationId"`
	Participants        []Participant `json:"participants"`
	LastMessageContent  string        `json:"lastMessageContent,omitempty"`
	LastMessageSenderID string        `json:"lastMessageSenderId,omitempty"`
	LastMessageAt       *time.Time    `json:"lastMessageAt,omitempty"`
	UnreadCount         int           `json:"unreadCount"`
	IsMuted             bool          `json:"isMuted"`
	IsArchived          bool          `json:"isArchived"`
	IsBlocked           bool          `json:"isBlocked"`
}

// ConversationPatch is the ConversationUpdated payload. Absent fields stay nil
// and leave the local value untouched when applied.
type ConversationPatch struct {
	ID                  string         `json:"conversationId"`
	Participants        *[]Participant `json:"participants,omitempty"`
	LastMessageContent  *string        `json:"lastMessageContent,omitempty"`
	LastMessageSenderID *string        `json:"lastMessageSenderId,omitempty"`
	LastMessageAt       *time.Time     `json:"lastMessageAt,omitempty"`
	UnreadCount         *int           `json:"unreadCount,omitempty"`
	IsMuted             *bool          `json:"isMuted,omitempty"`
	IsArchived          *bool          `json:"isArchived,omitempty"`
	IsBlocked           *bool          `json:"isBlocked,omitempty"`
}

// Apply shallow-merges p into s. The unread count is left to the caller, which
// owns the rules for when it may change.
func (p ConversationPatch) Apply(s ConversationSummary) ConversationSummary {
	if s.ID == "" {
		s.ID = p.ID
	}
	if p.Participants != nil {
		s.Participants = append([]Participant(nil), (*p.Participants)...)
	}
	if p.LastMessageContent != nil {
		s.LastMessageContent = *p.LastMessageContent
	}
	if p.LastMessageSenderID != nil {
		s.LastMessageSenderID = *p.LastMessageSenderID
	}
	if p.LastMessageAt != nil {
		at := *p.LastMessageAt
		s.LastMessageAt = &at
	}
	if p.IsMuted != nil {
		s.IsMuted = *p.IsMuted
	}
	if p.IsArchived != nil {
		s.IsArchived = *p.IsArchived
	}
	if p.IsBlocked != nil {
		s.IsBlocked = *p.IsBlocked
	}
	return s
}

// PatchFromSummary builds a patch that sets every field of s.
func PatchFromSummary(s ConversationSummary) ConversationPatch {
	participants := append([]Participant(nil), s.Participants...)
	content := s.LastMessageContent
	sender := s.LastMessageSenderID
	unread := s.UnreadCount
	muted, archived, blocked := s.IsMuted, s.IsArchived, s.IsBlocked
	p := ConversationPatch{
		ID:                  s.ID,
		Participants:        &participants,
		LastMessageContent:  &content,
		LastMessageSenderID: &sender,
		UnreadCount:         &unread,
		IsMuted:             &muted,
		IsArchived:          &archived,
		IsBlocked:           &blocked,
	}
	if s.LastMessageAt != nil {
		at := *s.LastMessageAt
		p.LastMessageAt = &at
	}
	return p
}

// MessagesRead is pushed when a participant reads messages.
type MessagesRead struct {
	ConversationID string         `json:"conversationId"`
	ReaderID       string         `json:"readerId"`
	MessageIDs     []string       `json:"messageIds"`
	UnreadCounts   map[string]int `json:"unreadCounts,omitempty"`
	ReadAt         time.Time      `json:"readAt"`
}

// ---- REST shapes ----

// Response is the REST response wrapper.
type Response[T any] struct {
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message,omitempty"`
	Data      T      `json:"data"`
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Items      []ConversationSummary `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	TotalCount int                   `json:"totalCount"`
}

// HasMore reports whether later pages exist.
func (p ConversationPage) HasMore() bool {
	return p.Page*p.PageSize < p.TotalCount
}

// ConversationDetail is a conversation with one page of its messages.
type ConversationDetail struct {
	Conversation ConversationSummary `json:"conversation"`
	Messages     []Message           `json:"messages"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"pageSize"`
	HasMore      bool                `json:"hasMore"`
}

// SendMessageRequest is the body of POST /api/chat/messages.
type SendMessageRequest struct {
	ConversationID   string      `json:"conversationId" validate:"required"`
	Content          string      `json:"content,omitempty" validate:"max=4000"`
	Type             MessageType `json:"messageType" validate:"required"`
	OrderID          string      `json:"orderId,omitempty"`
	ProductID        string      `json:"productId,omitempty"`
	ReplyToMessageID string      `json:"replyToMessageId,omitempty"`
}

// PreferencesUpdate is the body of PATCH /api/chat/conversations/{id}/preferences.
type PreferencesUpdate struct {
	IsMuted    *bool `json:"isMuted,omitempty"`
	IsArchived *bool `json:"isArchived,omitempty"`
	IsBlocked  *bool `json:"isBlocked,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u PreferencesUpdate) Empty() bool {
	return u.IsMuted == nil && u.IsArchived == nil && u.IsBlocked == nil
}

// UnreadCount is the body of GET /api/chat/unread-count.
type UnreadCount struct {
	UnreadCount int `json:"unreadCount"`
}
