package chat

import (
	"context"
	"strings"

	v1 "aifshop/contracts/hub/v1"
)

// SendInput is a message to send. Type defaults to text.
type SendInput struct {
	ConversationID   string
	Content          string
	Type             v1.MessageType
	OrderID          string
	ProductID        string
	ReplyToMessageID string
}

// SendMessage posts a message. The server's copy, with its id and timestamp,
// is appended once the call succeeds; nothing is inserted before that. The
// conversation list is refreshed afterwards.
func (s *Store) SendMessage(ctx context.Context, in SendInput) (v1.Message, error) {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	if in.ConversationID == "" {
		return v1.Message{}, ErrMissingConversationID
	}
	if in.Type == "" {
		in.Type = v1.MessageText
	}
	t, err := s.begin()
	if err != nil {
		return v1.Message{}, err
	}

	msg, err := s.api.SendMessage(ctx, v1.SendMessageRequest{
		ConversationID:   in.ConversationID,
		Content:          in.Content,
		Type:             in.Type,
		OrderID:          in.OrderID,
		ProductID:        in.ProductID,
		ReplyToMessageID: in.ReplyToMessageID,
	})
	if err != nil {
		s.log.Warn("store.send.fail", "conversation_id", in.ConversationID, "err", err)
		return v1.Message{}, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = in.ConversationID
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return msg, nil
	}
	merged, added, dups := mergeMessages(s.messages[msg.ConversationID], []v1.Message{msg})
	s.messages[msg.ConversationID] = merged
	s.mu.Unlock()

	s.metrics.merged("send", dups)
	s.log.Debug("store.send", "conversation_id", msg.ConversationID, "message_id", msg.ID)
	if added > 0 {
		m := msg.Shallow()
		s.feed.publish(Change{Kind: ChangeMessages, ConversationID: msg.ConversationID, Message: &m})
	}

	if err := s.LoadConversations(ctx); err != nil {
		s.log.Warn("store.refresh.fail", "reason", "send", "part", "conversations", "err", err)
	}
	return msg, nil
}

// MarkAsRead acknowledges a conversation as read. The server's confirmed
// unread count is applied, then the list and the unread counter are refreshed.
func (s *Store) MarkAsRead(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrMissingConversationID
	}
	t, err := s.begin()
	if err != nil {
		return err
	}

	ev, err := s.api.MarkAsRead(ctx, conversationID)
	if err != nil {
		s.log.Warn("store.read.fail", "conversation_id", conversationID, "err", err)
		return err
	}
	if ev.ConversationID == "" {
		ev.ConversationID = conversationID
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return nil
	}
	changes := s.applyReadLocked(ev, true)
	s.mu.Unlock()

	s.feed.publish(changes...)
	s.refreshSummaries(ctx, "read")
	return nil
}

// UpdatePreferences archives, mutes or blocks a conversation and merges the
// server's updated summary.
func (s *Store) UpdatePreferences(ctx context.Context, conversationID string, u v1.PreferencesUpdate) (v1.ConversationSummary, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return v1.ConversationSummary{}, ErrMissingConversationID
	}
	if u.Empty() {
		return v1.ConversationSummary{}, ErrNoChanges
	}
	t, err := s.begin()
	if err != nil {
		return v1.ConversationSummary{}, err
	}

	sum, err := s.api.UpdatePreferences(ctx, conversationID, u)
	if err != nil {
		s.log.Warn("store.preferences.fail", "conversation_id", conversationID, "err", err)
		return v1.ConversationSummary{}, err
	}
	if sum.ID == "" {
		sum.ID = conversationID
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return sum, nil
	}
	changed := s.mergeSummaryLocked(t, sum)
	s.mu.Unlock()

	if changed {
		s.feed.publish(Change{Kind: ChangeConversations})
	}
	return sum, nil
}

// applyReadLocked applies a read receipt. Only own, the response to this
// client's MarkAsRead, takes the receipt's unread count for the current user.
func (s *Store) applyReadLocked(ev v1.MessagesRead, own bool) []Change {
	var changes []Change
	if markRead(s.messages[ev.ConversationID], ev.MessageIDs, ev) {
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: ev.ConversationID})
	}
	if !own {
		return changes
	}
	me := s.me()
	unread := 0
	if n, ok := ev.UnreadCounts[me]; ok && me != "" {
		unread = n
	}
	if s.ackLocked(ev.ConversationID, unread) {
		changes = append(changes, Change{Kind: ChangeConversations})
	}
	return changes
}
