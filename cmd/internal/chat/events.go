package chat

import (
	"context"

	v1 "aifshop/contracts/hub/v1"
)

// Hub callbacks. They run on the connection's read goroutine, so anything
// that waits on the network is moved to a background goroutine.

// OnReceiveMessage appends a pushed message unless its id is already present,
// then re-fetches the list and unread counter. Counts are never incremented
// locally.
func (s *Store) OnReceiveMessage(msg v1.Message) {
	if msg.ID == "" || msg.ConversationID == "" {
		return
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	merged, added, dups := mergeMessages(s.messages[msg.ConversationID], []v1.Message{msg})
	s.messages[msg.ConversationID] = merged
	if added > 0 {
		s.goLocked(func(ctx context.Context) { s.refreshSummaries(ctx, "push") })
	}
	s.mu.Unlock()

	s.metrics.merged("push", dups)
	if added == 0 {
		s.log.Debug("store.push.duplicate", "conversation_id", msg.ConversationID, "message_id", msg.ID)
		return
	}

	m := msg.Shallow()
	s.feed.publish(Change{Kind: ChangeMessages, ConversationID: msg.ConversationID, Message: &m})
}

// OnConversationUpdated shallow-merges a pushed patch into its summary, or
// puts a new summary at the front of the list. An existing unread count may
// rise through a patch but never fall.
func (s *Store) OnConversationUpdated(p v1.ConversationPatch) {
	if p.ID == "" {
		return
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	if i := indexOf(s.summaries, p.ID); i >= 0 {
		cur := s.summaries[i]
		next := p.Apply(cur)
		if p.UnreadCount != nil {
			next.UnreadCount = s.nextUnread(token{seq: s.seq}, p.ID, cur.UnreadCount, *p.UnreadCount)
		}
		s.summaries[i] = next
	} else {
		next := p.Apply(v1.ConversationSummary{ID: p.ID})
		if p.UnreadCount != nil {
			next.UnreadCount = max(0, *p.UnreadCount)
		}
		s.summaries = append([]v1.ConversationSummary{next}, s.summaries...)
	}
	s.mu.Unlock()

	s.feed.publish(Change{Kind: ChangeConversations, ConversationID: p.ID})
}

// OnMessagesRead marks the listed messages read. Unread counts are left alone,
// even for the current user's own receipts; only MarkAsRead lowers them.
func (s *Store) OnMessagesRead(ev v1.MessagesRead) {
	if ev.ConversationID == "" {
		return
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	changes := s.applyReadLocked(ev, false)
	s.mu.Unlock()

	s.feed.publish(changes...)
}

// OnConnected joins the conversation that was opened while the hub was still
// connecting; that join was dropped.
func (s *Store) OnConnected(connectionID string) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	open := s.open
	if open != "" && s.rt != nil {
		s.goLocked(func(ctx context.Context) { s.rt.JoinConversation(ctx, open) })
	}
	s.mu.Unlock()

	s.log.Info("store.hub.connected", "connection_id", connectionID, "open_conversation", open)
}

// OnReconnecting only logs; polling covers the gap.
func (s *Store) OnReconnecting(err error) {
	s.log.Info("store.hub.reconnecting", "err", err)
}

// OnReconnected rejoins the open conversation, whose room membership did not
// survive the new connection, and resyncs when configured to.
func (s *Store) OnReconnected(connectionID string) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	open := s.open
	s.goLocked(func(ctx context.Context) {
		if open != "" && s.rt != nil {
			s.rt.JoinConversation(ctx, open)
		}
		if s.opts.ResyncOnReconnect {
			s.refresh(ctx, "reconnect")
		}
	})
	s.mu.Unlock()

	s.log.Info("store.hub.reconnected", "connection_id", connectionID, "open_conversation", open)
}

// OnClosed only logs; the store keeps polling while enabled.
func (s *Store) OnClosed(err error) {
	if err != nil {
		s.log.Warn("store.hub.closed", "err", err)
		return
	}
	s.log.Debug("store.hub.closed")
}
