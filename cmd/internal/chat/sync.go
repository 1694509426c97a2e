package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"aifshop/cmd/internal/restapi"
	v1 "aifshop/contracts/hub/v1"
)

// LoadConversations fetches the first page of the conversation list and
// merges it into the summaries: server order first, then conversations only
// known locally. It does nothing while disabled or signed out.
func (s *Store) LoadConversations(ctx context.Context) error {
	t, err := s.begin()
	if err != nil {
		return quiet(err)
	}

	page, err := s.api.ListConversations(ctx, restapi.ListParams{Page: 1, PageSize: s.opts.PageSize})
	if err != nil {
		s.log.Warn("store.conversations.fail", "err", err)
		return err
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return nil
	}
	changed := s.mergeListLocked(t, page.Items)
	s.mu.Unlock()

	s.log.Debug("store.conversations.load", "count", len(page.Items), "total", page.TotalCount, "changed", changed)
	if changed {
		s.feed.publish(Change{Kind: ChangeConversations})
	}
	return nil
}

// SearchConversations queries the conversation list without touching the store.
func (s *Store) SearchConversations(ctx context.Context, query string) ([]v1.ConversationSummary, error) {
	if _, err := s.begin(); err != nil {
		return nil, err
	}
	page, err := s.api.ListConversations(ctx, restapi.ListParams{Page: 1, PageSize: s.opts.PageSize, Search: query})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// LoadConversation fetches the newest page of a conversation's messages and
// replaces its list with it. Messages pushed after the page was produced are
// kept. It does nothing while disabled or signed out.
func (s *Store) LoadConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrMissingConversationID
	}
	t, err := s.begin()
	if err != nil {
		return quiet(err)
	}

	detail, err := s.api.GetConversation(ctx, conversationID, restapi.PageParams{Page: 1, PageSize: s.opts.MessagePageSize})
	if err != nil {
		s.log.Warn("store.conversation.fail", "conversation_id", conversationID, "err", err)
		return err
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return nil
	}
	s.messages[conversationID] = replaceMessages(s.messages[conversationID], detail.Messages)
	s.pages[conversationID] = 1
	s.hasMore[conversationID] = detail.HasMore
	listChanged := s.mergeSummaryLocked(t, detail.Conversation)
	s.mu.Unlock()

	s.metrics.merged("load", 0)
	s.log.Debug("store.conversation.load", "conversation_id", conversationID, "messages", len(detail.Messages), "has_more", detail.HasMore)

	changes := []Change{{Kind: ChangeMessages, ConversationID: conversationID}}
	if listChanged {
		changes = append(changes, Change{Kind: ChangeConversations})
	}
	s.feed.publish(changes...)
	return nil
}

// LoadOlderMessages fetches the page before the oldest one loaded and merges
// it. It reports whether still older pages exist.
func (s *Store) LoadOlderMessages(ctx context.Context, conversationID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false, ErrMissingConversationID
	}
	t, err := s.begin()
	if err != nil {
		return false, quiet(err)
	}

	s.mu.Lock()
	page := s.pages[conversationID] + 1
	s.mu.Unlock()

	detail, err := s.api.GetConversation(ctx, conversationID, restapi.PageParams{Page: page, PageSize: s.opts.MessagePageSize})
	if err != nil {
		s.log.Warn("store.conversation.older.fail", "conversation_id", conversationID, "page", page, "err", err)
		return false, err
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return false, nil
	}
	merged, added, dups := mergeMessages(s.messages[conversationID], detail.Messages)
	s.messages[conversationID] = merged
	if page > s.pages[conversationID] {
		s.pages[conversationID] = page
		s.hasMore[conversationID] = detail.HasMore
	}
	more := s.hasMore[conversationID]
	s.mu.Unlock()

	s.metrics.merged("load", dups)
	if added > 0 {
		s.feed.publish(Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	return more, nil
}

// RefreshUnread fetches the total unread counter.
func (s *Store) RefreshUnread(ctx context.Context) error {
	t, err := s.begin()
	if err != nil {
		return quiet(err)
	}

	n, err := s.api.UnreadCount(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return nil
	}
	changed := s.unread != n
	s.unread = n
	s.mu.Unlock()

	if changed {
		s.feed.publish(Change{Kind: ChangeUnread, Unread: n})
	}
	return nil
}

// OpenConversation makes id the conversation being viewed: it joins its hub
// room, leaves the previous one and loads its messages. Polling refreshes the
// open conversation.
func (s *Store) OpenConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrMissingConversationID
	}
	if _, err := s.begin(); errors.Is(err, ErrClosed) || errors.Is(err, ErrDisabled) {
		return err
	}

	s.mu.Lock()
	prev := s.open
	s.open = conversationID
	s.mu.Unlock()

	if s.rt != nil {
		if prev != "" && prev != conversationID {
			s.rt.LeaveConversation(ctx, prev)
		}
		s.rt.JoinConversation(ctx, conversationID)
	}
	s.log.Debug("store.conversation.open", "conversation_id", conversationID, "previous", prev)
	return s.LoadConversation(ctx, conversationID)
}

// CloseConversation clears the open conversation and leaves its hub room.
func (s *Store) CloseConversation(ctx context.Context) {
	s.mu.Lock()
	prev := s.open
	s.open = ""
	s.mu.Unlock()

	if prev != "" && s.rt != nil {
		s.rt.LeaveConversation(ctx, prev)
	}
}

// refresh reloads the list, the unread counter and the open conversation.
// Failures are logged; the last good state stays.
func (s *Store) refresh(ctx context.Context, reason string) {
	if err := s.LoadConversations(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("store.refresh.fail", "reason", reason, "part", "conversations", "err", err)
	}
	if err := s.RefreshUnread(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("store.refresh.fail", "reason", reason, "part", "unread", "err", err)
	}
	if open := s.OpenConversationID(); open != "" {
		if err := s.LoadConversation(ctx, open); err != nil && ctx.Err() == nil {
			s.log.Warn("store.refresh.fail", "reason", reason, "part", "conversation", "conversation_id", open, "err", err)
		}
	}
}

// refreshSummaries re-fetches the list and unread counter after a change the
// server knows more about than the store.
func (s *Store) refreshSummaries(ctx context.Context, reason string) {
	if err := s.LoadConversations(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("store.refresh.fail", "reason", reason, "part", "conversations", "err", err)
	}
	if err := s.RefreshUnread(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("store.refresh.fail", "reason", reason, "part", "unread", "err", err)
	}
}

// poll runs until ctx is done, independent of the push connection.
func (s *Store) poll(ctx context.Context) {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Store) pollOnce(ctx context.Context) {
	t, err := s.begin()
	if err != nil {
		s.log.Debug("store.poll.skip", "reason", err)
		return
	}

	// The unread counter and the open conversation are refreshed independently.
	unreadErr := s.RefreshUnread(ctx)
	if unreadErr != nil && ctx.Err() == nil {
		s.log.Warn("store.poll.unread.fail", "err", unreadErr)
	}

	var convErr error
	if open := s.OpenConversationID(); open != "" {
		convErr = s.pollConversation(ctx, t, open)
		if convErr != nil && ctx.Err() == nil {
			s.log.Warn("store.poll.conversation.fail", "conversation_id", open, "err", convErr)
		}
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.poll(errors.Join(unreadErr, convErr))
}

// pollConversation merges the newest page of the open conversation. Unlike a
// load it never drops older pages already held.
func (s *Store) pollConversation(ctx context.Context, t token, conversationID string) error {
	detail, err := s.api.GetConversation(ctx, conversationID, restapi.PageParams{Page: 1, PageSize: s.opts.MessagePageSize})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.currentLocked(t) {
		s.mu.Unlock()
		return nil
	}
	merged, added, dups := mergeMessages(s.messages[conversationID], detail.Messages)
	s.messages[conversationID] = merged
	if _, ok := s.pages[conversationID]; !ok {
		s.pages[conversationID] = 1
		s.hasMore[conversationID] = detail.HasMore
	}
	listChanged := s.mergeSummaryLocked(t, detail.Conversation)
	s.mu.Unlock()

	s.metrics.merged("poll", dups)
	var changes []Change
	if added > 0 {
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	if listChanged {
		changes = append(changes, Change{Kind: ChangeConversations})
	}
	s.feed.publish(changes...)
	return nil
}

// mergeListLocked merges a fetched page of summaries. It reports whether the
// list changed.
func (s *Store) mergeListLocked(t token, items []v1.ConversationSummary) bool {
	out := make([]v1.ConversationSummary, 0, len(items)+len(s.summaries))
	seen := make(map[string]struct{}, len(items))
	for _, in := range items {
		if in.ID == "" {
			continue
		}
		if _, dup := seen[in.ID]; dup {
			continue
		}
		seen[in.ID] = struct{}{}
		if i := indexOf(s.summaries, in.ID); i >= 0 {
			in.UnreadCount = s.nextUnread(t, in.ID, s.summaries[i].UnreadCount, in.UnreadCount)
		}
		out = append(out, in)
	}
	for _, cur := range s.summaries {
		if _, ok := seen[cur.ID]; !ok {
			out = append(out, cur)
		}
	}

	changed := len(out) != len(s.summaries)
	for i := 0; !changed && i < len(out); i++ {
		changed = !summariesEqual(out[i], s.summaries[i])
	}
	s.summaries = out
	return changed
}

// quiet turns "nothing to do" conditions into nil for background loads.
func quiet(err error) error {
	if errors.Is(err, ErrDisabled) || errors.Is(err, ErrNotAuthenticated) {
		return nil
	}
	return err
}
