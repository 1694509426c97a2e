package chat

import (
	v1 "aifshop/contracts/hub/v1"
)

// normalize cuts reply chains, drops id-less messages and duplicates (the
// later copy wins) and sorts ascending.
func normalize(msgs []v1.Message) []v1.Message {
	out := make([]v1.Message, 0, len(msgs))
	pos := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		m = m.Shallow()
		if i, ok := pos[m.ID]; ok {
			out[i] = m
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m)
	}
	v1.SortMessages(out)
	return out
}

// mergeMessages adds incoming to cur. A message already present by id is
// replaced in place by the incoming copy, which carries the newer read and
// edit flags, and counted as a duplicate. The result is sorted and unique.
func mergeMessages(cur, incoming []v1.Message) (out []v1.Message, added, dups int) {
	incoming = normalize(incoming)
	if len(incoming) == 0 {
		return cur, 0, 0
	}

	out = make([]v1.Message, len(cur), len(cur)+len(incoming))
	copy(out, cur)
	pos := make(map[string]int, len(out))
	for i, m := range out {
		pos[m.ID] = i
	}

	for _, m := range incoming {
		if i, ok := pos[m.ID]; ok {
			out[i] = m
			dups++
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m)
		added++
	}
	v1.SortMessages(out)
	return out, added, dups
}

// replaceMessages swaps cur for a freshly loaded newest page. Local messages
// strictly newer than the page's newest survive, since they arrived by push
// after the server produced the page.
func replaceMessages(cur, page []v1.Message) []v1.Message {
	page = normalize(page)
	if len(page) == 0 {
		return page
	}

	newest := page[len(page)-1]
	in := make(map[string]struct{}, len(page))
	for _, m := range page {
		in[m.ID] = struct{}{}
	}
	for _, m := range cur {
		if _, ok := in[m.ID]; ok {
			continue
		}
		if newest.Before(m) {
			page = append(page, m)
		}
	}
	v1.SortMessages(page)
	return page
}

// markRead flags the listed messages as read. It reports whether any changed.
func markRead(msgs []v1.Message, ids []string, ev v1.MessagesRead) bool {
	if len(ids) == 0 || len(msgs) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	changed := false
	for i := range msgs {
		if _, ok := want[msgs[i].ID]; !ok || msgs[i].IsRead {
			continue
		}
		msgs[i].IsRead = true
		if !ev.ReadAt.IsZero() {
			at := ev.ReadAt
			msgs[i].ReadAt = &at
		}
		changed = true
	}
	return changed
}

func indexOf(list []v1.ConversationSummary, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
