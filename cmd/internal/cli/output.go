package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"aifshop/cmd/internal/realtime"
	v1 "aifshop/contracts/hub/v1"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

const previewLen = 60

// printer renders chat state for a terminal. me is the signed-in user, whose
// own messages and name are shown differently.
type printer struct {
	w   io.Writer
	me  string
	now func() time.Time

	peer, mine, dim, badge, good, bad, warn *color.Color
}

func newPrinter(w io.Writer, me string, colored bool) *printer {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return &printer{
		w:     w,
		me:    me,
		now:   time.Now,
		peer:  mk(color.FgCyan, color.Bold),
		mine:  mk(color.FgGreen),
		dim:   mk(color.Faint),
		badge: mk(color.FgYellow, color.Bold),
		good:  mk(color.FgGreen),
		bad:   mk(color.FgRed),
		warn:  mk(color.FgYellow),
	}
}

func (p *printer) ago(t time.Time) string {
	return humanize.RelTime(t, p.now(), "ago", "from now")
}

// message prints one line per message, plus an indented line for its reply target.
func (p *printer) message(m v1.Message) {
	who := m.SenderName
	if who == "" {
		who = m.SenderID
	}
	name := p.peer.Sprint(who)
	if m.SenderID == p.me && p.me != "" {
		name = p.mine.Sprint("you")
	}

	body := m.Content
	switch {
	case m.IsDeleted:
		body = p.dim.Sprint("(deleted)")
	case m.Type == v1.MessageOrder && m.Order != nil:
		body = strings.TrimSpace(fmt.Sprintf("[order %s] %s", m.Order.OrderID, body))
	case m.Type == v1.MessageProduct && m.Product != nil:
		body = strings.TrimSpace(fmt.Sprintf("[product %s] %s", m.Product.ProductID, body))
	case m.Type != v1.MessageText && m.Type != "":
		body = strings.TrimSpace(fmt.Sprintf("[%s] %s", m.Type, body))
	}
	if m.IsEdited && !m.IsDeleted {
		body += p.dim.Sprint(" (edited)")
	}

	fmt.Fprintf(p.w, "%s %s %s: %s %s\n",
		p.dim.Sprint(m.CreatedAt.Local().Format("15:04")),
		p.dim.Sprint(m.ConversationID),
		name, body,
		p.dim.Sprint("("+p.ago(m.CreatedAt)+")"),
	)
	if m.ReplyTo != nil {
		fmt.Fprintf(p.w, "      %s %s\n", p.dim.Sprint("> reply to:"), preview(m.ReplyTo.Content))
	}
}

// summary prints a conversation list row.
func (p *printer) summary(s v1.ConversationSummary) {
	var b strings.Builder
	b.WriteString(p.dim.Sprint(s.ID))
	b.WriteString("  ")
	b.WriteString(p.peer.Sprint(p.counterpart(s)))
	if s.UnreadCount > 0 {
		b.WriteString("  ")
		b.WriteString(p.badge.Sprintf("(%s unread)", humanize.Comma(int64(s.UnreadCount))))
	}
	var flags []string
	if s.IsMuted {
		flags = append(flags, "muted")
	}
	if s.IsArchived {
		flags = append(flags, "archived")
	}
	if s.IsBlocked {
		flags = append(flags, "blocked")
	}
	if len(flags) > 0 {
		b.WriteString("  ")
		b.WriteString(p.warn.Sprintf("[%s]", strings.Join(flags, ",")))
	}
	if s.LastMessageContent != "" {
		b.WriteString("  ")
		b.WriteString(preview(s.LastMessageContent))
	}
	if s.LastMessageAt != nil {
		b.WriteString("  ")
		b.WriteString(p.dim.Sprint(p.ago(*s.LastMessageAt)))
	}
	fmt.Fprintln(p.w, b.String())
}

// counterpart names the other participants, or the conversation id when
// participants are unknown.
func (p *printer) counterpart(s v1.ConversationSummary) string {
	var names []string
	for _, pt := range s.Participants {
		if pt.UserID == p.me {
			continue
		}
		if pt.FullName != "" {
			names = append(names, pt.FullName)
		} else {
			names = append(names, pt.UserID)
		}
	}
	if len(names) == 0 {
		return s.ID
	}
	return strings.Join(names, ", ")
}

func (p *printer) status(st realtime.Status) {
	label := st.State.String()
	switch st.State {
	case realtime.StateConnected:
		label = p.good.Sprint(label)
	case realtime.StateDisconnected:
		label = p.bad.Sprint(label)
	default:
		label = p.warn.Sprint(label)
	}
	line := "hub " + label
	if st.Err != nil {
		line += p.dim.Sprintf(" (%s: %v)", realtime.KindOf(st.Err), st.Err)
		if st.State == realtime.StateDisconnected {
			line += p.dim.Sprint(", polling continues")
		}
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) unread(n int) {
	fmt.Fprintf(p.w, "unread: %s\n", p.badge.Sprint(humanize.Comma(int64(n))))
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewLen {
		return fmt.Sprintf("%q", string(r[:previewLen-1])+"…")
	}
	return fmt.Sprintf("%q", s)
}
