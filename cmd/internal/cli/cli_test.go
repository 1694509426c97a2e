package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aifshop/cmd/internal/auth/session"
	"aifshop/cmd/internal/devhub"
	"aifshop/cmd/internal/realtime"
	v1 "aifshop/contracts/hub/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevhub(t *testing.T) (*devhub.Server, string) {
	t.Helper()

	issuer, err := session.NewIssuer([]byte(strings.Repeat("c", 32)), "cli-test", time.Hour)
	require.NoError(t, err)
	srv, err := devhub.New(devhub.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Issuer: issuer,
		Seed:   true,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

// run executes the root command as the demo buyer against baseURL.
func run(t *testing.T, srv *devhub.Server, baseURL string, args ...string) (string, error) {
	t.Helper()

	tok, err := srv.Token(devhub.DemoBuyer.UserID)
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{
		"--env-file", "",
		"--no-color",
		"--log-level", "error",
		"--base-url", baseURL,
		"--token", tok,
	}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestConversationsCommand(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	out, err := run(t, srv, url, "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "Sam Seller")
	assert.Contains(t, out, "Tia Trader")
	assert.Contains(t, out, "(1 unread)")
	assert.NotContains(t, out, "more: --page")

	out, err = run(t, srv, url, "ls", "--search", "tia")
	require.NoError(t, err)
	assert.Contains(t, out, "Tia Trader")
	assert.NotContains(t, out, "Sam Seller")

	out, err = run(t, srv, url, "conversations", devhub.DemoConversation)
	require.NoError(t, err)
	assert.Contains(t, out, "you: [product P-100] Is this still available?")
	assert.Contains(t, out, "Sam Seller: Yes, ships tomorrow.")
}

func TestUnreadCommand(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	out, err := run(t, srv, url, "unread")
	require.NoError(t, err)
	assert.Equal(t, "unread: 2\n", out)
}

func TestSendCommand(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	out, err := run(t, srv, url, "send", devhub.DemoConversation, "see", "you", "soon")
	require.NoError(t, err)
	assert.Contains(t, out, "you: see you soon")

	d, err := srv.Store().Conversation(devhub.DemoSeller.UserID, devhub.DemoConversation, 1, 50)
	require.NoError(t, err)
	require.NotEmpty(t, d.Messages)
	last := d.Messages[len(d.Messages)-1]
	assert.Equal(t, "see you soon", last.Content)
	assert.Equal(t, devhub.DemoBuyer.UserID, last.SenderID)
}

func TestSendCommandRejectsBadInput(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no text", args: []string{"send", devhub.DemoConversation}, want: "nothing to send"},
		{name: "unknown type", args: []string{"send", "--type", "sticker", devhub.DemoConversation, "hi"}, want: `unknown message type "sticker"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, srv, url, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadCommand(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	out, err := run(t, srv, url, "read", devhub.DemoConversation)
	require.NoError(t, err)
	assert.Equal(t, "marked 1 message(s) read in C1, 0 unread left\n", out)
	assert.Equal(t, 1, srv.Store().UnreadTotal(devhub.DemoBuyer.UserID))
}

func TestPrefsCommand(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	out, err := run(t, srv, url, "prefs", devhub.DemoConversation, "--mute")
	require.NoError(t, err)
	assert.Contains(t, out, "[muted]")

	s, err := srv.Store().Summary(devhub.DemoBuyer.UserID, devhub.DemoConversation)
	require.NoError(t, err)
	assert.True(t, s.IsMuted)
	assert.False(t, s.IsArchived)

	_, err = run(t, srv, url, "prefs", devhub.DemoConversation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of")
}

func TestConfigCommandRedactsToken(t *testing.T) {
	t.Parallel()
	srv, url := newDevhub(t)

	out, err := run(t, srv, url, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: "+url)
	assert.Contains(t, out, "token: <redacted>")
	assert.Contains(t, out, "transport: websockets")

	out, err = run(t, srv, url, "config", "--env")
	require.NoError(t, err)
	assert.Contains(t, out, "AIFSHOP_BASE_URL")
}

func TestPrinter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newTestPrinter := func() (*printer, *bytes.Buffer) {
		var buf bytes.Buffer
		p := newPrinter(&buf, "me", false)
		p.now = func() time.Time { return now }
		return p, &buf
	}

	t.Run("message", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		at := now.Add(-5 * time.Minute)
		p.message(v1.Message{
			ConversationID: "C9",
			SenderID:       "other",
			SenderName:     "Olga",
			Type:           v1.MessageOrder,
			Order:          &v1.OrderSummary{OrderID: "O-1"},
			Content:        "shipped",
			IsEdited:       true,
			CreatedAt:      at,
			ReplyTo:        &v1.Message{Content: "where   is\nit?"},
		})
		want := at.Local().Format("15:04") + " C9 Olga: [order O-1] shipped (edited) (5 minutes ago)\n" +
			"      > reply to: \"where is it?\"\n"
		assert.Equal(t, want, buf.String())
	})

	t.Run("own deleted message", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.message(v1.Message{ConversationID: "C9", SenderID: "me", Content: "oops", IsDeleted: true, IsEdited: true, CreatedAt: now})
		assert.Contains(t, buf.String(), "C9 you: (deleted) (now)")
		assert.NotContains(t, buf.String(), "edited")
	})

	t.Run("summary", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		at := now.Add(-2 * time.Hour)
		p.summary(v1.ConversationSummary{
			ID:                 "C9",
			Participants:       []v1.Participant{{UserID: "me"}, {UserID: "other", FullName: "Olga"}},
			UnreadCount:        1200,
			IsMuted:            true,
			IsBlocked:          true,
			LastMessageContent: "hello",
			LastMessageAt:      &at,
		})
		assert.Equal(t, "C9  Olga  (1,200 unread)  [muted,blocked]  \"hello\"  2 hours ago\n", buf.String())
	})

	t.Run("status", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.status(realtime.Status{State: realtime.StateConnected})
		assert.Equal(t, "hub connected\n", buf.String())
	})
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"a b"`, preview(" a \n b "))
	long := strings.Repeat("x", 100)
	got := preview(long)
	assert.Equal(t, `"`+strings.Repeat("x", previewLen-1)+`…"`, got)
}
