package chat

import (
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
	"aifshop/cmd/internal/restapi"
	v1 "aifshop/contracts/hub/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type harness struct {
	srv   *devhub.Server
	store *Store
	ctrl  *realtime.Controller
}

// newHarness wires a buyer's store to a devhub. hubTokens may differ from the
// REST credentials to make only the push side fail.
func newHarness(t *testing.T, hubTokens func(good oauth2.TokenSource) oauth2.TokenSource, pollEvery time.Duration) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	issuer, err := session.NewIssuer([]byte(strings.Repeat("i", 32)), "chat-test", time.Hour)
	require.NoError(t, err)
	srv, err := devhub.New(devhub.Options{Logger: log, Issuer: issuer, Seed: true})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tok, err := srv.Token(devhub.DemoBuyer.UserID)
	require.NoError(t, err)
	good := session.StaticSource(tok)

	api, err := restapi.New(ts.URL, good, restapi.WithRateLimit(0, 0), restapi.WithLogger(log))
	require.NoError(t, err)

	ctrl := realtime.NewController(realtime.Config{
		HubURL:            ts.URL + devhub.DefaultHubPath,
		TokenSource:       hubTokens(good),
		AutoReconnect:     true,
		ReconnectDelays:   []time.Duration{0, 10 * time.Millisecond},
		KeepAliveInterval: -1,
	}, log)

	store := New(api, Options{
		Session:      session.New(good),
		Realtime:     ctrl,
		PollInterval: pollEvery,
		Logger:       log,
	})
	ctrl.SetHandlers(store)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = store.Close(ctx)
		_ = ctrl.Close(ctx)
	})
	return &harness{srv: srv, store: store, ctrl: ctrl}
}

func TestStoreFollowsHubPushes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(good oauth2.TokenSource) oauth2.TokenSource { return good }, -1)
	ctx := context.Background()

	h.store.Enable()
	require.Eventually(t, func() bool { return h.ctrl.Status().Connected() }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.store.Conversations()) == 2 && h.store.UnreadTotal() == 2 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.store.OpenConversation(ctx, devhub.DemoConversation))
	require.Equal(t, 1, h.srv.Hub().Members(devhub.DemoConversation))
	seeded := len(h.store.Messages(devhub.DemoConversation))

	sent, err := h.srv.SendMessage(devhub.DemoSeller.UserID, v1.SendMessageRequest{
		ConversationID: devhub.DemoConversation,
		Content:        "are you still interested?",
		Type:           v1.MessageText,
	}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := h.store.Messages(devhub.DemoConversation)
		return len(msgs) == seeded+1 && msgs[len(msgs)-1].ID == sent.ID
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		sum, ok := h.store.Conversation(devhub.DemoConversation)
		return ok && sum.UnreadCount == 2 && h.store.UnreadTotal() == 3
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.store.MarkAsRead(ctx, devhub.DemoConversation))
	require.Eventually(t, func() bool {
		sum, _ := h.store.Conversation(devhub.DemoConversation)
		return sum.UnreadCount == 0 && h.store.UnreadTotal() == 1
	}, 3*time.Second, 10*time.Millisecond)

	reply, err := h.store.SendMessage(ctx, SendInput{ConversationID: devhub.DemoConversation, Content: "yes!"})
	require.NoError(t, err)
	msgs := h.store.Messages(devhub.DemoConversation)
	assert.Equal(t, reply.ID, msgs[len(msgs)-1].ID)
	requireSortedUnique(t, msgs)
}

func TestStoreRejoinsAfterHubDrop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(good oauth2.TokenSource) oauth2.TokenSource { return good }, -1)

	h.store.Enable()
	require.Eventually(t, func() bool { return h.ctrl.Status().Connected() }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, h.store.OpenConversation(context.Background(), devhub.DemoConversation))
	first := h.ctrl.Status().ConnectionID

	h.srv.DropAll()

	require.Eventually(t, func() bool {
		st := h.ctrl.Status()
		return st.Connected() && st.ConnectionID != first && h.srv.Hub().Members(devhub.DemoConversation) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStoreJoinsConversationOpenedBeforeHubConnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(good oauth2.TokenSource) oauth2.TokenSource { return good }, -1)

	h.store.Enable()
	require.NoError(t, h.store.OpenConversation(context.Background(), devhub.DemoConversation))

	require.Eventually(t, func() bool {
		return h.ctrl.Status().Connected() && h.srv.Hub().Members(devhub.DemoConversation) == 1
	}, 3*time.Second, 10*time.Millisecond)

	sent, err := h.srv.SendMessage(devhub.DemoSeller.UserID, v1.SendMessageRequest{
		ConversationID: devhub.DemoConversation,
		Content:        "first push",
		Type:           v1.MessageText,
	}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := h.store.Messages(devhub.DemoConversation)
		return len(msgs) > 0 && msgs[len(msgs)-1].ID == sent.ID
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPollingCoversFailedHubAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(oauth2.TokenSource) oauth2.TokenSource { return session.StaticSource("rejected") }, 20*time.Millisecond)

	h.store.Enable()

	var st realtime.Status
	require.Eventually(t, func() bool {
		st = h.ctrl.Status()
		return st.State == realtime.StateDisconnected && st.Err != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, realtime.IsAuth(st.Err))

	require.Eventually(t, func() bool { return h.store.UnreadTotal() == 2 }, 3*time.Second, 10*time.Millisecond)

	_, err := h.srv.SendMessage(devhub.DemoSeller.UserID, v1.SendMessageRequest{
		ConversationID: devhub.DemoConversation,
		Content:        "ping",
		Type:           v1.MessageText,
	}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.store.UnreadTotal() == 3 }, 3*time.Second, 10*time.Millisecond)
}
