package devhub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aifshop/cmd/internal/auth/session"
	"aifshop/cmd/internal/restapi"
	v1 "aifshop/contracts/hub/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	issuer, err := session.NewIssuer([]byte(strings.Repeat("k", 32)), "devhub-test", time.Hour)
	require.NoError(t, err)

	srv, err := New(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Issuer: issuer,
		Seed:   true,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func tokenFor(t *testing.T, srv *Server, userID string) string {
	t.Helper()
	tok, err := srv.Token(userID)
	require.NoError(t, err)
	return tok
}

func dialHub(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+DefaultHubPath, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	env, err := v1.NewEnvelope(typ, id, time.Now(), payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, writeEnvelope(ctx, conn, env, time.Second))
}

func recv(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := readEnvelope(ctx, conn)
	require.NoError(t, err)
	return env
}

func handshake(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	send(t, conn, v1.TypeHello, "", v1.HelloPayload{})
	env := recv(t, conn)
	require.Equal(t, v1.TypeHelloAck, env.Type)
	var ack v1.HelloAckPayload
	require.NoError(t, env.Decode(&ack))
	require.NotEmpty(t, ack.ConnectionID)
	return ack.ConnectionID
}

func TestRESTWithClient(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t)

	c, err := restapi.New(ts.URL, session.StaticSource(tokenFor(t, srv, DemoBuyer.UserID)), restapi.WithRateLimit(0, 0))
	require.NoError(t, err)
	ctx := context.Background()

	page, err := c.ListConversations(ctx, restapi.ListParams{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	n, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msg, err := c.SendMessage(ctx, v1.SendMessageRequest{ConversationID: DemoConversation, Content: "hello", Type: v1.MessageText})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, DemoBuyer.UserID, msg.SenderID)

	detail, err := c.GetConversation(ctx, DemoConversation, restapi.PageParams{Page: 1, PageSize: 50})
	require.NoError(t, err)
	require.NotEmpty(t, detail.Messages)
	assert.Equal(t, msg.ID, detail.Messages[len(detail.Messages)-1].ID)

	read, err := c.MarkAsRead(ctx, DemoConversation)
	require.NoError(t, err)
	assert.Equal(t, 0, read.UnreadCounts[DemoBuyer.UserID])

	_, err = c.GetConversation(ctx, "C404", restapi.PageParams{})
	assert.Equal(t, http.StatusNotFound, restapi.StatusCode(err))

	bad, err := restapi.New(ts.URL, session.StaticSource("not-a-token"), restapi.WithRateLimit(0, 0))
	require.NoError(t, err)
	_, err = bad.UnreadCount(ctx)
	assert.True(t, restapi.IsUnauthorized(err))
}

func TestSendMessageIdempotencyKey(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := v1.SendMessageRequest{ConversationID: DemoConversation, Content: "once", Type: v1.MessageText}
	a, err := srv.SendMessage(DemoBuyer.UserID, req, "key-1")
	require.NoError(t, err)
	b, err := srv.SendMessage(DemoBuyer.UserID, req, "key-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = srv.SendMessage(DemoBuyer.UserID, v1.SendMessageRequest{ConversationID: DemoConversation, Content: "x"}, "")
	assert.ErrorIs(t, err, ErrInvalid, "messageType is required")
}

func TestNegotiate(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t)

	post := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+DefaultHubPath+"/negotiate", nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, post("").StatusCode)

	resp := post(tokenFor(t, srv, DemoBuyer.UserID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out v1.NegotiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.ConnectionID)
	assert.True(t, out.Supports(v1.TransportWebSockets))

	srv.Gateway().SetUnavailable(true)
	assert.Equal(t, http.StatusServiceUnavailable, post(tokenFor(t, srv, DemoBuyer.UserID)).StatusCode)
}

func TestHubJoinAndFanout(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t)

	conn := dialHub(t, ts, tokenFor(t, srv, DemoBuyer.UserID))
	handshake(t, conn)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, conn, v1.TypeInvocation, "inv-1", v1.InvocationPayload{Target: v1.MethodJoinConversation, ConversationID: DemoConversation})
	env := recv(t, conn)
	require.Equal(t, v1.TypeCompletion, env.Type)
	var done v1.CompletionPayload
	require.NoError(t, env.Decode(&done))
	assert.Equal(t, "inv-1", done.InvocationID)
	assert.Empty(t, done.Error)
	assert.Equal(t, 1, srv.Hub().Members(DemoConversation))

	msg, err := srv.SendMessage(DemoSeller.UserID, v1.SendMessageRequest{ConversationID: DemoConversation, Content: "ping", Type: v1.MessageText}, "")
	require.NoError(t, err)

	names := map[string]v1.EventPayload{}
	for i := 0; i < 2; i++ {
		env := recv(t, conn)
		require.Equal(t, v1.TypeEvent, env.Type)
		var ev v1.EventPayload
		require.NoError(t, env.Decode(&ev))
		names[ev.Name] = ev
	}
	require.Contains(t, names, v1.EventReceiveMessage)
	require.Contains(t, names, v1.EventConversationUpdated)

	var got v1.Message
	require.NoError(t, json.Unmarshal(names[v1.EventReceiveMessage].Data, &got))
	assert.Equal(t, msg.ID, got.ID)

	var patch v1.ConversationPatch
	require.NoError(t, json.Unmarshal(names[v1.EventConversationUpdated].Data, &patch))
	require.NotNil(t, patch.UnreadCount)
	assert.Equal(t, 2, *patch.UnreadCount)
}

func TestHubJoinForbidden(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t)

	conn := dialHub(t, ts, tokenFor(t, srv, DemoSeller.UserID))
	handshake(t, conn)

	send(t, conn, v1.TypeInvocation, "inv-2", v1.InvocationPayload{Target: v1.MethodJoinConversation, ConversationID: DemoOrderConversation})
	env := recv(t, conn)
	require.Equal(t, v1.TypeCompletion, env.Type)
	var done v1.CompletionPayload
	require.NoError(t, env.Decode(&done))
	assert.Equal(t, v1.CodeForbidden, done.Code)
	assert.Equal(t, 0, srv.Hub().Members(DemoOrderConversation))
}

func TestHubDropAll(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t)

	conn := dialHub(t, ts, tokenFor(t, srv, DemoBuyer.UserID))
	handshake(t, conn)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.DropAll()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
