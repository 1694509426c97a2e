package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeOK[T any](t *testing.T, w http.ResponseWriter, data T) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v1.Response[T]{Succeeded: true, Data: data}))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1"}), WithRateLimit(0, 0))
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "ftp://x", "http://", "://bad"} {
		_, err := New(in, nil)
		assert.Error(t, err, "base url %q", in)
	}
}

func TestListConversations(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chat/conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "shoes", r.URL.Query().Get("search"))
		writeOK(t, w, v1.ConversationPage{
			Items:      []v1.ConversationSummary{{ID: "C1", UnreadCount: 3}},
			Page:       2,
			PageSize:   10,
			TotalCount: 11,
		})
	})

	c := newTestClient(t, mux)
	page, err := c.ListConversations(context.Background(), ListParams{Page: 2, PageSize: 10, Search: " shoes "})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "C1", page.Items[0].ID)
	assert.Equal(t, 3, page.Items[0].UnreadCount)
}

func TestSendMessageSetsIdempotencyKey(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(IdempotencyKeyHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req v1.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "C1", req.ConversationID)
		assert.Equal(t, "hello", req.Content)

		writeOK(t, w, v1.Message{ID: "M2", ConversationID: "C1", Content: req.Content, Type: req.Type, CreatedAt: created})
	})

	c := newTestClient(t, mux)
	msg, err := c.SendMessage(context.Background(), v1.SendMessageRequest{ConversationID: "C1", Content: "hello", Type: v1.MessageText})
	require.NoError(t, err)
	assert.Equal(t, "M2", msg.ID)
	assert.True(t, msg.CreatedAt.Equal(created))
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chat/unread-count", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"succeeded":false,"message":"token expired"}`))
	})
	mux.HandleFunc("GET /api/chat/conversations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such conversation", http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/chat/conversations/{id}/read", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"succeeded":false,"message":"conversation blocked"}`))
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.UnreadCount(ctx)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Contains(t, err.Error(), "token expired")

	_, err = c.GetConversation(ctx, "C404", PageParams{})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no such conversation")

	_, err = c.MarkAsRead(ctx, "C1")
	require.Error(t, err)
	assert.Equal(t, http.StatusOK, StatusCode(err))
	assert.False(t, IsUnauthorized(err))

	_, err = c.MarkAsRead(ctx, " ")
	require.ErrorIs(t, err, ErrMissingConversationID)
}

func TestTokenErrorIsUnauthorized(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(http.ResponseWriter, *http.Request) { hits.Add(1) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.UnreadCount(context.Background())
	require.True(t, IsUnauthorized(err))
	assert.Zero(t, hits.Load(), "no request without credentials")
}

func TestUpdatePreferences(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/chat/conversations/{id}/preferences", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "C1", r.PathValue("id"))
		var u v1.PreferencesUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&u))
		require.NotNil(t, u.IsMuted)
		writeOK(t, w, v1.ConversationSummary{ID: "C1", IsMuted: *u.IsMuted})
	})

	c := newTestClient(t, mux)
	muted := true
	s, err := c.UpdatePreferences(context.Background(), "C1", v1.PreferencesUpdate{IsMuted: &muted})
	require.NoError(t, err)
	assert.True(t, s.IsMuted)
}
