// Package restapi is the client for the marketplace chat REST service.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every REST call.
	DefaultTimeout = 30 * time.Second

	defaultRateLimit = 10
	defaultBurst     = 20

	maxErrorBody = 64 << 10

	// IdempotencyKeyHeader deduplicates retried sends on the server.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// Client talks to /api/chat.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	log     *slog.Logger
	newKey  func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is forced to DefaultTimeout when zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit throttles outgoing requests. A non-positive limit disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a Client for baseURL (scheme + host, optional path prefix).
func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", baseURL)
	}
	if u.Host == "" {
		return nil, errors.New("base url missing host")
	}

	c := &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(defaultRateLimit, defaultBurst),
		log:     slog.Default(),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = DefaultTimeout
	}
	return c, nil
}

// ListParams selects a page of the conversation list.
type ListParams struct {
	Page     int
	PageSize int
	Search   string
}

// PageParams selects a page of a conversation's messages.
type PageParams struct {
	Page     int
	PageSize int
}

// ListConversations fetches one page of the conversation list.
func (c *Client) ListConversations(ctx context.Context, p ListParams) (v1.ConversationPage, error) {
	q := url.Values{}
	setPage(q, p.Page, p.PageSize)
	if s := strings.TrimSpace(p.Search); s != "" {
		q.Set("search", s)
	}
	return do[v1.ConversationPage](ctx, c, http.MethodGet, "/api/chat/conversations", q, nil, nil)
}

// GetConversation fetches a conversation and one page of its messages.
func (c *Client) GetConversation(ctx context.Context, id string, p PageParams) (v1.ConversationDetail, error) {
	if strings.TrimSpace(id) == "" {
		return v1.ConversationDetail{}, ErrMissingConversationID
	}
	q := url.Values{}
	setPage(q, p.Page, p.PageSize)
	return do[v1.ConversationDetail](ctx, c, http.MethodGet, "/api/chat/conversations/"+url.PathEscape(id), q, nil, nil)
}

// SendMessage posts a message and returns the server's copy (server id and timestamp).
func (c *Client) SendMessage(ctx context.Context, req v1.SendMessageRequest) (v1.Message, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return v1.Message{}, ErrMissingConversationID
	}
	h := http.Header{}
	h.Set(IdempotencyKeyHeader, c.newKey())
	return do[v1.Message](ctx, c, http.MethodPost, "/api/chat/messages", nil, req, h)
}

// MarkAsRead acknowledges every message in the conversation as read.
func (c *Client) MarkAsRead(ctx context.Context, id string) (v1.MessagesRead, error) {
	if strings.TrimSpace(id) == "" {
		return v1.MessagesRead{}, ErrMissingConversationID
	}
	return do[v1.MessagesRead](ctx, c, http.MethodPost, "/api/chat/conversations/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

// UpdatePreferences archives, mutes or blocks a conversation for the current user.
func (c *Client) UpdatePreferences(ctx context.Context, id string, u v1.PreferencesUpdate) (v1.ConversationSummary, error) {
	if strings.TrimSpace(id) == "" {
		return v1.ConversationSummary{}, ErrMissingConversationID
	}
	return do[v1.ConversationSummary](ctx, c, http.MethodPatch, "/api/chat/conversations/"+url.PathEscape(id)+"/preferences", nil, u, nil)
}

// UnreadCount returns the total number of unread messages for the current user.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	out, err := do[v1.UnreadCount](ctx, c, http.MethodGet, "/api/chat/unread-count", nil, nil, nil)
	if err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func setPage(q url.Values, page, size int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		q.Set("pageSize", strconv.Itoa(size))
	}
}

func do[T any](ctx context.Context, c *Client, method, path string, q url.Values, body any, h http.Header) (T, error) {
	var zero T

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("marshaling request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return zero, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if c.tokens == nil {
		return zero, fmt.Errorf("%w: no token source", ErrUnauthorized)
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	tok.SetAuthHeader(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("rest.request.fail", "method", method, "path", path, "err", err)
		return zero, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug("rest.request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return zero, handleErrorResponse(resp, method, path)
	}
	if resp.StatusCode == http.StatusNoContent {
		return zero, nil
	}

	var env v1.Response[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	if !env.Succeeded {
		return zero, &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: env.Message}
	}
	return env.Data, nil
}

// handleErrorResponse extracts the server message from non-2xx responses.
func handleErrorResponse(resp *http.Response, method, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(body))
	var env v1.Response[json.RawMessage]
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: msg}
}
