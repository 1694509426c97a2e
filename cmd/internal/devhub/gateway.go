package devhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/coder/websocket"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout     = 5 * time.Second
	defaultReadIdle         = 2 * time.Minute
	defaultHelloTimeout     = 10 * time.Second
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 10 * time.Second
	closeGrace              = 1 * time.Second

	maxFrameBytes   = 1 << 20
	maxPingFailures = 3

	defaultRateLimit = 20 // invocations per second
	defaultRateBurst = 40
)

// GatewayConfig tunes the websocket side of the hub.
type GatewayConfig struct {
	SendQueueSize    int
	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HelloTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// RateLimit bounds inbound frames per connection; exceeding it closes the connection.
	RateLimit rate.Limit
	RateBurst int

	// OriginPatterns authorizes cross-origin browser upgrades. Requests without
	// an Origin header are always accepted.
	OriginPatterns []string
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = defaultHelloTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = defaultRateBurst
	}
	return c
}

// Gateway serves hub negotiation and websocket sessions.
type Gateway struct {
	log   *slog.Logger
	hub   *Hub
	store *Store
	cfg   GatewayConfig

	unavailable atomic.Bool
}

// NewGateway builds a Gateway over hub and store.
func NewGateway(log *slog.Logger, hub *Hub, store *Store, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{log: log, hub: hub, store: store, cfg: cfg.withDefaults()}
}

// SetUnavailable makes negotiation and upgrades answer 503 while true.
func (g *Gateway) SetUnavailable(v bool) { g.unavailable.Store(v) }

// Negotiate answers POST {hub}/negotiate.
func (g *Gateway) Negotiate(w http.ResponseWriter, r *http.Request) {
	if g.unavailable.Load() {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	render.JSON(w, r, v1.NegotiateResponse{
		ConnectionID:        uuid.NewString(),
		AvailableTransports: []v1.AvailableTransport{{Transport: v1.TransportWebSockets}},
	})
}

// ServeHTTP upgrades the request and runs the session until either side closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.unavailable.Load() {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	claims, ok := claimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.log.Error("devhub.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("devhub.ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID, err := g.hello(ctx, conn)
	if err != nil {
		g.log.Info("devhub.ws.hello.fail", "user_id", claims.UserID(), "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	peer := NewPeer(connID, claims.UserID(), g.cfg.SendQueueSize)
	g.hub.Register(peer)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(peer)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	ack, err := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{ConnectionID: connID})
	if err == nil {
		err = writeEnvelope(ctx, conn, ack, g.cfg.WriteTimeout)
	}
	if err != nil {
		shutdown(websocket.StatusInternalError, "hello ack failed")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-peer.Done():
				shutdown(websocket.StatusGoingAway, "server drop")
				return
			case env := <-peer.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("devhub.ws.write.fail", "connection_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, peer, shutdown)
	}()

	limiter := rate.NewLimiter(g.cfg.RateLimit, g.cfg.RateBurst)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			if errors.Is(err, errBadFrame) {
				g.trySendError(peer, v1.CodeBadEnvelope, err.Error())
				continue
			}
			if !peerGone(err) {
				g.log.Info("devhub.ws.read.fail", "connection_id", connID, "err", err)
			}
			shutdown(websocket.StatusNormalClosure, "peer closed")
			break
		}

		if !limiter.Allow() {
			g.trySendError(peer, v1.CodeRateLimited, "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		if err := env.Validate(); err != nil {
			g.trySendError(peer, v1.CodeBadEnvelope, err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeInvocation:
			g.onInvocation(peer, env)
		case v1.TypeHello:
			// Repeated hello on an open session is ignored.
		default:
			g.trySendError(peer, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// hello waits for the client's hello and returns the connection id to use.
func (g *Gateway) hello(parent context.Context, conn *websocket.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(parent, g.cfg.HelloTimeout)
	defer cancel()

	env, err := readEnvelope(ctx, conn)
	if err != nil {
		return "", err
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	if env.Type != v1.TypeHello {
		return "", fmt.Errorf("expected %s, got %s", v1.TypeHello, env.Type)
	}

	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := env.Decode(&p); err != nil {
			return "", err
		}
	}
	if id := strings.TrimSpace(p.NegotiatedID); id != "" {
		return id, nil
	}
	return uuid.NewString(), nil
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, peer *Peer, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("devhub.ws.ping.fail", "connection_id", peer.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) onInvocation(peer *Peer, env v1.Envelope) {
	var p v1.InvocationPayload
	if err := env.Decode(&p); err != nil {
		g.complete(peer, env.ID, v1.CodeBadEnvelope, err.Error())
		return
	}

	convID := strings.TrimSpace(p.ConversationID)
	switch p.Target {
	case v1.MethodJoinConversation:
		if !g.store.IsParticipant(convID, peer.UserID) {
			g.complete(peer, env.ID, v1.CodeForbidden, "not a participant of "+convID)
			return
		}
		g.hub.Join(convID, peer)
	case v1.MethodLeaveConversation:
		g.hub.Leave(convID, peer)
	default:
		g.complete(peer, env.ID, v1.CodeUnsupported, "unknown target "+p.Target)
		return
	}
	g.complete(peer, env.ID, "", "")
}

func (g *Gateway) complete(peer *Peer, invocationID, code, msg string) {
	env, err := newEnvelope(v1.TypeCompletion, v1.CompletionPayload{
		InvocationID: invocationID,
		Code:         code,
		Error:        msg,
	})
	if err != nil {
		g.log.Error("devhub.completion.encode", "err", err)
		return
	}
	if !peer.offer(env) {
		g.log.Info("devhub.completion.drop", "connection_id", peer.ID, "invocation_id", invocationID)
	}
}

func (g *Gateway) trySendError(peer *Peer, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = peer.offer(env)
}
