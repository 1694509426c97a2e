package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/coder/websocket"
	"golang.org/x/oauth2"
)

// Manager owns a single hub connection.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	router  *Router

	mu       sync.Mutex
	state    State
	connID   string
	lastErr  error
	conn     *websocket.Conn
	cancel   context.CancelFunc // cancels connect attempts and the run loop
	starting chan struct{}      // closed when the in-flight Start returns
	startErr error
	loopDone chan struct{}
	settled  chan struct{} // closed when the current reconnect cycle ends
	pending  map[string]chan error
}

type hubSession struct {
	conn *websocket.Conn
	id   string
}

// NewManager builds a disconnected Manager.
func NewManager(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	log = log.With("component", "hub")
	return &Manager{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		router:  NewRouter(log, cfg.Metrics),
		state:   StateDisconnected,
		pending: make(map[string]chan error),
	}
}

// SetHandlers replaces the handler binding.
func (m *Manager) SetHandlers(h Handlers) {
	id := m.router.Bind(h)
	m.log.Debug("hub.handlers.bind", "binding", id)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the server-assigned id of the current connection.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// Status returns state, connection id and the last error together.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, ConnectionID: m.connID, Err: m.lastErr}
}

// Start opens the connection. It returns nil when already connected and waits
// for an in-flight attempt instead of opening a second connection. While
// reconnecting it waits for the cycle to end and returns nil only if the
// connection came back.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateReconnecting:
		wait := m.settled
		m.mu.Unlock()
		return m.awaitReconnect(ctx, wait)
	case StateConnecting:
		wait := m.starting
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.startErr
	case StateDisconnecting:
		m.mu.Unlock()
		return ErrStopping
	}

	if err := m.cfg.Validate(); err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	starting := make(chan struct{})
	m.state = StateConnecting
	m.cancel = cancel
	m.starting = starting
	m.startErr = nil
	m.lastErr = nil
	m.mu.Unlock()

	m.metrics.setState(StateConnecting)
	m.log.Info("hub.start", "url", m.cfg.HubURL, "skip_negotiation", m.cfg.SkipNegotiation)

	connectCtx, cancelConnect := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(runCtx, cancelConnect)
	sess, err := m.connect(connectCtx)
	stopAfter()
	cancelConnect()

	m.mu.Lock()
	if err == nil && runCtx.Err() != nil {
		_ = sess.conn.Close(websocket.StatusNormalClosure, "stopped")
		err = ErrStopped
	}
	if err != nil {
		if m.state == StateConnecting {
			m.state = StateDisconnected
			m.cancel = nil
		}
		m.lastErr = err
		m.startErr = err
		close(starting)
		m.mu.Unlock()

		cancel()
		m.metrics.connectResult(err)
		m.metrics.setState(StateDisconnected)
		m.log.Warn("hub.start.fail", "kind", KindOf(err).String(), "err", err)
		return err
	}

	done := make(chan struct{})
	m.state = StateConnected
	m.conn = sess.conn
	m.connID = sess.id
	m.loopDone = done
	close(starting)
	m.mu.Unlock()

	m.metrics.connectResult(nil)
	m.metrics.setState(StateConnected)
	m.log.Info("hub.connected", "connection_id", sess.id)
	m.router.connected(sess.id)

	go m.run(runCtx, sess.conn, done)
	return nil
}

func (m *Manager) awaitReconnect(ctx context.Context, wait <-chan struct{}) error {
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateConnected:
		return nil
	case StateDisconnecting:
		return ErrStopped
	}
	if m.lastErr != nil {
		return m.lastErr
	}
	return ErrNotConnected
}

// Stop closes the connection and cancels a pending Start. It is a no-op when
// already disconnected or stopping.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateDisconnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDisconnecting
	conn := m.conn
	starting := m.starting
	done := m.loopDone
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.metrics.setState(StateDisconnecting)
	m.log.Info("hub.stop")

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client stop")
	}

	var waitErr error
	for _, ch := range []chan struct{}{starting, done} {
		if ch == nil || waitErr != nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	m.failPending(ErrStopped)

	m.mu.Lock()
	m.state = StateDisconnected
	m.conn = nil
	m.connID = ""
	m.cancel = nil
	m.loopDone = nil
	m.mu.Unlock()

	m.metrics.setState(StateDisconnected)
	m.router.closed(nil)
	m.log.Info("hub.stopped")
	return waitErr
}

// JoinConversation subscribes the connection to a conversation's events.
func (m *Manager) JoinConversation(ctx context.Context, conversationID string) error {
	return m.invoke(ctx, v1.MethodJoinConversation, conversationID)
}

// LeaveConversation unsubscribes the connection from a conversation's events.
func (m *Manager) LeaveConversation(ctx context.Context, conversationID string) error {
	return m.invoke(ctx, v1.MethodLeaveConversation, conversationID)
}

func (m *Manager) invoke(ctx context.Context, target, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}

	now := time.Now().UTC()
	id := newEnvelopeID(now)
	ch := make(chan error, 1)

	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.pending[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	env, err := v1.NewEnvelope(v1.TypeInvocation, id, now, v1.InvocationPayload{
		Target:         target,
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}

	if err := writeEnvelope(ctx, conn, env, m.cfg.WriteTimeout); err != nil {
		err = &Error{Kind: KindRemoteCall, Op: target, Err: err}
		m.metrics.invocation(target, err)
		return err
	}

	select {
	case err = <-ch:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.metrics.invocation(target, err)
	if err != nil {
		m.log.Debug("hub.invoke.fail", "target", target, "conversation_id", conversationID, "err", err)
	}
	return err
}

// ---- connection setup ----

func (m *Manager) token() (*oauth2.Token, error) {
	if m.cfg.TokenSource == nil {
		return nil, &Error{Kind: KindAuth, Op: "token", Err: ErrNoCredentials}
	}
	tok, err := m.cfg.TokenSource.Token()
	if err != nil {
		return nil, &Error{Kind: KindAuth, Op: "token", Err: err}
	}
	if !tok.Valid() {
		return nil, &Error{Kind: KindAuth, Op: "token", Err: errors.New("token empty or expired")}
	}
	return tok, nil
}

// connect negotiates, dials and completes the hello handshake. The returned
// connection is fully usable; on error nothing is left open.
func (m *Manager) connect(ctx context.Context) (*hubSession, error) {
	tok, err := m.token()
	if err != nil {
		return nil, err
	}

	negotiatedID := ""
	if !m.cfg.SkipNegotiation {
		n, err := m.negotiate(ctx, tok)
		if err != nil {
			return nil, err
		}
		negotiatedID = n.ConnectionID
	}

	h := http.Header{}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)

	// Dial rejects http.Clients with a Timeout; ctx bounds the handshake instead.
	conn, resp, err := websocket.Dial(ctx, wsURL(m.cfg.HubURL), &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, classifyStatus("dial", status, err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, &Error{Kind: KindTransport, Op: "dial", Err: fmt.Errorf("subprotocol mismatch: got=%q want=%q", sp, v1.Subprotocol)}
	}
	conn.SetReadLimit(maxFrameBytes)

	id, err := m.handshake(ctx, conn, negotiatedID)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}
	return &hubSession{conn: conn, id: id}, nil
}

func (m *Manager) negotiate(ctx context.Context, tok *oauth2.Token) (v1.NegotiateResponse, error) {
	target, err := negotiateURL(m.cfg.HubURL)
	if err != nil {
		return v1.NegotiateResponse{}, &Error{Kind: KindConfig, Op: "negotiate", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return v1.NegotiateResponse{}, &Error{Kind: KindConfig, Op: "negotiate", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return v1.NegotiateResponse{}, &Error{Kind: KindTransport, Op: "negotiate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return v1.NegotiateResponse{}, classifyStatus("negotiate", resp.StatusCode, nil)
	}

	var out v1.NegotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return v1.NegotiateResponse{}, &Error{Kind: KindTransport, Op: "negotiate", Err: fmt.Errorf("decode: %w", err)}
	}
	if !out.Supports(v1.TransportWebSockets) {
		return v1.NegotiateResponse{}, &Error{Kind: KindTransport, Op: "negotiate", Err: ErrUnsupportedTransport}
	}
	return out, nil
}

func (m *Manager) handshake(parent context.Context, conn *websocket.Conn, negotiatedID string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.HandshakeTimeout)
	defer cancel()

	now := time.Now().UTC()
	hello, err := v1.NewEnvelope(v1.TypeHello, newEnvelopeID(now), now, v1.HelloPayload{NegotiatedID: negotiatedID})
	if err != nil {
		return "", err
	}
	if err := writeEnvelope(ctx, conn, hello, m.cfg.WriteTimeout); err != nil {
		return "", &Error{Kind: KindTransport, Op: "hello", Err: err}
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if classifyReadErr(err) == readErrBadFrame {
				m.log.Debug("hub.hello.skip", "err", err)
				continue
			}
			return "", &Error{Kind: KindTransport, Op: "hello", Err: err}
		}

		switch env.Type {
		case v1.TypeHelloAck:
			var ack v1.HelloAckPayload
			if err := env.Decode(&ack); err != nil {
				return "", &Error{Kind: KindTransport, Op: "hello", Err: err}
			}
			if strings.TrimSpace(ack.ConnectionID) == "" {
				return "", &Error{Kind: KindTransport, Op: "hello", Err: errors.New("hello_ack missing connectionId")}
			}
			return ack.ConnectionID, nil

		case v1.TypeError:
			var p v1.ErrorPayload
			_ = env.Decode(&p)
			herr := fmt.Errorf("%s: %s", p.Code, p.Message)
			if p.Code == v1.CodeUnauthorized || p.Code == v1.CodeForbidden {
				return "", &Error{Kind: KindAuth, Op: "hello", Err: herr}
			}
			return "", &Error{Kind: KindTransport, Op: "hello", Err: herr}
		}
	}
}

// ---- run loop ----

func (m *Manager) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		err := m.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		m.failPending(ErrNotConnected)
		m.log.Info("hub.connection.lost", "err", err)

		if !m.cfg.AutoReconnect {
			m.closed(err)
			return
		}

		next, rerr := m.reconnect(ctx, err)
		if rerr != nil {
			if ctx.Err() == nil {
				m.closed(rerr)
			}
			m.settle()
			return
		}
		m.settle()
		conn = next
	}
}

// serve reads from conn until it fails. Completions resolve pending
// invocations; events go to the router in arrival order.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go m.keepAlive(connCtx, conn)

	for {
		env, err := readEnvelope(connCtx, conn)
		if err != nil {
			kind := classifyReadErr(err)
			if kind == readErrBadFrame {
				m.log.Debug("hub.frame.bad", "err", err)
				continue
			}
			_ = conn.CloseNow()
			m.log.Debug("hub.read.fail", "reason", kind.String(), "close_status", websocket.CloseStatus(err), "err", err)
			return &Error{Kind: KindTransport, Op: "read", Err: err}
		}

		switch env.Type {
		case v1.TypeEvent:
			m.router.dispatchLogged(env)
		case v1.TypeCompletion:
			m.complete(env)
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = env.Decode(&p)
			m.log.Warn("hub.server.error", "code", p.Code, "message", p.Message)
		default:
			m.log.Debug("hub.frame.ignored", "type", env.Type)
		}
	}
}

func (m *Manager) keepAlive(ctx context.Context, conn *websocket.Conn) {
	if m.cfg.KeepAliveInterval <= 0 {
		return
	}

	t := time.NewTicker(m.cfg.KeepAliveInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.KeepAliveTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				m.log.Info("hub.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					_ = conn.Close(websocket.StatusGoingAway, "keepalive failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (m *Manager) reconnect(ctx context.Context, cause error) (*websocket.Conn, error) {
	m.mu.Lock()
	// Stop may have won the race with the read failure.
	if ctx.Err() != nil || m.state == StateDisconnecting {
		m.mu.Unlock()
		return nil, ErrStopped
	}
	m.state = StateReconnecting
	m.conn = nil
	m.lastErr = cause
	if m.settled == nil {
		m.settled = make(chan struct{})
	}
	m.mu.Unlock()

	m.metrics.setState(StateReconnecting)
	m.router.reconnecting(cause)

	last := cause
	for attempt, delay := range m.cfg.ReconnectDelays {
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}

		m.log.Info("hub.reconnect.attempt", "attempt", attempt+1, "delay", delay)
		sess, err := m.connect(ctx)
		m.metrics.reconnectResult(err)
		if err != nil {
			last = err
			m.log.Warn("hub.reconnect.fail", "attempt", attempt+1, "kind", KindOf(err).String(), "err", err)
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			_ = sess.conn.Close(websocket.StatusNormalClosure, "stopped")
			return nil, ctx.Err()
		}
		m.state = StateConnected
		m.conn = sess.conn
		m.connID = sess.id
		m.lastErr = nil
		m.mu.Unlock()

		m.metrics.setState(StateConnected)
		m.log.Info("hub.reconnected", "connection_id", sess.id, "attempt", attempt+1)
		m.router.reconnected(sess.id)
		return sess.conn, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, len(m.cfg.ReconnectDelays), last)
}

// settle wakes Start calls waiting on a reconnect cycle.
func (m *Manager) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled != nil {
		close(m.settled)
		m.settled = nil
	}
}

// closed records a terminal drop that Stop did not initiate.
func (m *Manager) closed(err error) {
	m.mu.Lock()
	if m.state == StateDisconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.conn = nil
	m.connID = ""
	m.lastErr = err
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.metrics.setState(StateDisconnected)
	m.log.Warn("hub.closed", "kind", KindOf(err).String(), "err", err)
	m.router.closed(err)
}

func (m *Manager) complete(env v1.Envelope) {
	var p v1.CompletionPayload
	if err := env.Decode(&p); err != nil {
		m.log.Warn("hub.completion.bad", "envelope_id", env.ID, "err", err)
		return
	}

	m.mu.Lock()
	ch := m.pending[p.InvocationID]
	delete(m.pending, p.InvocationID)
	m.mu.Unlock()

	if ch == nil {
		m.log.Debug("hub.completion.orphan", "invocation_id", p.InvocationID)
		return
	}

	var err error
	if p.Error != "" {
		err = &Error{Kind: KindRemoteCall, Op: "invoke", Err: fmt.Errorf("%s: %s", p.Code, p.Error)}
	}
	ch <- err
}

func (m *Manager) failPending(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ch := range m.pending {
		select {
		case ch <- err:
		default:
		}
		delete(m.pending, id)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
