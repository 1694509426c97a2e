package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	v1 "aifshop/contracts/hub/v1"
)

// Connection is the part of Manager the Controller drives.
type Connection interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetHandlers(h Handlers)
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	ConnectionID() string
	Status() Status
}

var _ Connection = (*Manager)(nil)

// Factory builds a Connection for a Config.
type Factory func(cfg Config, log *slog.Logger) Connection

// DefaultFactory builds a Manager.
func DefaultFactory(cfg Config, log *slog.Logger) Connection {
	return NewManager(cfg, log)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithFactory replaces the Connection factory.
func WithFactory(f Factory) ControllerOption {
	return func(c *Controller) {
		if f != nil {
			c.factory = f
		}
	}
}

// Controller owns the lifecycle of at most one Connection.
type Controller struct {
	log     *slog.Logger
	factory Factory

	mu       sync.Mutex
	enabled  bool
	cfg      Config
	handlers Handlers
	epoch    uint64
	conn     Connection
	status   Status
	watchers map[uint64]chan Status
	nextID   uint64

	bg sync.WaitGroup // pending starts and stops
}

// NewController returns a disabled Controller.
func NewController(cfg Config, log *slog.Logger, opts ...ControllerOption) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:      log.With("component", "hub_lifecycle"),
		factory:  DefaultFactory,
		cfg:      cfg,
		status:   Status{State: StateDisconnected},
		watchers: make(map[uint64]chan Status),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEnabled creates or tears down the connection. Start failures surface
// through Status, never as a return value.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	c.log.Info("hub.lifecycle.enabled", "enabled", enabled)
	c.reconcileLocked()
}

// Enabled reports the current enable flag.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Configure replaces the configuration. While enabled the current connection
// is torn down and a new one is built from cfg.
func (c *Controller) Configure(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	if c.enabled {
		c.teardownLocked()
		c.reconcileLocked()
	}
}

// SetHandlers replaces the consumer handlers. Events are forwarded to whichever
// handlers are set when they arrive.
func (c *Controller) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// Status returns the latest status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe streams status changes until ctx is done. A slow reader sees the
// latest status; intermediate ones may be dropped.
func (c *Controller) Subscribe(ctx context.Context) <-chan Status {
	ch := make(chan Status, 1)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = ch
	ch <- c.status
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// JoinConversation asks the hub for a conversation's events. Failures are
// logged and swallowed.
func (c *Controller) JoinConversation(ctx context.Context, conversationID string) {
	c.invoke(ctx, v1.MethodJoinConversation, conversationID)
}

// LeaveConversation stops a conversation's events. Failures are logged and swallowed.
func (c *Controller) LeaveConversation(ctx context.Context, conversationID string) {
	c.invoke(ctx, v1.MethodLeaveConversation, conversationID)
}

func (c *Controller) invoke(ctx context.Context, target, conversationID string) {
	if strings.TrimSpace(conversationID) == "" {
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.log.Debug("hub.invoke.skip", "target", target, "conversation_id", conversationID, "reason", "disabled")
		return
	}

	var err error
	if target == v1.MethodJoinConversation {
		err = conn.JoinConversation(ctx, conversationID)
	} else {
		err = conn.LeaveConversation(ctx, conversationID)
	}
	if err != nil {
		c.log.Warn("hub.invoke.fail", "target", target, "conversation_id", conversationID, "err", err)
	}
}

// Close disables the controller and waits for background starts and stops.
func (c *Controller) Close(ctx context.Context) error {
	c.SetEnabled(false)

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) reconcileLocked() {
	if !c.enabled {
		c.teardownLocked()
		c.setStatusLocked(Status{State: StateDisconnected})
		return
	}
	if c.conn != nil {
		return
	}

	c.epoch++
	epoch := c.epoch
	conn := c.factory(c.cfg, c.log)
	conn.SetHandlers(c.bind(epoch))
	c.conn = conn
	c.setStatusLocked(Status{State: StateConnecting})

	c.bg.Add(1)
	go c.start(epoch, conn)
}

func (c *Controller) start(epoch uint64, conn Connection) {
	defer c.bg.Done()

	err := conn.Start(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.conn != conn {
		c.log.Debug("hub.lifecycle.start.superseded", "epoch", epoch, "err", err)
		return
	}
	if err != nil {
		c.log.Warn("hub.lifecycle.start.fail", "kind", KindOf(err).String(), "err", err)
		c.setStatusLocked(Status{State: StateDisconnected, Err: err})
		return
	}
	// A drop between Start returning and here has already been reported.
	if st := conn.Status(); st.State != StateConnected {
		c.setStatusLocked(st)
		return
	}
	c.setStatusLocked(Status{State: StateConnected, ConnectionID: conn.ConnectionID()})
}

// teardownLocked detaches the current connection and stops it in the
// background. Stop errors are logged, never returned.
func (c *Controller) teardownLocked() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	c.epoch++

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
		if err := conn.Stop(ctx); err != nil {
			c.log.Debug("hub.lifecycle.stop.fail", "err", err)
		}
	}()
}

func (c *Controller) setStatusLocked(s Status) {
	c.status = s
	for _, ch := range c.watchers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// bind wraps the consumer handlers for one connection instance. Lifecycle
// callbacks update Status; everything from a discarded instance is dropped.
func (c *Controller) bind(epoch uint64) Handlers {
	return HandlerFuncs{
		ReceiveMessage: func(msg v1.Message) {
			if h := c.current(epoch, nil); h != nil {
				h.OnReceiveMessage(msg)
			}
		},
		ConversationUpdated: func(p v1.ConversationPatch) {
			if h := c.current(epoch, nil); h != nil {
				h.OnConversationUpdated(p)
			}
		},
		MessagesRead: func(ev v1.MessagesRead) {
			if h := c.current(epoch, nil); h != nil {
				h.OnMessagesRead(ev)
			}
		},
		Connected: func(id string) {
			if h := c.current(epoch, &Status{State: StateConnected, ConnectionID: id}); h != nil {
				h.OnConnected(id)
			}
		},
		Reconnecting: func(err error) {
			if h := c.current(epoch, &Status{State: StateReconnecting, Err: err}); h != nil {
				h.OnReconnecting(err)
			}
		},
		Reconnected: func(id string) {
			if h := c.current(epoch, &Status{State: StateConnected, ConnectionID: id}); h != nil {
				h.OnReconnected(id)
			}
		},
		Closed: func(err error) {
			if h := c.current(epoch, &Status{State: StateDisconnected, Err: err}); h != nil {
				h.OnClosed(err)
			}
		},
	}
}

// current returns the consumer handlers if epoch is still live, applying
// status first when given. Handlers run outside the lock.
func (c *Controller) current(epoch uint64, status *Status) Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return nil
	}
	if status != nil {
		c.setStatusLocked(*status)
	}
	return c.handlers
}
