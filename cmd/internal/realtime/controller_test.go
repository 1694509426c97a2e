package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a Connection whose Start can be held open and failed on demand.
type fakeConn struct {
	id       string
	gate     chan struct{} // Start blocks until closed, when non-nil
	startErr error
	joinErr  error

	mu       sync.Mutex
	handlers Handlers
	state    State
	starts   int
	stops    int
	joins    []string
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, stopped: make(chan struct{})}
}

func (f *fakeConn) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.stopped:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.state = StateConnected
	h := f.handlers
	f.mu.Unlock()
	if h != nil {
		h.OnConnected(f.id)
	}
	return nil
}

func (f *fakeConn) Stop(context.Context) error {
	f.mu.Lock()
	f.stops++
	f.state = StateDisconnected
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return errors.New("stop errors are swallowed")
}

func (f *fakeConn) SetHandlers(h Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

func (f *fakeConn) JoinConversation(_ context.Context, id string) error {
	f.mu.Lock()
	f.joins = append(f.joins, id)
	f.mu.Unlock()
	return f.joinErr
}

func (f *fakeConn) LeaveConversation(context.Context, string) error { return nil }

func (f *fakeConn) ConnectionID() string { return f.id }

func (f *fakeConn) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateConnected {
		return Status{State: StateConnected, ConnectionID: f.id}
	}
	return Status{State: f.state}
}

func (f *fakeConn) bound() Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func (f *fakeConn) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// fakeFactory hands out prepared connections in order.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	made  []*fakeConn
}

func (ff *fakeFactory) build(Config, *slog.Logger) Connection {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	var c *fakeConn
	if len(ff.conns) > 0 {
		c, ff.conns = ff.conns[0], ff.conns[1:]
	} else {
		c = newFakeConn(fmt.Sprintf("conn-%d", len(ff.made)+1))
	}
	ff.made = append(ff.made, c)
	return c
}

func (ff *fakeFactory) instances() []*fakeConn {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]*fakeConn(nil), ff.made...)
}

func newTestController(t *testing.T, conns ...*fakeConn) (*Controller, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{conns: conns}
	c := NewController(Config{HubURL: "http://hub.test/hubs/chat"}, discardLogger(), WithFactory(ff.build))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, ff
}

func waitState(t *testing.T, c *Controller, want State) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st = c.Status()
		return st.State == want
	}, 2*time.Second, 5*time.Millisecond, "want state %s", want)
	return st
}

func TestControllerDisabledHasNoConnection(t *testing.T) {
	t.Parallel()
	c, ff := newTestController(t)

	assert.False(t, c.Enabled())
	assert.Equal(t, StateDisconnected, c.Status().State)
	c.JoinConversation(context.Background(), "C1")
	assert.Empty(t, ff.instances())
}

func TestControllerEnableConnects(t *testing.T) {
	t.Parallel()
	c, ff := newTestController(t)

	c.SetEnabled(true)
	c.SetEnabled(true)

	st := waitState(t, c, StateConnected)
	assert.Equal(t, "conn-1", st.ConnectionID)
	require.Len(t, ff.instances(), 1, "enabling twice builds one connection")
	starts, _ := ff.instances()[0].counts()
	assert.Equal(t, 1, starts)
}

func TestControllerDisableWhileStartPending(t *testing.T) {
	t.Parallel()
	slow := newFakeConn("slow")
	slow.gate = make(chan struct{})
	c, _ := newTestController(t, slow)

	c.SetEnabled(true)
	assert.Equal(t, StateConnecting, c.Status().State)

	c.SetEnabled(false)
	assert.Equal(t, StateDisconnected, c.Status().State)

	require.Eventually(t, func() bool {
		_, stops := slow.counts()
		return stops == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	// The aborted start must not resurrect the status.
	st := c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.NoError(t, st.Err)
}

func TestControllerStartFailureSurfacesInStatus(t *testing.T) {
	t.Parallel()
	bad := newFakeConn("bad")
	bad.startErr = &Error{Kind: KindAuth, Op: "negotiate", StatusCode: 401, Err: errors.New("Unauthorized")}
	c, _ := newTestController(t, bad)

	c.SetEnabled(true)

	st := waitState(t, c, StateDisconnected)
	require.Error(t, st.Err)
	assert.True(t, IsAuth(st.Err))
	assert.True(t, c.Enabled(), "a failed start leaves the controller enabled")
}

func TestControllerConfigureDiscardsOldInstance(t *testing.T) {
	t.Parallel()
	c, ff := newTestController(t)

	var mu sync.Mutex
	var got []string
	c.SetHandlers(HandlerFuncs{ReceiveMessage: func(m v1.Message) {
		mu.Lock()
		got = append(got, m.ID)
		mu.Unlock()
	}})

	c.SetEnabled(true)
	waitState(t, c, StateConnected)
	c.Configure(Config{HubURL: "http://other.test/hubs/chat"})
	st := waitState(t, c, StateConnected)

	made := ff.instances()
	require.Len(t, made, 2)
	assert.Equal(t, "conn-2", st.ConnectionID)
	require.Eventually(t, func() bool {
		_, stops := made[0].counts()
		return stops == 1
	}, time.Second, 5*time.Millisecond)

	made[0].bound().OnReceiveMessage(v1.Message{ID: "stale"})
	made[0].bound().OnClosed(errors.New("late close"))
	made[1].bound().OnReceiveMessage(v1.Message{ID: "live"})

	mu.Lock()
	assert.Equal(t, []string{"live"}, got)
	mu.Unlock()
	assert.Equal(t, StateConnected, c.Status().State, "callbacks of a discarded instance are ignored")
}

func TestControllerLifecycleCallbacks(t *testing.T) {
	t.Parallel()
	c, ff := newTestController(t)

	var mu sync.Mutex
	var connected []string
	var reconnecting, reconnected, closed int
	c.SetHandlers(HandlerFuncs{
		Connected: func(id string) {
			mu.Lock()
			connected = append(connected, id)
			mu.Unlock()
		},
		Reconnecting: func(error) { reconnecting++ },
		Reconnected:  func(string) { reconnected++ },
		Closed:       func(error) { closed++ },
	})
	c.SetEnabled(true)
	waitState(t, c, StateConnected)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) == 1
	}, time.Second, 5*time.Millisecond)
	h := ff.instances()[0].bound()

	drop := &Error{Kind: KindTransport, Op: "read", Err: errors.New("eof")}
	h.OnReconnecting(drop)
	st := c.Status()
	assert.Equal(t, StateReconnecting, st.State)
	assert.ErrorIs(t, st.Err, drop.Err)

	h.OnReconnected("conn-1b")
	st = c.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, "conn-1b", st.ConnectionID)

	h.OnClosed(ErrReconnectExhausted)
	st = c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.ErrorIs(t, st.Err, ErrReconnectExhausted)

	assert.Equal(t, 1, reconnecting)
	assert.Equal(t, 1, reconnected)
	assert.Equal(t, 1, closed)
	mu.Lock()
	assert.Equal(t, []string{"conn-1"}, connected, "a recovered drop is not a fresh connect")
	mu.Unlock()
}

func TestControllerJoinSwallowsErrors(t *testing.T) {
	t.Parallel()
	conn := newFakeConn("c")
	conn.joinErr = &Error{Kind: KindRemoteCall, Op: "invoke", Err: errors.New("forbidden")}
	c, _ := newTestController(t, conn)

	c.SetEnabled(true)
	waitState(t, c, StateConnected)

	c.JoinConversation(context.Background(), "C1")
	c.JoinConversation(context.Background(), "  ")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []string{"C1"}, conn.joins)
}

func TestControllerSubscribe(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Subscribe(ctx)

	first := <-ch
	assert.Equal(t, StateDisconnected, first.State)

	c.SetEnabled(true)
	deadline := time.After(2 * time.Second)
	for connected := false; !connected; {
		select {
		case st := <-ch:
			connected = st.State == StateConnected
		case <-deadline:
			t.Fatal("no connected status")
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
