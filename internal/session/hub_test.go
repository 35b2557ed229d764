package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fabsync/internal/connection"
	"github.com/rickgao/fabsync/internal/logging"
	"github.com/rickgao/fabsync/internal/router"
)

// fakeConn stands in for the Connection Manager.
type fakeConn struct {
	r *router.Router

	mu          sync.Mutex
	state       connection.State
	connects    int
	disconnects int
	pings       int
	sent        []any
}

func (f *fakeConn) Connect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.state == connection.StateOpen || f.state == connection.StateConnecting {
		return false
	}
	f.state = connection.StateConnecting
	return true
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.state = connection.StateClosed
	f.mu.Unlock()
	f.r.Publish(router.ConnectionEvent{Status: router.StatusDisconnected, Code: connection.CloseNormal})
}

func (f *fakeConn) Send(msg any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != connection.StateOpen {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeConn) Ping() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.state == connection.StateOpen
}

func (f *fakeConn) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// open simulates the transport opening.
func (f *fakeConn) open() {
	f.mu.Lock()
	f.state = connection.StateOpen
	f.mu.Unlock()
	f.r.Publish(router.ConnectionEvent{Status: router.StatusConnected})
}

// drop simulates an abnormal close.
func (f *fakeConn) drop() {
	f.mu.Lock()
	f.state = connection.StateClosed
	f.mu.Unlock()
	f.r.Publish(router.ConnectionEvent{Status: router.StatusDisconnected, Code: connection.CloseAbnormal})
}

func (f *fakeConn) counts() (connects, disconnects, pings int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.pings
}

func newTestHub(t *testing.T, heartbeat time.Duration) (*Hub, *fakeConn) {
	t.Helper()
	r := router.New(logging.Discard())
	conn := &fakeConn{r: r}
	h := NewHub(Config{HeartbeatInterval: heartbeat}, conn, r, logging.Discard())
	t.Cleanup(h.Close)
	return h, conn
}

func TestHub_FirstAttachConnects(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)

	a := h.Attach("a")
	conn.open()
	b := h.Attach("b")

	connects, disconnects, _ := conn.counts()
	assert.Equal(t, 1, connects)
	assert.Zero(t, disconnects)
	assert.Equal(t, 2, h.Len())
	assert.True(t, a.IsConnected())
	assert.True(t, b.IsConnected(), "late consumer sees open connection")
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestHub_LastDetachDisconnects(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)

	a := h.Attach("a")
	b := h.Attach("b")
	conn.open()

	a.Detach()
	_, disconnects, _ := conn.counts()
	assert.Zero(t, disconnects, "b still needs the connection")
	assert.True(t, b.IsConnected())

	b.Detach()
	b.Detach()
	_, disconnects, _ = conn.counts()
	assert.Equal(t, 1, disconnects)
	assert.Zero(t, h.Len())
}

func TestHub_AttachRevivesClosedConnection(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)

	h.Attach("a")
	conn.open()
	conn.drop() // reconnects exhausted

	h.Attach("b")
	connects, _, _ := conn.counts()
	assert.Equal(t, 2, connects)
}

func TestConsumer_StatusTracksEvents(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)

	c := h.Attach("a")
	assert.False(t, c.IsConnected())
	assert.Equal(t, router.StatusDisconnected, c.Status())

	conn.open()
	assert.True(t, c.IsConnected())
	assert.Equal(t, router.StatusConnected, c.Status())

	conn.drop()
	assert.False(t, c.IsConnected())
}

func TestConsumer_AttachedAfterOpenIsConnected(t *testing.T) {
	h, conn := newTestHub(t, 5*time.Millisecond)

	h.Attach("a")
	conn.open()
	require.True(t, h.IsConnected())

	// No further connection event reaches b.
	b := h.Attach("b")
	assert.True(t, b.IsConnected())
	assert.Equal(t, router.StatusConnected, b.Status())

	_, _, before := conn.counts()
	require.Eventually(t, func() bool {
		_, _, p := conn.counts()
		return p > before
	}, time.Second, 5*time.Millisecond, "late consumer never heartbeats")
}

// staleReadConn drops the connection the first time State is read after
// arm, and returns the state from before the drop.
type staleReadConn struct {
	*fakeConn
	armed atomic.Bool
}

func (s *staleReadConn) State() connection.State {
	st := s.fakeConn.State()
	if s.armed.CompareAndSwap(true, false) {
		s.fakeConn.drop()
	}
	return st
}

func TestConsumer_EventDuringAttachWinsOverStateRead(t *testing.T) {
	r := router.New(logging.Discard())
	conn := &staleReadConn{fakeConn: &fakeConn{r: r}}
	h := NewHub(Config{HeartbeatInterval: time.Hour}, conn, r, logging.Discard())
	t.Cleanup(h.Close)

	h.Attach("a")
	conn.open()
	conn.armed.Store(true)

	b := h.Attach("b")
	assert.False(t, b.IsConnected())
	assert.Equal(t, router.StatusDisconnected, b.Status())
}

func TestConsumer_DetachRemovesSubscriptions(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)
	r := h.Router()

	a := h.Attach("a")
	b := h.Attach("b")
	conn.open()

	var aCalls, bCalls int
	a.Subscribe(router.TopicPong, func(router.Event) { aCalls++ })
	On(a, func(router.OrderUpdateEvent) { aCalls++ })
	b.Subscribe(router.TopicPong, func(router.Event) { bCalls++ })

	a.Detach()

	r.Publish(router.PongEvent{})
	r.Publish(router.OrderUpdateEvent{OrderID: "o1"})
	assert.Zero(t, aCalls)
	assert.Equal(t, 1, bCalls)
	assert.Zero(t, r.Count(router.TopicOrderUpdate))
	// b's connection listener and pong handler remain.
	assert.Equal(t, 1, r.Count(router.TopicConnection))
	assert.Equal(t, 1, r.Count(router.TopicPong))

	assert.Nil(t, a.Subscribe(router.TopicPong, func(router.Event) {}))
	assert.False(t, a.Send(map[string]string{"type": "x"}))
}

func TestConsumer_Unsubscribe(t *testing.T) {
	h, _ := newTestHub(t, time.Hour)

	c := h.Attach("a")
	calls := 0
	sub := c.Subscribe(router.TopicPong, func(router.Event) { calls++ })

	assert.True(t, c.Unsubscribe(sub))
	assert.False(t, c.Unsubscribe(sub))

	h.Router().Publish(router.PongEvent{})
	assert.Zero(t, calls)
}

func TestConsumer_Send(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)

	c := h.Attach("a")
	assert.False(t, c.Send("early"), "not open yet")

	conn.open()
	assert.True(t, c.Send("hello"))
}

func TestConsumer_HeartbeatOnlyWhileConnected(t *testing.T) {
	h, conn := newTestHub(t, 5*time.Millisecond)

	c := h.Attach("a")

	time.Sleep(30 * time.Millisecond)
	_, _, pings := conn.counts()
	assert.Zero(t, pings, "no pings while disconnected")

	conn.open()
	require.Eventually(t, func() bool {
		_, _, p := conn.counts()
		return p >= 2
	}, time.Second, 5*time.Millisecond)

	conn.drop()
	time.Sleep(20 * time.Millisecond)
	_, _, before := conn.counts()
	time.Sleep(40 * time.Millisecond)
	_, _, after := conn.counts()
	assert.Equal(t, before, after, "pings stop after disconnect")

	conn.open()
	c.Detach()
	_, _, before = conn.counts()
	time.Sleep(40 * time.Millisecond)
	_, _, after = conn.counts()
	assert.Equal(t, before, after, "pings stop after detach")
}

func TestHub_CloseDetachesAll(t *testing.T) {
	h, conn := newTestHub(t, time.Hour)

	h.Attach("a")
	h.Attach("b")
	conn.open()

	stats := h.Stats()
	assert.Equal(t, 2, stats.Consumers)
	assert.ElementsMatch(t, []string{"a", "b"}, stats.Names)

	h.Close()
	assert.Zero(t, h.Len())
	_, disconnects, _ := conn.counts()
	assert.Equal(t, 1, disconnects)
}
