package connection

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fabsync/internal/logging"
	"github.com/rickgao/fabsync/internal/model"
	"github.com/rickgao/fabsync/internal/router"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	m      *Manager
	r      *router.Router
	dialer *fakeDialer
	sched  *fakeScheduler

	mu     sync.Mutex
	events []router.ConnectionEvent
	errs   []error
}

func newHarness(t *testing.T, tokens staticToken) *harness {
	t.Helper()

	h := &harness{
		r:      router.New(logging.Discard()),
		dialer: &fakeDialer{},
		sched:  &fakeScheduler{},
	}
	cfg := DefaultConfig()
	cfg.URL = "ws://portal.test/"
	h.m = NewManager(cfg, tokens, h.r, logging.Discard(),
		WithDialer(h.dialer),
		WithScheduler(h.sched),
	)

	router.On(h.r, func(e router.ConnectionEvent) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	router.On(h.r, func(e router.ErrorEvent) {
		h.mu.Lock()
		h.errs = append(h.errs, e.Err)
		h.mu.Unlock()
	})
	t.Cleanup(h.m.Disconnect)
	return h
}

func (h *harness) connectionEvents() []router.ConnectionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]router.ConnectionEvent(nil), h.events...)
}

func (h *harness) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

// waitOpen waits until the latest transport is open and listening.
func (h *harness) waitOpen(t *testing.T) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool {
		tr := h.dialer.Last()
		return h.m.IsConnected() && tr != nil && tr.listening()
	}, waitFor, tick)
	return h.dialer.Last()
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == want }, waitFor, tick,
		"state never became %s", want)
}

func TestManager_ConnectWithoutTokenIsNoop(t *testing.T) {
	h := newHarness(t, staticToken{ok: false})

	assert.False(t, h.m.Connect())
	assert.Zero(t, h.dialer.Count())
	assert.Equal(t, StateIdle, h.m.State())
}

func TestManager_ConnectOpensOneTransport(t *testing.T) {
	h := newHarness(t, staticToken{token: "a/b", ok: true})

	require.True(t, h.m.Connect())
	h.waitOpen(t)

	assert.False(t, h.m.Connect(), "second connect must not dial")
	assert.Equal(t, 1, h.dialer.Count())
	assert.Equal(t, "ws://portal.test/ws?token=a%2Fb", h.dialer.URL(0))

	events := h.connectionEvents()
	require.Len(t, events, 1)
	assert.Equal(t, router.StatusConnected, events[0].Status)
}

func TestManager_AbnormalCloseSchedulesOneReconnect(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	h.m.Connect()
	tr := h.waitOpen(t)

	tr.serverClose(CloseAbnormal, "")

	assert.Equal(t, 1, h.m.ReconnectAttempts())
	assert.Equal(t, StateClosed, h.m.State())
	pending := h.sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 5000*time.Millisecond, pending[0].delay)

	h.sched.Advance(4999 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Count())

	h.sched.Advance(time.Millisecond)
	h.waitOpen(t)
	assert.Equal(t, 2, h.dialer.Count())
	assert.Zero(t, h.m.ReconnectAttempts(), "attempts reset on open")

	events := h.connectionEvents()
	require.Len(t, events, 3)
	assert.Equal(t, router.StatusDisconnected, events[1].Status)
	assert.Equal(t, CloseAbnormal, events[1].Code)
}

func TestManager_ReconnectBound(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})
	h.dialer.fail = true

	h.m.Connect()

	for i := 1; i <= 5; i++ {
		require.Eventually(t, func() bool { return h.sched.PendingCount() == 1 }, waitFor, tick)
		assert.Equal(t, i, h.m.ReconnectAttempts())
		h.sched.Advance(5 * time.Second)
	}

	require.Eventually(t, func() bool {
		return h.dialer.Count() == 6 && h.m.State() == StateClosed
	}, waitFor, tick)

	// No sixth reconnect.
	assert.Zero(t, h.sched.PendingCount())
	h.sched.Advance(time.Minute)
	assert.Equal(t, 6, h.dialer.Count())

	stats := h.m.Snapshot()
	assert.Equal(t, 5, stats.ReconnectAttempts)
	assert.Equal(t, int64(5), stats.ReconnectsScheduled)
	assert.Equal(t, 6, h.errorCount())
}

func TestManager_ManualDisconnectNeverReconnects(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	h.m.Connect()
	tr := h.waitOpen(t)

	h.m.Disconnect()
	// A late close from the server side changes nothing either.
	tr.serverClose(CloseNormal, ManualCloseReason)

	assert.Zero(t, h.sched.PendingCount())
	assert.Zero(t, h.m.Snapshot().ReconnectsScheduled)
	assert.Equal(t, StateClosed, h.m.State())
	assert.Equal(t, CloseNormal, tr.code)
	assert.Equal(t, ManualCloseReason, tr.reason)

	events := h.connectionEvents()
	require.Len(t, events, 2)
	assert.Equal(t, router.StatusDisconnected, events[1].Status)
	assert.Equal(t, ManualCloseReason, events[1].Reason)

	h.m.Disconnect()
	assert.Len(t, h.connectionEvents(), 2, "disconnect is idempotent")
}

func TestManager_ManualSentinelCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	h.m.Connect()
	tr := h.waitOpen(t)

	tr.serverClose(CloseNormal, ManualCloseReason)

	assert.Zero(t, h.sched.PendingCount())
	assert.Zero(t, h.m.ReconnectAttempts())
}

func TestManager_DisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	h.m.Connect()
	tr := h.waitOpen(t)
	tr.serverClose(CloseAbnormal, "")
	require.Equal(t, 1, h.sched.PendingCount())

	h.m.Disconnect()

	assert.Zero(t, h.sched.PendingCount())
	h.sched.Advance(10 * time.Second)
	assert.Equal(t, 1, h.dialer.Count())
}

func TestManager_DisconnectDuringDialClosesLateTransport(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := router.New(logging.Discard())
	dialer := &fakeDialer{
		gate:     make(chan struct{}),
		entered:  make(chan struct{}, 1),
		closeErr: errors.New("use of closed network connection"),
	}
	cfg := DefaultConfig()
	cfg.URL = "ws://portal.test/"
	m := NewManager(cfg, staticToken{token: "tok", ok: true}, r, logger,
		WithDialer(dialer),
		WithScheduler(&fakeScheduler{}),
	)

	var events []router.ConnectionEvent
	var mu sync.Mutex
	router.On(r, func(e router.ConnectionEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	require.True(t, m.Connect())
	<-dialer.entered
	m.Disconnect()
	close(dialer.gate)

	require.Eventually(t, func() bool {
		tr := dialer.Last()
		if tr == nil {
			return false
		}
		closed, _, _ := tr.closedWith()
		return closed
	}, waitFor, tick)

	_, code, reason := dialer.Last().closedWith()
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, ManualCloseReason, reason)
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.IsConnected())

	mu.Lock()
	assert.Empty(t, events, "late transport never reports connected")
	mu.Unlock()

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "close stale transport")
	}, waitFor, tick)
	assert.Contains(t, buf.String(), "use of closed network connection")
}

// syncBuffer is a bytes.Buffer safe for a logger and a test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestManager_TransportErrorDoesNotDoubleCount(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	h.m.Connect()
	tr := h.waitOpen(t)

	tr.fail(errors.New("read: connection reset"))
	assert.Equal(t, StateErrored, h.m.State())
	assert.Equal(t, 1, h.errorCount())
	assert.Zero(t, h.sched.PendingCount(), "error alone never reconnects")

	tr.serverClose(CloseAbnormal, "")
	assert.Equal(t, 1, h.m.ReconnectAttempts())
	assert.Equal(t, 1, h.sched.PendingCount())
}

func TestManager_FramesArePublished(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	var got []router.OrderUpdateEvent
	router.On(h.r, func(e router.OrderUpdateEvent) { got = append(got, e) })

	h.m.Connect()
	tr := h.waitOpen(t)

	tr.push(`{"type":"order_update","data":{"orderId":"o1","newStatus":"in_production"}}`)
	tr.push(`not json`)
	tr.push(`{"type":"order_update","data":{"orderId":"o1","newStatus":"ready_for_dispatch"}}`)

	require.Len(t, got, 2)
	assert.Equal(t, model.StatusInProduction, got[0].NewStatus)
	assert.Equal(t, model.StatusReadyForDispatch, got[1].NewStatus)

	stats := h.m.Snapshot()
	assert.Equal(t, int64(3), stats.FramesReceived)
	assert.Equal(t, int64(1), stats.DecodeErrors)
}

func TestManager_FramesFromStaleTransportIgnored(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	calls := 0
	router.On(h.r, func(router.PongEvent) { calls++ })

	h.m.Connect()
	tr := h.waitOpen(t)
	h.m.Disconnect()

	tr.push(`{"type":"pong"}`)
	assert.Zero(t, calls)
}

func TestManager_SendAndPing(t *testing.T) {
	h := newHarness(t, staticToken{token: "tok", ok: true})

	assert.False(t, h.m.Send(map[string]string{"type": "hello"}), "send before connect")
	assert.False(t, h.m.Ping())

	h.m.Connect()
	tr := h.waitOpen(t)

	assert.True(t, h.m.Ping())
	assert.True(t, h.m.Send(map[string]string{"type": "hello"}))
	assert.False(t, h.m.Send(func() {}), "unencodable message")

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"type":"ping"}`, string(sent[0]))
	assert.JSONEq(t, `{"type":"hello"}`, string(sent[1]))

	h.m.Disconnect()
	assert.False(t, h.m.Ping(), "ping after disconnect")
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{StateErrored, "errored"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
