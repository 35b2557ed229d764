package connection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// staticToken is a TokenSource with a fixed answer.
type staticToken struct {
	token string
	ok    bool
}

func (s staticToken) Token() (string, bool) { return s.token, s.ok }

// fakeScheduler runs timers when Advance moves simulated time past them.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves time forward and runs due timers in deadline order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the timers that have neither fired nor been stopped.
func (s *fakeScheduler) Pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) PendingCount() int { return len(s.Pending()) }

// fakeDialer hands out fakeTransports, or fails every dial when fail is set.
// When gate is set, Dial signals entered and blocks until gate is closed.
type fakeDialer struct {
	mu         sync.Mutex
	fail       bool
	closeErr   error
	gate       chan struct{}
	entered    chan struct{}
	urls       []string
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	gate, entered := d.gate, d.entered
	d.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("connection refused")
	}
	t := &fakeTransport{closeErr: d.closeErr}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) URL(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

// fakeTransport records writes and lets tests inject inbound events.
type fakeTransport struct {
	mu       sync.Mutex
	handlers Handlers
	sent     [][]byte
	closed   bool
	closeErr error
	code     int
	reason   string
}

func (t *fakeTransport) Listen(h Handlers) {
	t.mu.Lock()
	t.handlers = h
	t.mu.Unlock()
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNotConnected
	}
	t.sent = append(t.sent, data)
	return nil
}

// Close behaves like a browser socket: the close is reported back.
func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.closed = true
	t.code, t.reason = code, reason
	h := t.handlers
	err := t.closeErr
	t.mu.Unlock()

	if h.OnClose != nil {
		h.OnClose(code, reason)
	}
	return err
}

func (t *fakeTransport) closedWith() (bool, int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.code, t.reason
}

func (t *fakeTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func (t *fakeTransport) get() Handlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers
}

func (t *fakeTransport) push(frame string) { t.get().OnMessage([]byte(frame)) }
func (t *fakeTransport) fail(err error)    { t.get().OnError(err) }
func (t *fakeTransport) serverClose(code int, reason string) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.get().OnClose(code, reason)
}

func (t *fakeTransport) listening() bool { return t.get().OnClose != nil }
