package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/fabsync/internal/router"
)

// ErrNotRunning is returned by Trigger when the poller is stopped.
var ErrNotRunning = errors.New("poller not running")

// FetchFunc retrieves the authoritative state of the watched resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// ApplyFunc receives a fetched result.
type ApplyFunc[T any] func(T)

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Tick interval (default: 30s)
	Timeout  time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Option configures a Poller.
type Option func(*options)

type options struct {
	connected func() bool
}

// WithConnected sets how the poller reads the current connection status
// when it starts. Without it the poller assumes the connection is down
// until it sees a connected event.
func WithConnected(fn func() bool) Option {
	return func(o *options) {
		o.connected = fn
	}
}

// Stats contains poller statistics.
type Stats struct {
	Ticks            int64     `json:"ticks"`
	Fetches          int64     `json:"fetches"`
	SkippedConnected int64     `json:"skipped_connected"`
	SkippedInFlight  int64     `json:"skipped_in_flight"`
	Errors           int64     `json:"errors"`
	Discarded        int64     `json:"discarded"`
	LastSuccess      time.Time `json:"last_success,omitzero"`
}

// Poller re-fetches one resource while push delivery is unavailable.
type Poller[T any] struct {
	cfg    Config
	name   string
	router *router.Router
	fetch  FetchFunc[T]
	apply  ApplyFunc[T]
	isUp   func() bool
	logger *slog.Logger

	// connMu orders the Start seed against connection events; observed is
	// set once an event has been seen and wins over the seed.
	connMu    sync.Mutex
	observed  bool
	connected atomic.Bool
	inFlight  atomic.Bool
	running   atomic.Bool

	mu     sync.Mutex
	sub    *router.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ticks            atomic.Int64
	fetches          atomic.Int64
	skippedConnected atomic.Int64
	skippedInFlight  atomic.Int64
	errs             atomic.Int64
	discarded        atomic.Int64
	lastSuccess      atomic.Int64 // unix nanos
}

// New creates a Poller.
func New[T any](cfg Config, name string, r *router.Router, fetch FetchFunc[T], apply ApplyFunc[T], logger *slog.Logger, opts ...Option) *Poller[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller[T]{
		cfg:    cfg,
		name:   name,
		router: r,
		fetch:  fetch,
		apply:  apply,
		isUp:   o.connected,
		logger: logger.With("component", "poller", "resource", name),
	}
}

// Start subscribes to connection events and begins ticking.
func (p *Poller[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.connMu.Lock()
	p.observed = false
	p.connMu.Unlock()
	p.sub = router.On(p.router, p.onConnection)
	p.seed()
	p.running.Store(true)

	p.wg.Add(1)
	go p.run(p.ctx)

	p.logger.Info("poller started", "interval", p.cfg.Interval)
	return nil
}

func (p *Poller[T]) onConnection(e router.ConnectionEvent) {
	p.connMu.Lock()
	p.observed = true
	p.connected.Store(e.Status == router.StatusConnected)
	p.connMu.Unlock()
}

// seed reads the current status once the subscription is in place. An
// event delivered in between is newer than the read and is kept.
func (p *Poller[T]) seed() {
	if p.isUp == nil {
		return
	}
	up := p.isUp()
	p.connMu.Lock()
	if !p.observed {
		p.connected.Store(up)
	}
	p.connMu.Unlock()
}

// Stop unsubscribes, stops ticking and waits for an in-flight fetch.
// Results of that fetch are discarded.
func (p *Poller[T]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)
	p.router.Unsubscribe(p.sub)
	p.sub = nil
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts an out-of-band fetch unless one is already in flight.
// Unlike a tick, it fetches even while connected.
func (p *Poller[T]) Trigger() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return ErrNotRunning
	}
	p.launch(p.ctx)
	return nil
}

// IsConnected reports the last connection status the poller observed.
func (p *Poller[T]) IsConnected() bool { return p.connected.Load() }

// Stats returns poller statistics.
func (p *Poller[T]) Stats() Stats {
	s := Stats{
		Ticks:            p.ticks.Load(),
		Fetches:          p.fetches.Load(),
		SkippedConnected: p.skippedConnected.Load(),
		SkippedInFlight:  p.skippedInFlight.Load(),
		Errors:           p.errs.Load(),
		Discarded:        p.discarded.Load(),
	}
	if ns := p.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	return s
}

// run is the tick loop.
func (p *Poller[T]) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context) {
	p.ticks.Add(1)

	if p.connected.Load() {
		p.skippedConnected.Add(1)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return
	}
	p.launch(ctx)
}

// launch starts a fetch goroutine unless one is in flight. Must be called
// with p.mu held.
func (p *Poller[T]) launch(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skippedInFlight.Add(1)
		p.logger.Debug("fetch still in flight, skipping")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.fetchOnce(ctx)
	}()
}

func (p *Poller[T]) fetchOnce(ctx context.Context) {
	p.fetches.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := p.fetch(fetchCtx)
	if err != nil {
		p.errs.Add(1)
		if ctx.Err() == nil {
			p.logger.Warn("fallback fetch failed", "error", err, "duration", time.Since(start))
		}
		return
	}

	if !p.running.Load() || ctx.Err() != nil {
		p.discarded.Add(1)
		return
	}

	p.lastSuccess.Store(time.Now().UnixNano())
	p.apply(result)

	p.logger.Debug("fallback fetch applied", "duration", time.Since(start))
}
