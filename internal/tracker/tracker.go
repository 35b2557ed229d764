// Package tracker keeps one order's snapshot and timeline in sync.
//
// The tracker loads the order over REST, applies pushed order_update,
// dispatch and payment deltas to a copy of the snapshot, re-derives the
// timeline after every change, and polls while push is unavailable.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/fabsync/internal/lifecycle"
	"github.com/rickgao/fabsync/internal/model"
	"github.com/rickgao/fabsync/internal/poller"
	"github.com/rickgao/fabsync/internal/router"
	"github.com/rickgao/fabsync/internal/session"
)

// Source fetches authoritative order snapshots.
type Source interface {
	GetOrder(ctx context.Context, id string) (model.Order, error)
}

// Recorder receives observed status transitions.
type Recorder interface {
	Record(t model.StatusTransition) bool
}

// ChangeFunc is called after every applied change.
type ChangeFunc func(order model.Order, timeline lifecycle.Timeline)

// Option configures a Tracker.
type Option func(*Tracker)

// WithRecorder journals every observed status transition.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) {
		t.recorder = r
	}
}

// WithClock sets the clock used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Stats contains tracker statistics.
type Stats struct {
	OrderID      string `json:"order_id"`
	Loaded       bool   `json:"loaded"`
	Status       string `json:"status,omitempty"`
	DeltasPushed int64  `json:"deltas_pushed"`
	DeltasStale  int64  `json:"deltas_stale"`
	PollsApplied int64  `json:"polls_applied"`
}

// Tracker follows a single order.
type Tracker struct {
	orderID  string
	source   Source
	hub      *session.Hub
	poller   *poller.Poller[model.Order]
	recorder Recorder
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	order    model.Order
	loaded   bool
	timeline lifecycle.Timeline
	consumer *session.Consumer
	running  bool
	onChange ChangeFunc

	deltasPushed int64
	deltasStale  int64
	pollsApplied int64
}

// New creates a tracker for orderID.
func New(cfg poller.Config, orderID string, source Source, hub *session.Hub, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		orderID: orderID,
		source:  source,
		hub:     hub,
		now:     time.Now,
		logger:  logger.With("component", "tracker", "order_id", orderID),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.poller = poller.New[model.Order](cfg, "order", hub.Router(),
		func(ctx context.Context) (model.Order, error) {
			return source.GetOrder(ctx, orderID)
		},
		func(o model.Order) { t.adopt(o, true) },
		logger,
		poller.WithConnected(hub.IsConnected),
	)
	return t
}

// OnChange sets the change callback. Set it before Start.
func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Start subscribes to the order's deltas, starts the polling fallback and
// loads the order. A failed initial load is returned; the tracker keeps
// running and the poller retries.
func (t *Tracker) Start(ctx context.Context) error {
	c := t.hub.Attach("order:" + t.orderID)
	session.On(c, t.onOrderUpdate)
	session.On(c, t.onDispatch)
	session.On(c, t.onPayment)

	t.mu.Lock()
	t.consumer = c
	t.running = true
	t.mu.Unlock()

	if err := t.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	order, err := t.source.GetOrder(ctx, t.orderID)
	if err != nil {
		t.logger.Warn("initial order load failed", "error", err)
		return fmt.Errorf("load order %s: %w", t.orderID, err)
	}
	t.adopt(order, false)
	return nil
}

// Stop detaches from the session and stops polling. Snapshots and deltas
// arriving afterwards are dropped.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.consumer
	t.consumer = nil
	t.running = false
	t.mu.Unlock()

	if c != nil {
		c.Detach()
	}
	return t.poller.Stop(ctx)
}

// Order returns a copy of the cached snapshot.
func (t *Tracker) Order() (model.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Clone(), t.loaded
}

// Timeline returns the timeline of the cached snapshot.
func (t *Tracker) Timeline() (lifecycle.Timeline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeline, t.loaded
}

// PollerStats returns the fallback poller statistics.
func (t *Tracker) PollerStats() poller.Stats {
	return t.poller.Stats()
}

// Stats returns tracker statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		OrderID:      t.orderID,
		Loaded:       t.loaded,
		Status:       string(t.order.Status),
		DeltasPushed: t.deltasPushed,
		DeltasStale:  t.deltasStale,
		PollsApplied: t.pollsApplied,
	}
}

func (t *Tracker) onOrderUpdate(e router.OrderUpdateEvent) {
	if e.OrderID != t.orderID {
		return
	}
	t.update(func(o *model.Order) bool {
		if !e.UpdatedAt.IsZero() && !o.UpdatedAt.IsZero() && e.UpdatedAt.Before(o.UpdatedAt) {
			return false
		}
		o.Status = e.NewStatus
		if !e.UpdatedAt.IsZero() {
			o.UpdatedAt = e.UpdatedAt
		}
		return true
	})
}

func (t *Tracker) onDispatch(e router.DispatchEvent) {
	if e.OrderID != t.orderID {
		return
	}
	t.update(func(o *model.Order) bool {
		o.Dispatch = mergeDispatch(o.Dispatch, e.Dispatch)
		return true
	})
}

func (t *Tracker) onPayment(e router.PaymentEvent) {
	if e.OrderID != t.orderID {
		return
	}
	t.update(func(o *model.Order) bool {
		o.Payment = mergePayment(o.Payment, e.Payment)
		return true
	})
}

// update applies a pushed delta to a clone of the snapshot. apply returns
// false to reject the delta as stale.
func (t *Tracker) update(apply func(*model.Order) bool) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	if !t.loaded {
		t.mu.Unlock()
		// Nothing to merge into yet; fetch the full snapshot instead.
		if err := t.poller.Trigger(); err != nil {
			t.logger.Debug("delta before initial load dropped", "error", err)
		}
		return
	}

	next := t.order.Clone()
	if !apply(&next) {
		t.deltasStale++
		t.mu.Unlock()
		t.logger.Debug("ignoring stale order update")
		return
	}
	t.deltasPushed++
	next = next.Clone() // Drop pointers shared with the event
	tr, fn, tl := t.commit(next, model.SourcePush)
	t.mu.Unlock()

	t.after(tr, fn, next, tl)
}

// adopt replaces the snapshot with a fetched one unless the cache is newer.
func (t *Tracker) adopt(o model.Order, polled bool) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		t.logger.Debug("tracker stopped, dropping fetched snapshot")
		return
	}
	if t.loaded && !o.UpdatedAt.IsZero() && !t.order.UpdatedAt.IsZero() && o.UpdatedAt.Before(t.order.UpdatedAt) {
		t.mu.Unlock()
		t.logger.Debug("ignoring fetched snapshot older than cache")
		return
	}
	if polled {
		t.pollsApplied++
	}
	next := o.Clone()
	tr, fn, tl := t.commit(next, model.SourcePoll)
	t.mu.Unlock()

	t.after(tr, fn, next, tl)
}

// commit installs next and returns what must happen outside the lock.
// Must be called with t.mu held.
func (t *Tracker) commit(next model.Order, src model.TransitionSource) (*model.StatusTransition, ChangeFunc, lifecycle.Timeline) {
	var tr *model.StatusTransition
	if !t.loaded || t.order.Status != next.Status {
		tr = &model.StatusTransition{
			OrderID:    t.orderID,
			To:         next.Status,
			Source:     src,
			ObservedAt: t.now(),
		}
		if t.loaded {
			tr.From = t.order.Status
		}
	}

	t.order = next
	t.loaded = true
	t.timeline = lifecycle.Derive(next)
	return tr, t.onChange, t.timeline
}

func (t *Tracker) after(tr *model.StatusTransition, fn ChangeFunc, order model.Order, tl lifecycle.Timeline) {
	if tr != nil {
		t.logger.Info("order status changed",
			"from", tr.From,
			"to", tr.To,
			"source", tr.Source,
		)
		if t.recorder != nil && !t.recorder.Record(*tr) {
			t.logger.Warn("status transition not journaled", "to", tr.To)
		}
	}
	if fn != nil {
		fn(order.Clone(), tl)
	}
}

// mergeDispatch overlays the fields present in delta onto cur.
func mergeDispatch(cur *model.Dispatch, delta model.Dispatch) *model.Dispatch {
	var out model.Dispatch
	if cur != nil {
		out = *cur
	}
	if delta.ID != "" {
		out.ID = delta.ID
	}
	if delta.Carrier != "" {
		out.Carrier = delta.Carrier
	}
	if delta.TrackingNumber != "" {
		out.TrackingNumber = delta.TrackingNumber
	}
	if delta.DispatchedAt != nil {
		out.DispatchedAt = delta.DispatchedAt
	}
	if delta.EstimatedDelivery != nil {
		out.EstimatedDelivery = delta.EstimatedDelivery
	}
	if delta.ActualDelivery != nil {
		out.ActualDelivery = delta.ActualDelivery
	}
	return &out
}

// mergePayment overlays the fields present in delta onto cur.
func mergePayment(cur *model.Payment, delta model.Payment) *model.Payment {
	var out model.Payment
	if cur != nil {
		out = *cur
	}
	if delta.ID != "" {
		out.ID = delta.ID
	}
	if delta.Status != "" {
		out.Status = delta.Status
	}
	if delta.Amount != 0 {
		out.Amount = delta.Amount
	}
	if delta.PaidAt != nil {
		out.PaidAt = delta.PaidAt
	}
	return &out
}
