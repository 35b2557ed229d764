package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/fabsync/internal/model"
	"github.com/rickgao/fabsync/internal/poller"
	"github.com/rickgao/fabsync/internal/router"
	"github.com/rickgao/fabsync/internal/session"
)

// ErrNotFound is returned when marking an unknown notification.
var ErrNotFound = errors.New("notification not found")

// ErrStopped is returned by Load when the feed is not running.
var ErrStopped = errors.New("feed stopped")

// ReadState tracks the server's view of a local read flag.
type ReadState int

const (
	Committed ReadState = iota // Local flag matches the server
	Pending                    // Request in flight
	Failed                     // Request rejected; flag rolled back
)

func (s ReadState) String() string {
	switch s {
	case Committed:
		return "committed"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Item is a notification with its local read state.
type Item struct {
	model.Notification
	State ReadState
}

// Store is the REST surface the feed needs.
type Store interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Feed is the notification list of one session.
type Feed struct {
	store  Store
	hub    *session.Hub
	poller *poller.Poller[[]model.Notification]
	logger *slog.Logger

	mu       sync.Mutex
	items    []Item
	inFlight map[string]int // Outstanding mark requests per ID
	consumer *session.Consumer
	running  bool
	onChange func([]Item)
}

// New creates a feed. Nothing is fetched until Start.
func New(cfg poller.Config, store Store, hub *session.Hub, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed{
		store:    store,
		hub:      hub,
		logger:   logger.With("component", "notify"),
		inFlight: make(map[string]int),
	}
	f.poller = poller.New[[]model.Notification](cfg, "notifications", hub.Router(),
		store.ListNotifications,
		func(list []model.Notification) { f.replace(list) },
		logger,
		poller.WithConnected(hub.IsConnected),
	)
	return f
}

// OnChange sets a callback invoked with a copy of the list after every
// change. Set it before Start.
func (f *Feed) OnChange(fn func([]Item)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Start subscribes to pushed notifications, starts the polling fallback
// and loads the list. A failed initial load is logged; the poller retries.
func (f *Feed) Start(ctx context.Context) error {
	c := f.hub.Attach("notifications")
	session.On(c, func(e router.NotificationEvent) { f.push(e.Notification) })

	f.mu.Lock()
	f.consumer = c
	f.running = true
	f.mu.Unlock()

	if err := f.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if err := f.Load(ctx); err != nil && !errors.Is(err, ErrStopped) {
		f.logger.Warn("initial notification load failed", "error", err)
	}
	return nil
}

// Stop detaches from the session and stops polling. Lists fetched after
// Stop are dropped.
func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	c := f.consumer
	f.consumer = nil
	f.running = false
	f.mu.Unlock()

	if c != nil {
		c.Detach()
	}
	return f.poller.Stop(ctx)
}

// Load fetches the list from the server and replaces the local copy.
// Returns ErrStopped if the feed stopped before the list arrived.
func (f *Feed) Load(ctx context.Context) error {
	list, err := f.store.ListNotifications(ctx)
	if err != nil {
		return err
	}
	if !f.replace(list) {
		return ErrStopped
	}
	return nil
}

// Refresh requests an out-of-band poll.
func (f *Feed) Refresh() error {
	return f.poller.Trigger()
}

// Items returns a copy of the list, newest first.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Unread returns the number of unread items.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// Get returns one item.
func (f *Feed) Get(id string) (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexOf(id); i >= 0 {
		return f.items[i], true
	}
	return Item{}, false
}

// MarkRead flips id to read locally, then confirms with the server. On
// failure the flag is rolled back and the item is marked Failed.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	i := f.indexOf(id)
	if i < 0 {
		f.mu.Unlock()
		return ErrNotFound
	}
	if f.items[i].Read && f.items[i].State != Failed {
		f.mu.Unlock()
		return nil
	}
	f.items[i].Read = true
	f.items[i].State = Pending
	f.inFlight[id]++
	f.mu.Unlock()
	f.changed()

	err := f.store.MarkNotificationRead(ctx, id)
	f.settle([]string{id}, err)

	if err != nil {
		f.logger.Warn("mark notification read failed", "id", id, "error", err)
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead flips every unread item locally and confirms with one
// request. On failure all of them roll back.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	var ids []string
	for i := range f.items {
		if !f.items[i].Read {
			f.items[i].Read = true
			f.items[i].State = Pending
			f.inFlight[f.items[i].ID]++
			ids = append(ids, f.items[i].ID)
		}
	}
	f.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	f.changed()

	err := f.store.MarkAllNotificationsRead(ctx)
	f.settle(ids, err)

	if err != nil {
		f.logger.Warn("mark all notifications read failed", "count", len(ids), "error", err)
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// settle records the outcome of a mark request for ids.
func (f *Feed) settle(ids []string, err error) {
	f.mu.Lock()
	for _, id := range ids {
		if f.inFlight[id]--; f.inFlight[id] <= 0 {
			delete(f.inFlight, id)
		}
		i := f.indexOf(id)
		if i < 0 {
			continue
		}
		if err != nil {
			f.items[i].Read = false
			f.items[i].State = Failed
		} else {
			f.items[i].Read = true
			f.items[i].State = Committed
		}
	}
	f.mu.Unlock()
	f.changed()
}

// replace adopts a server list. Local flips whose request is still in
// flight are kept; everything else follows the server. Returns false
// when the feed is not running.
func (f *Feed) replace(list []model.Notification) bool {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		f.logger.Debug("feed stopped, dropping fetched list")
		return false
	}
	items := make([]Item, 0, len(list))
	for _, n := range list {
		it := Item{Notification: n, State: Committed}
		if f.inFlight[n.ID] > 0 && !n.Read {
			it.Read = true
			it.State = Pending
		}
		items = append(items, it)
	}
	f.items = items
	f.mu.Unlock()
	f.changed()
	return true
}

// push prepends a pushed notification, or updates it in place if known.
func (f *Feed) push(n model.Notification) {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	if i := f.indexOf(n.ID); i >= 0 {
		it := Item{Notification: n, State: f.items[i].State}
		if f.inFlight[n.ID] > 0 && !n.Read {
			it.Read = true
		}
		f.items[i] = it
	} else {
		f.items = append([]Item{{Notification: n, State: Committed}}, f.items...)
	}
	f.mu.Unlock()
	f.changed()
}

func (f *Feed) indexOf(id string) int {
	for i := range f.items {
		if f.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (f *Feed) snapshot() []Item {
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

// changed calls the OnChange callback outside the lock.
func (f *Feed) changed() {
	f.mu.Lock()
	fn := f.onChange
	var items []Item
	if fn != nil {
		items = f.snapshot()
	}
	f.mu.Unlock()

	if fn != nil {
		fn(items)
	}
}
