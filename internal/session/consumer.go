package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/fabsync/internal/connection"
	"github.com/rickgao/fabsync/internal/router"
)

// Consumer is one interested party attached to a Hub.
type Consumer struct {
	id   uuid.UUID
	name string
	hub  *Hub

	connected atomic.Bool

	mu       sync.Mutex
	status   router.ConnectionStatus
	observed bool
	subs     []*router.Subscription
	detached bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newConsumer(h *Hub, name string) *Consumer {
	return &Consumer{
		id:     uuid.New(),
		name:   name,
		hub:    h,
		status: router.StatusDisconnected,
		stop:   make(chan struct{}),
	}
}

// start subscribes before reading the connection state so a transition in
// between is not lost. An event seen first is newer than the read.
func (c *Consumer) start() {
	sub := router.On(c.hub.router, c.onConnection)
	open := c.hub.conn.State() == connection.StateOpen

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	if !c.observed && open {
		c.connected.Store(true)
		c.status = router.StatusConnected
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.heartbeatLoop()
}

func (c *Consumer) onConnection(e router.ConnectionEvent) {
	c.mu.Lock()
	c.observed = true
	c.connected.Store(e.Status == router.StatusConnected)
	c.status = e.Status
	c.mu.Unlock()
}

// heartbeatLoop pings on every tick while connected.
func (c *Consumer) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.connected.Load() {
				c.hub.conn.Ping()
			}
		}
	}
}

// ID returns the consumer's unique ID.
func (c *Consumer) ID() uuid.UUID { return c.id }

// IsConnected reports the last connection status this consumer observed.
func (c *Consumer) IsConnected() bool { return c.connected.Load() }

// Status returns the last observed connection status.
func (c *Consumer) Status() router.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe registers fn on topic for the lifetime of the consumer.
// Returns nil after Detach.
func (c *Consumer) Subscribe(topic router.Topic, fn router.Handler) *router.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil
	}
	sub := c.hub.router.Subscribe(topic, fn)
	c.subs = append(c.subs, sub)
	return sub
}

// Unsubscribe removes one subscription made through this consumer.
func (c *Consumer) Unsubscribe(sub *router.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return c.hub.router.Unsubscribe(sub)
		}
	}
	return false
}

// On subscribes a typed handler through consumer c.
func On[E router.Event](c *Consumer, fn func(E)) *router.Subscription {
	var zero E
	return c.Subscribe(zero.Topic(), func(evt router.Event) {
		if e, ok := evt.(E); ok {
			fn(e)
		}
	})
}

// Send passes msg to the connection. Returns false if not sent.
func (c *Consumer) Send(msg any) bool {
	if c.isDetached() {
		return false
	}
	return c.hub.conn.Send(msg)
}

func (c *Consumer) isDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

// Detach stops the heartbeat, removes every subscription and releases the
// consumer's hold on the connection. Safe to call repeatedly.
func (c *Consumer) Detach() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		c.mu.Lock()
		c.detached = true
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()

		for _, sub := range subs {
			c.hub.router.Unsubscribe(sub)
		}
		c.connected.Store(false)
		c.hub.detach(c)
	})
}
