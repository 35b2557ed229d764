package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/fabsync/internal/connection"
	"github.com/rickgao/fabsync/internal/router"
)

// Connection is the part of the Connection Manager the hub drives.
type Connection interface {
	Connect() bool
	Disconnect()
	Send(msg any) bool
	Ping() bool
	State() connection.State
}

// Config configures the hub.
type Config struct {
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the standard heartbeat cadence.
func DefaultConfig() Config {
	return Config{HeartbeatInterval: 30 * time.Second}
}

// Stats describes the attached consumers.
type Stats struct {
	Consumers int      `json:"consumers"`
	Names     []string `json:"names,omitempty"`
}

// Hub reference-counts consumers of one connection.
type Hub struct {
	cfg    Config
	conn   Connection
	router *router.Router
	logger *slog.Logger

	// transition serializes set changes with the Connect/Disconnect they
	// cause. Not held while the set is only read.
	transition sync.Mutex

	mu        sync.Mutex
	consumers map[uuid.UUID]*Consumer
}

// NewHub creates a hub. The connection stays closed until the first Attach.
func NewHub(cfg Config, conn Connection, r *router.Router, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	return &Hub{
		cfg:       cfg,
		conn:      conn,
		router:    r,
		logger:    logger.With("component", "session"),
		consumers: make(map[uuid.UUID]*Consumer),
	}
}

// Router returns the hub's event router.
func (h *Hub) Router() *router.Router { return h.router }

// IsConnected reports whether the shared connection is open right now.
func (h *Hub) IsConnected() bool { return h.conn.State() == connection.StateOpen }

// Attach registers a new consumer and makes sure the connection is up.
// name is used only in logs and stats.
func (h *Hub) Attach(name string) *Consumer {
	c := newConsumer(h, name)
	c.start()

	h.transition.Lock()
	defer h.transition.Unlock()

	h.mu.Lock()
	first := len(h.consumers) == 0
	h.consumers[c.id] = c
	n := len(h.consumers)
	h.mu.Unlock()

	h.logger.Debug("consumer attached", "consumer", c.name, "id", c.id, "consumers", n)

	// A later consumer also revives a connection that gave up reconnecting.
	state := h.conn.State()
	if first || (state != connection.StateOpen && state != connection.StateConnecting) {
		h.conn.Connect()
	}
	return c
}

// detach removes c and closes the connection if it was the last consumer.
func (h *Hub) detach(c *Consumer) {
	h.transition.Lock()
	defer h.transition.Unlock()

	h.mu.Lock()
	if _, ok := h.consumers[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.consumers, c.id)
	n := len(h.consumers)
	h.mu.Unlock()

	h.logger.Debug("consumer detached", "consumer", c.name, "id", c.id, "consumers", n)

	if n == 0 {
		h.conn.Disconnect()
	}
}

// Close detaches every consumer.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Consumer, 0, len(h.consumers))
	for _, c := range h.consumers {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Detach()
	}
}

// Len returns the number of attached consumers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// Stats returns consumer statistics.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{Consumers: len(h.consumers)}
	for _, c := range h.consumers {
		s.Names = append(s.Names, c.name)
	}
	return s
}
