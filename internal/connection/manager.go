package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/fabsync/internal/auth"
	"github.com/rickgao/fabsync/internal/router"
)

// Option configures a Manager.
type Option func(*Manager)

// WithDialer sets the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithScheduler sets the scheduler used for reconnect timers.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.sched = s
	}
}

// Manager owns the push connection for one session.
type Manager struct {
	cfg    Config
	tokens auth.TokenSource
	router *router.Router
	dialer Dialer
	sched  Scheduler
	logger *slog.Logger

	sessionID string

	mu          sync.Mutex
	state       State
	transport   Transport
	dialing     bool
	cancelDial  context.CancelFunc
	gen         uint64 // Bumped per dial and per Disconnect; stale callbacks are ignored
	attempts    int
	timer       Timer
	connectedAt time.Time
	lastClose   int

	dials               int64
	reconnectsScheduled int64
	frames              int64
	decodeErrors        int64
	transportErrors     int64
}

// NewManager creates a Connection Manager. Nothing is dialed until Connect.
func NewManager(cfg Config, tokens auth.TokenSource, r *router.Router, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		tokens:    tokens,
		router:    r,
		sched:     RealScheduler(),
		sessionID: uuid.NewString(),
	}
	m.logger = logger.With("component", "connection", "session_id", m.sessionID)

	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewDialer(cfg.HandshakeTimeout, cfg.WriteTimeout, m.logger)
	}
	return m
}

// Connect starts opening the transport and returns true if a dial was
// started. It is a no-op when no valid token is available, or when a
// transport is already open or being opened.
func (m *Manager) Connect() bool {
	token, ok := m.tokens.Token()
	if !ok {
		m.logger.Debug("connect skipped: no valid token")
		return false
	}

	m.mu.Lock()
	if m.transport != nil || m.dialing {
		m.mu.Unlock()
		return false
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	m.gen++
	gen := m.gen
	m.dialing = true
	m.state = StateConnecting
	m.dials++

	ctx, cancel := context.WithTimeout(context.Background(), m.handshakeTimeout())
	m.cancelDial = cancel
	m.mu.Unlock()

	go m.dial(ctx, cancel, gen, m.endpoint(token))
	return true
}

// Disconnect closes the transport with the manual sentinel and cancels any
// pending reconnect. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	t := m.transport
	wasActive := t != nil || m.dialing
	m.transport = nil
	m.dialing = false
	m.gen++
	if m.state != StateIdle {
		m.state = StateClosed
	}
	if t != nil {
		m.lastClose = CloseNormal
	}
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(CloseNormal, ManualCloseReason); err != nil {
			m.logger.Debug("close transport", "error", err)
		}
		m.router.Publish(router.ConnectionEvent{
			Status: router.StatusDisconnected,
			Code:   CloseNormal,
			Reason: ManualCloseReason,
		})
	}
	if wasActive {
		m.logger.Info("disconnected")
	}
}

// Send JSON-encodes msg and writes it if the connection is open. Returns
// false if nothing was sent.
func (m *Manager) Send(msg any) bool {
	m.mu.Lock()
	t := m.transport
	open := m.state == StateOpen
	m.mu.Unlock()

	if t == nil || !open {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Warn("encode outbound message", "error", err)
		return false
	}
	if err := t.Send(data); err != nil {
		m.logger.Debug("send failed", "error", err)
		return false
	}
	return true
}

// Ping sends the heartbeat frame.
func (m *Manager) Ping() bool {
	return m.Send(pingMessage{Type: "ping"})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// ReconnectAttempts returns the current reconnect counter.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Snapshot returns manager statistics.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		SessionID:           m.sessionID,
		State:               m.state.String(),
		ReconnectAttempts:   m.attempts,
		Dials:               m.dials,
		ReconnectsScheduled: m.reconnectsScheduled,
		FramesReceived:      m.frames,
		DecodeErrors:        m.decodeErrors,
		TransportErrors:     m.transportErrors,
		LastCloseCode:       m.lastClose,
		ConnectedAt:         m.connectedAt,
	}
}

func (m *Manager) endpoint(token string) string {
	return strings.TrimRight(m.cfg.URL, "/") + "/ws?token=" + url.QueryEscape(token)
}

func (m *Manager) handshakeTimeout() time.Duration {
	if m.cfg.HandshakeTimeout > 0 {
		return m.cfg.HandshakeTimeout
	}
	return DefaultConfig().HandshakeTimeout
}

// dial runs on its own goroutine for one Connect.
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, endpoint string) {
	t, err := m.dialer.Dial(ctx, endpoint)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect ran while dialing.
		m.mu.Unlock()
		if t != nil {
			if err := t.Close(CloseNormal, ManualCloseReason); err != nil {
				m.logger.Debug("close stale transport", "error", err)
			}
		}
		return
	}
	m.dialing = false
	m.cancelDial = nil

	if err != nil {
		m.transportErrors++
		m.mu.Unlock()

		m.logger.Warn("websocket dial failed", "error", err)
		m.router.Publish(router.ErrorEvent{Err: err})
		m.handleClose(gen, CloseAbnormal, err.Error())
		return
	}

	m.transport = t
	m.state = StateOpen
	m.attempts = 0
	m.connectedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("websocket connected")
	m.router.Publish(router.ConnectionEvent{Status: router.StatusConnected})

	t.Listen(Handlers{
		OnMessage: func(data []byte) { m.handleFrame(gen, data) },
		OnError:   func(err error) { m.handleError(gen, err) },
		OnClose:   func(code int, reason string) { m.handleClose(gen, code, reason) },
	})
}

func (m *Manager) handleFrame(gen uint64, data []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.frames++
	m.mu.Unlock()

	evt, err := router.Decode(data)
	if err != nil {
		m.mu.Lock()
		m.decodeErrors++
		m.mu.Unlock()
		m.logger.Warn("dropping undecodable frame", "error", err, "size", len(data))
		return
	}
	m.router.Publish(evt)
}

// handleError records a transport error. The close that follows decides
// whether to reconnect.
func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = StateErrored
	m.transportErrors++
	m.mu.Unlock()

	m.logger.Warn("websocket error", "error", err)
	m.router.Publish(router.ErrorEvent{Err: err})
}

func (m *Manager) handleClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.logger.Debug("ignoring close from stale transport", "code", code)
		return
	}

	m.transport = nil
	m.dialing = false
	m.state = StateClosed
	m.lastClose = code

	manual := IsManualClose(code, reason)
	scheduled := false
	attempt := m.attempts
	if !manual && m.attempts < m.cfg.MaxReconnectAttempts {
		m.attempts++
		attempt = m.attempts
		m.reconnectsScheduled++
		m.timer = m.sched.AfterFunc(m.cfg.ReconnectInterval, func() { m.reconnect(gen) })
		scheduled = true
	}
	m.mu.Unlock()

	switch {
	case manual:
		m.logger.Info("websocket closed", "code", code)
	case scheduled:
		m.logger.Info("websocket closed, reconnect scheduled",
			"code", code,
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"delay", m.cfg.ReconnectInterval,
		)
	default:
		m.logger.Error("websocket closed, reconnect attempts exhausted",
			"code", code,
			"attempts", attempt,
		)
	}

	m.router.Publish(router.ConnectionEvent{
		Status: router.StatusDisconnected,
		Code:   code,
		Reason: reason,
	})
}

// reconnect fires from the reconnect timer of connection generation gen.
func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if !m.Connect() {
		m.logger.Debug("reconnect skipped")
	}
}
