package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single open push connection.
type Transport interface {
	// Listen starts delivering inbound frames to h. Called once.
	Listen(h Handlers)

	// Send writes one text frame.
	Send(data []byte) error

	// Close sends a close frame with code and reason and releases the
	// connection. OnClose is reported once with the same code and reason.
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// wsDialer dials gorilla websocket connections.
type wsDialer struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	logger           *slog.Logger
}

// NewDialer creates a websocket Dialer.
func NewDialer(handshakeTimeout, writeTimeout time.Duration, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsDialer{
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		logger:           logger,
	}
}

// Dial opens a websocket connection to url.
func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	return &wsTransport{
		conn:         conn,
		writeTimeout: d.writeTimeout,
		logger:       d.logger,
	}, nil
}

// wsTransport implements Transport over a gorilla connection.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	handlers  atomic.Pointer[Handlers]
	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
}

// Listen starts the read loop.
func (t *wsTransport) Listen(h Handlers) {
	t.handlers.Store(&h)
	go t.readLoop()
}

// Send writes a text frame.
func (t *wsTransport) Send(data []byte) error {
	if t.closing.Load() {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (t *wsTransport) Close(code int, reason string) error {
	if !t.closing.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	t.writeMu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	t.reportClose(code, reason)
	return nil
}

// readLoop reads frames until the connection fails or is closed.
func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			// Close already reported the close.
			if t.closing.Load() {
				return
			}

			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Debug("websocket closed unexpectedly", "code", ce.Code, "reason", ce.Text)
				}
				t.reportClose(ce.Code, ce.Text)
				return
			}

			if h := t.handlers.Load(); h != nil && h.OnError != nil {
				h.OnError(err)
			}
			t.reportClose(CloseAbnormal, "")
			return
		}

		if h := t.handlers.Load(); h != nil && h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

func (t *wsTransport) reportClose(code int, reason string) {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		t.conn.Close()
		if h := t.handlers.Load(); h != nil && h.OnClose != nil {
			h.OnClose(code, reason)
		}
	})
}
