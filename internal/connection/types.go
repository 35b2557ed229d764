package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// Close codes.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// ManualCloseReason marks a close requested by Disconnect. A close with
// CloseNormal and this reason never triggers a reconnect.
const ManualCloseReason = "manual disconnect"

// IsManualClose reports whether code and reason are the manual sentinel.
func IsManualClose(code int, reason string) bool {
	return code == CloseNormal && reason == ManualCloseReason
}

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota // Never connected
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handlers receive transport callbacks. They are called from the
// transport's read goroutine, one at a time, in arrival order.
type Handlers struct {
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Config configures the Connection Manager.
type Config struct {
	URL                  string        // Push base URL; /ws?token= is appended
	MaxReconnectAttempts int           // Reconnects after abnormal close before giving up
	ReconnectInterval    time.Duration // Fixed delay before each reconnect
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
}

// DefaultConfig returns the standard reconnect policy.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:8000",
		MaxReconnectAttempts: 5,
		ReconnectInterval:    5 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	SessionID           string    `json:"session_id"`
	State               string    `json:"state"`
	ReconnectAttempts   int       `json:"reconnect_attempts"`
	Dials               int64     `json:"dials"`
	ReconnectsScheduled int64     `json:"reconnects_scheduled"`
	FramesReceived      int64     `json:"frames_received"`
	DecodeErrors        int64     `json:"decode_errors"`
	TransportErrors     int64     `json:"transport_errors"`
	LastCloseCode       int       `json:"last_close_code,omitempty"`
	ConnectedAt         time.Time `json:"connected_at,omitzero"`
}

// pingMessage is the outbound heartbeat frame.
type pingMessage struct {
	Type string `json:"type"`
}
