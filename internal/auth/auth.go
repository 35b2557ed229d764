// Package auth provides the bearer token shared by REST and WebSocket requests.
//
// Token issuance and refresh belong to the portal's auth service; this package
// only holds the current token and decides whether it is still usable.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a token file is empty.
var ErrNoToken = errors.New("no token")

// TokenSource yields the current bearer token. ok is false when no token is
// present or the token has expired; callers must not connect in that case.
type TokenSource interface {
	Token() (token string, ok bool)
}

// Session holds the bearer token for the authenticated session.
type Session struct {
	mu        sync.RWMutex
	raw       string
	expiresAt time.Time // zero = no expiry known
	malformed bool

	now func() time.Time
}

// NewSession creates a session holding raw (may be empty).
func NewSession(raw string) *Session {
	s := &Session{now: time.Now}
	s.Set(raw)
	return s
}

// LoadToken reads a token from a file (trailing whitespace trimmed).
func LoadToken(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil, ErrNoToken
	}
	return NewSession(raw), nil
}

// Set replaces the token, e.g. after the auth service refreshed it.
func (s *Session) Set(raw string) {
	raw = strings.TrimSpace(raw)
	exp, malformed := parseExpiry(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
	s.expiresAt = exp
	s.malformed = malformed
}

// Clear drops the token (logout).
func (s *Session) Clear() {
	s.Set("")
}

// Token returns the token if present and not expired.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.raw == "" || s.malformed {
		return "", false
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return "", false
	}
	return s.raw, true
}

// ExpiresAt returns the token's exp claim, if it has one.
func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt, !s.expiresAt.IsZero()
}

// parseExpiry reads the exp claim of a JWT without verifying its signature;
// the signing key lives on the server. Opaque (non-JWT) tokens have no
// expiry. A token shaped like a JWT that fails to parse is malformed.
func parseExpiry(raw string) (exp time.Time, malformed bool) {
	if raw == "" || strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, true
	}

	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, false
}
