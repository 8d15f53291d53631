// Package auth implements the single-admin-password login of spec.md §6:
// a signed bearer token issued by POST /auth/login, verified by
// POST /auth/verify, and revoked by POST /auth/logout. The JWT itself only
// carries tamper-evident identity and an expiry; the in-process session map
// is the actual source of truth for whether a token is still live, so a
// logout or process restart invalidates tokens immediately rather than
// waiting out their signed expiry.
package auth

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidCredentials is returned by Login when the supplied password does
// not match the configured admin password.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrTokenInvalid covers a malformed/unsigned/expired token, or one that has
// been logged out of the session map.
var ErrTokenInvalid = errors.New("auth: token invalid or expired")

type claims struct {
	jwt.RegisteredClaims
}

type session struct {
	expiresAt time.Time
}

// Manager issues and verifies bearer tokens against a single configured
// admin password. Safe for concurrent use.
type Manager struct {
	adminPassword string
	secret        []byte
	expiry        time.Duration

	mu       sync.Mutex
	sessions map[string]session // jti -> session
}

// NewManager builds a Manager. secret signs the JWT; it should be derived
// from process configuration (e.g. the admin password itself, or a
// dedicated secret env var) so tokens do not verify across process restarts
// with a different secret.
func NewManager(adminPassword, secret string, expiry time.Duration) *Manager {
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Manager{
		adminPassword: adminPassword,
		secret:        []byte(secret),
		expiry:        expiry,
		sessions:      make(map[string]session),
	}
}

// Login checks password against the configured admin password in constant
// time and, on success, issues a new signed token recorded in the session
// map.
func (m *Manager) Login(password string) (string, error) {
	if m.adminPassword == "" || subtle.ConstantTimeCompare([]byte(password), []byte(m.adminPassword)) != 1 {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	jti := uuid.NewString()
	expiresAt := now.Add(m.expiry)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[jti] = session{expiresAt: expiresAt}
	m.evictExpiredLocked(now)
	m.mu.Unlock()

	return signed, nil
}

// Verify reports whether tokenString is a currently-live session: validly
// signed, unexpired, and not logged out.
func (m *Manager) Verify(tokenString string) error {
	jti, _, err := m.parse(tokenString)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jti]
	if !ok || time.Now().After(s.expiresAt) {
		return ErrTokenInvalid
	}
	return nil
}

// Logout revokes tokenString immediately, regardless of its signed expiry.
func (m *Manager) Logout(tokenString string) error {
	jti, _, err := m.parse(tokenString)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, jti)
	m.mu.Unlock()
	return nil
}

func (m *Manager) parse(tokenString string) (jti string, expiresAt time.Time, err error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	})
	if err != nil || !tok.Valid || c.ID == "" {
		return "", time.Time{}, ErrTokenInvalid
	}
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.Time
	}
	return c.ID, expiresAt, nil
}

// evictExpiredLocked drops expired sessions opportunistically on every
// login, keeping the in-process map from growing unbounded across a long
// process lifetime. Callers must hold m.mu.
func (m *Manager) evictExpiredLocked(now time.Time) {
	for jti, s := range m.sessions {
		if now.After(s.expiresAt) {
			delete(m.sessions, jti)
		}
	}
}
