// Package auth authenticates operator sessions.
//
// Operators log in with the shared admin password and receive an opaque
// session token. REST calls carry it as a Bearer token; the admin push
// channel passes it in the "token" query parameter because browsers cannot
// set headers on a websocket upgrade.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/lobby/pkg/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrRateLimited        = errors.New("too many login attempts")
)

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultLoginRate  = 0.2
	DefaultLoginBurst = 5
)

// Config holds operator auth settings
type Config struct {
	// Password is the plaintext admin password, hashed at startup
	Password string
	// PasswordHash is a bcrypt hash used instead of Password when set
	PasswordHash string
	SessionTTL   time.Duration
	// LoginRate is the sustained login attempts per second per client IP
	LoginRate  float64
	LoginBurst int
	// BcryptCost applies when hashing Password
	BcryptCost int
}

// Session is an authenticated operator session
type Session struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Authenticator validates logins and session tokens
type Authenticator struct {
	hash   []byte
	ttl    time.Duration
	rate   rate.Limit
	burst  int
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAuthenticator hashes the configured password and returns an authenticator
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	var hash []byte
	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		hash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		cost := cfg.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		h, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		hash = h
	default:
		return nil, errors.New("admin password is required")
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.LoginRate <= 0 {
		cfg.LoginRate = DefaultLoginRate
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = DefaultLoginBurst
	}

	return &Authenticator{
		hash:     hash,
		ttl:      cfg.SessionTTL,
		rate:     rate.Limit(cfg.LoginRate),
		burst:    cfg.LoginBurst,
		logger:   log.WithComponent("auth"),
		sessions: make(map[string]*Session),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Login checks password and opens a session. Attempts are rate limited per
// client address whether or not they succeed.
func (a *Authenticator) Login(clientIP, password string) (*Session, error) {
	if !a.allow(clientIP) {
		a.logger.Warn().Str("client_ip", clientIP).Msg("Login rate limit exceeded")
		return nil, ErrRateLimited
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		a.logger.Warn().Str("client_ip", clientIP).Msg("Failed operator login")
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	session := &Session{
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	a.mu.Lock()
	a.sessions[session.Token] = session
	a.mu.Unlock()

	a.logger.Info().Str("client_ip", clientIP).Msg("Operator logged in")
	return session, nil
}

// Validate returns the session for token
func (a *Authenticator) Validate(token string) (*Session, error) {
	a.mu.RLock()
	session, ok := a.sessions[token]
	a.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidToken
	}
	if time.Now().After(session.ExpiresAt) {
		a.Revoke(token)
		return nil, ErrTokenExpired
	}
	return session, nil
}

// Revoke ends a session
func (a *Authenticator) Revoke(token string) {
	a.mu.Lock()
	delete(a.sessions, token)
	a.mu.Unlock()
}

// CleanupExpired removes expired sessions and returns how many were removed
func (a *Authenticator) CleanupExpired() int {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for token, s := range a.sessions {
		if now.After(s.ExpiresAt) {
			delete(a.sessions, token)
			removed++
		}
	}
	return removed
}

// RunJanitor removes expired sessions every interval until ctx is done
func (a *Authenticator) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := a.CleanupExpired(); n > 0 {
				a.logger.Debug().Int("removed", n).Msg("Expired sessions removed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Authenticator) allow(clientIP string) bool {
	a.limMu.Lock()
	limiter, ok := a.limiters[clientIP]
	if !ok {
		limiter = rate.NewLimiter(a.rate, a.burst)
		a.limiters[clientIP] = limiter
	}
	a.limMu.Unlock()

	return limiter.Allow()
}

// Middleware rejects requests without a valid session token
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.Validate(TokenFromRequest(r)); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromRequest reads the Bearer token, falling back to the token query
// parameter
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// ClientIP returns the originating client address, honouring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
