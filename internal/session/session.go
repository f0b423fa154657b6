// Copyright 2026 The GridPanel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session issues and validates the signed tokens carried in the
// dashboard session cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gridpanel/gridpanel/internal/clock"
	"github.com/gridpanel/gridpanel/internal/identity"
	"github.com/gridpanel/gridpanel/internal/rbac"
)

// Domain errors
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrRevoked      = errors.New("session revoked")
	ErrWeakSecret   = errors.New("session secret must be at least 32 bytes")
)

const issuer = "gridpanel"

// Session describes an issued token.
type Session struct {
	ID        string
	UserID    string
	Token     string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the session has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Claims is the JWT payload of a session token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues HS256 session tokens and validates them. Logged-out tokens
// are remembered until they would have expired.
type Manager struct {
	secret   []byte
	lifetime time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	revoked map[string]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// NewManager creates a Manager signing with secret.
func NewManager(secret []byte, lifetime time.Duration, opts ...Option) (*Manager, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("session lifetime must be positive, got %s", lifetime)
	}
	m := &Manager{
		secret:   append([]byte(nil), secret...),
		lifetime: lifetime,
		clock:    clock.Real{},
		revoked:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Lifetime returns the validity period of issued tokens.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Issue signs a token for ident.
func (m *Manager) Issue(ctx context.Context, ident *identity.Identity, src identity.Source) (*Session, error) {
	now := m.clock.Now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    ident.ID,
		IPAddress: src.IPAddress,
		UserAgent: src.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(m.lifetime),
	}

	claims := Claims{
		Email: ident.Email,
		Name:  ident.DisplayName,
		Role:  ident.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Issuer:    issuer,
			Subject:   ident.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	s.Token = token
	return s, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the
// identity in the token.
func (m *Manager) ValidateToken(ctx context.Context, token string) (*identity.Identity, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, revoked := m.revoked[claims.ID]
	m.mu.Unlock()
	if revoked {
		return nil, ErrRevoked
	}

	role, err := rbac.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return &identity.Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		Role:        role,
		DisplayName: claims.Name,
	}, nil
}

// Revoke invalidates token until its natural expiry.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, id)
		}
	}
	m.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (m *Manager) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	return claims, nil
}
