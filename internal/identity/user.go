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

package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridpanel/gridpanel/internal/rbac"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// User is a stored dashboard account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         rbac.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the authenticated principal handed to upper layers. It never
// carries credential material.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        rbac.Role `json:"role"`
	DisplayName string    `json:"name"`
}

// Identity returns the principal view of u.
func (u *User) Identity() *Identity {
	return &Identity{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		DisplayName: u.DisplayName,
	}
}

// Source describes where a request came from.
type Source struct {
	IPAddress string
	UserAgent string
}

// UserStore looks up accounts. Implementations return ErrUserNotFound when no
// account matches.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// UserRepository is a UserStore that can also create accounts.
type UserRepository interface {
	UserStore
	CreateUser(ctx context.Context, user *User) error
}

// RateLimitedError is returned when the (address, email) pair has exhausted
// its attempt budget. It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
	Remaining  int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// NormalizeEmail trims and lower-cases an email address for lookups and
// rate-limit keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
