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
	"log/slog"

	"github.com/google/uuid"

	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/rbac"
)

// BootstrapConfig names the first administrator account. An empty Email
// disables bootstrapping.
type BootstrapConfig struct {
	Email       string
	Password    string
	DisplayName string
}

// BootstrapService creates the initial admin account on an empty install.
type BootstrapService struct {
	repo   UserRepository
	hasher *PasswordHasher
	logger *slog.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(repo UserRepository, hasher *PasswordHasher, l *slog.Logger) *BootstrapService {
	if l == nil {
		l = slog.Default()
	}
	return &BootstrapService{
		repo:   repo,
		hasher: hasher,
		logger: l.With(logger.Component("bootstrap")),
	}
}

// Bootstrap creates the configured admin unless an account with that email
// already exists. It is safe to run on every start.
func (s *BootstrapService) Bootstrap(ctx context.Context, cfg BootstrapConfig) error {
	if cfg.Email == "" {
		return nil
	}
	email := NormalizeEmail(cfg.Email)

	_, err := s.repo.FindUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to check for bootstrap admin: %w", err)
	}

	if err := ValidatePasswordStrength(cfg.Password); err != nil {
		return fmt.Errorf("bootstrap admin password: %w", err)
	}
	hash, err := s.hasher.Hash(cfg.Password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	name := cfg.DisplayName
	if name == "" {
		name = "Administrator"
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
		Role:         rbac.RoleAdmin,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	s.logger.InfoContext(ctx, "bootstrap admin created", logger.UserID(user.ID), logger.Email(email))
	return nil
}
