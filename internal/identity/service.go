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

// Package identity verifies dashboard credentials.
//
// Authenticate walks a fixed sequence: rate check, user lookup, password
// verification. Every terminal branch emits exactly one audit event, and the
// rate-limit charge happens before the lookup so an abandoned request still
// consumes its attempt.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gridpanel/gridpanel/internal/audit"
	"github.com/gridpanel/gridpanel/internal/clock"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/observability/metrics"
	"github.com/gridpanel/gridpanel/internal/ratelimit"
)

// Reasons recorded on auth.login_failed events.
const (
	ReasonUnknownUser     = "unknown_user"
	ReasonInvalidPassword = "invalid_password"
	ReasonLookupError     = "lookup_error"
)

// Terminal states, reported on the trace span and as the metric outcome.
const (
	outcomeBlocked  = "blocked"
	outcomeNotFound = "not_found"
	outcomeInvalid  = "invalid"
	outcomeError    = "error"
	outcomeSuccess  = "success"
)

// RateLimiter is the subset of the sliding-window limiter used by the
// credential flow.
type RateLimiter interface {
	CheckLimit(identifier, address string) ratelimit.Result
	RecordSuccessfulAttempt(identifier, address string)
}

// Service provides identity-related business logic
type Service struct {
	users     UserStore
	verifier  PasswordVerifier
	limiter   RateLimiter
	audit     audit.Recorder
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics.AuthInstruments
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithTracer sets the tracer used for Authenticate spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithMetrics records login outcomes on inst.
func WithMetrics(inst *metrics.AuthInstruments) Option {
	return func(s *Service) {
		s.metrics = inst
	}
}

// WithDummyHash sets the hash verified when the user does not exist, so that
// unknown and known emails take comparable time.
func WithDummyHash(hash string) Option {
	return func(s *Service) {
		s.dummyHash = hash
	}
}

// NewService creates a new identity service. When verifier can also hash,
// a dummy hash is derived from it unless one was supplied.
func NewService(users UserStore, verifier PasswordVerifier, limiter RateLimiter, recorder audit.Recorder, opts ...Option) (*Service, error) {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	s := &Service{
		users:    users,
		verifier: verifier,
		limiter:  limiter,
		audit:    recorder,
		clock:    clock.Real{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/gridpanel/gridpanel/internal/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("identity"))

	if s.dummyHash == "" {
		if h, ok := verifier.(interface{ Hash(string) (string, error) }); ok {
			dummy, err := h.Hash("gridpanel-dummy-password")
			if err != nil {
				return nil, fmt.Errorf("failed to derive dummy hash: %w", err)
			}
			s.dummyHash = dummy
		}
	}
	return s, nil
}

// Authenticate verifies email and password for a request from src.
//
// It returns *RateLimitedError when the pair is blocked, ErrInvalidCredentials
// for an unknown email or wrong password, and a wrapped store error for any
// other lookup failure.
func (s *Service) Authenticate(ctx context.Context, email, password string, src Source) (*Identity, error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "identity.Authenticate")
	defer span.End()

	identifier := NormalizeEmail(email)

	outcome, ident, err := s.authenticate(ctx, identifier, password, src)

	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if outcome == outcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
	}
	s.metrics.RecordLogin(ctx, outcome, s.clock.Now().Sub(start))
	return ident, err
}

func (s *Service) authenticate(ctx context.Context, identifier, password string, src Source) (string, *Identity, error) {
	// RATE_CHECK
	res := s.limiter.CheckLimit(identifier, src.IPAddress)
	if !res.Allowed {
		s.burnVerification(password)
		retryAfter := res.RetryAfter(s.clock.Now())
		s.record(ctx, audit.Event{
			Action:        audit.ActionRateLimited,
			Resource:      "login",
			SourceAddress: src.IPAddress,
			UserAgent:     src.UserAgent,
			Detail: map[string]any{
				"email":         identifier,
				"attempts":      res.TotalAttempts,
				"retry_after_s": int64(retryAfter.Seconds()),
			},
		})
		s.logger.WarnContext(ctx, "login rate limited",
			logger.Email(identifier),
			logger.RemoteAddr(src.IPAddress),
			logger.Attempts(res.TotalAttempts),
		)
		return outcomeBlocked, nil, &RateLimitedError{RetryAfter: retryAfter, Remaining: res.Remaining}
	}

	// LOOKUP
	user, err := s.users.FindUserByEmail(ctx, identifier)
	if err != nil {
		s.burnVerification(password)

		if errors.Is(err, ErrUserNotFound) {
			s.recordFailure(ctx, "", identifier, ReasonUnknownUser, src)
			return outcomeNotFound, nil, ErrInvalidCredentials
		}

		s.recordFailure(ctx, "", identifier, ReasonLookupError, src)
		s.logger.ErrorContext(ctx, "user lookup failed", logger.Email(identifier), logger.Error(err))
		return outcomeError, nil, fmt.Errorf("failed to look up user: %w", err)
	}

	// VERIFY
	valid, err := s.verifier.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash is unusable", logger.UserID(user.ID), logger.Error(err))
	}
	if err != nil || !valid {
		s.recordFailure(ctx, user.ID, identifier, ReasonInvalidPassword, src)
		return outcomeInvalid, nil, ErrInvalidCredentials
	}

	// SUCCESS
	s.limiter.RecordSuccessfulAttempt(identifier, src.IPAddress)
	s.record(ctx, audit.Event{
		ActorID:       user.ID,
		Action:        audit.ActionLoginSuccess,
		Resource:      "login",
		SourceAddress: src.IPAddress,
		UserAgent:     src.UserAgent,
		Detail: map[string]any{
			"user_id":    user.ID,
			"ip_address": src.IPAddress,
			"user_agent": src.UserAgent,
		},
	})
	s.logger.InfoContext(ctx, "login succeeded", logger.UserID(user.ID), logger.Role(user.Role.String()))

	return outcomeSuccess, user.Identity(), nil
}

// Logout records the end of a session for ident.
func (s *Service) Logout(ctx context.Context, ident *Identity, src Source) {
	if ident == nil {
		return
	}
	s.record(ctx, audit.Event{
		ActorID:       ident.ID,
		Action:        audit.ActionLogout,
		Resource:      "session",
		SourceAddress: src.IPAddress,
		UserAgent:     src.UserAgent,
	})
}

func (s *Service) recordFailure(ctx context.Context, actorID, email, reason string, src Source) {
	s.record(ctx, audit.Event{
		ActorID:       actorID,
		Action:        audit.ActionLoginFailed,
		Resource:      "login",
		SourceAddress: src.IPAddress,
		UserAgent:     src.UserAgent,
		Detail: map[string]any{
			"email":  email,
			"reason": reason,
		},
	})
}

// record detaches the audit write from request cancellation.
func (s *Service) record(ctx context.Context, event audit.Event) {
	s.audit.Record(context.WithoutCancel(ctx), event)
}

func (s *Service) burnVerification(password string) {
	if s.dummyHash == "" {
		return
	}
	_, _ = s.verifier.Verify(password, s.dummyHash)
}
