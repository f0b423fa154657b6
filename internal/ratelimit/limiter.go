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

// Package ratelimit implements the in-memory sliding-window limiter that
// guards credential checks. Attempts are counted per (address, identifier)
// pair; once the budget of a window is exceeded the pair stays blocked until
// the window expires.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gridpanel/gridpanel/internal/clock"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
)

// Defaults used when Config fields are left zero.
const (
	DefaultWindow          = 15 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultCleanupInterval = time.Minute
)

// Config holds limiter configuration. It is fixed for the limiter lifetime.
type Config struct {
	Window          time.Duration
	MaxAttempts     int
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

// Record is the per-key limiter state.
type Record struct {
	Attempts    int
	WindowStart time.Time
	Blocked     bool
}

// Result describes the state of a key after an operation.
type Result struct {
	Allowed       bool
	Remaining     int
	ResetTime     time.Time
	TotalAttempts int
	Blocked       bool
}

// RetryAfter returns how long the caller must wait before the key is usable again.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetTime.After(now) {
		return 0
	}
	return r.ResetTime.Sub(now)
}

// Stats is a point-in-time snapshot of the limiter.
type Stats struct {
	TotalTrackedIdentifiers int        `json:"total_tracked_identifiers"`
	BlockedIdentifiers      int        `json:"blocked_identifiers"`
	TotalAttempts           int        `json:"total_attempts"`
	OldestAttempt           *time.Time `json:"oldest_attempt,omitempty"`
}

type key struct {
	address    string
	identifier string
}

// Limiter is a concurrency-safe sliding-window attempt counter.
type Limiter struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	mu      sync.Mutex
	records map[key]*Record

	blockedCounter metric.Int64Counter
	sweptCounter   metric.Int64Counter
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = lg
	}
}

// WithMeter registers limiter counters on m.
func WithMeter(m metric.Meter) Option {
	return func(l *Limiter) {
		var err error
		l.blockedCounter, err = m.Int64Counter("ratelimit.blocked_attempts",
			metric.WithDescription("Attempts rejected because the key exceeded its budget"))
		if err != nil {
			l.logger.Warn("failed to create ratelimit counter", logger.Error(err))
		}
		l.sweptCounter, err = m.Int64Counter("ratelimit.swept_records",
			metric.WithDescription("Expired limiter records removed by the sweeper"))
		if err != nil {
			l.logger.Warn("failed to create ratelimit counter", logger.Error(err))
		}
	}
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		clock:   clock.Real{},
		logger:  slog.Default(),
		records: make(map[key]*Record),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logger.Component("ratelimit"))
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckLimit charges one attempt for the key and reports whether it is allowed.
// A missing or expired record starts a new window with one attempt.
func (l *Limiter) CheckLimit(identifier, address string) Result {
	return l.charge(identifier, address)
}

// RecordFailedAttempt charges one attempt for callers that separate checking
// from charging.
func (l *Limiter) RecordFailedAttempt(identifier, address string) Result {
	res := l.charge(identifier, address)
	l.logger.Debug("failed attempt recorded",
		logger.RemoteAddr(address),
		logger.Attempts(res.TotalAttempts),
		logger.Blocked(res.Blocked),
	)
	return res
}

// RecordSuccessfulAttempt clears the key so that a user who eventually
// authenticates is not left locked out by their own retries.
func (l *Limiter) RecordSuccessfulAttempt(identifier, address string) {
	l.mu.Lock()
	delete(l.records, key{address: address, identifier: identifier})
	l.mu.Unlock()
}

// Reset clears a single key.
func (l *Limiter) Reset(identifier, address string) {
	l.mu.Lock()
	delete(l.records, key{address: address, identifier: identifier})
	l.mu.Unlock()
}

// ResetAll clears every key.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	l.records = make(map[key]*Record)
	l.mu.Unlock()
}

// Peek returns the current state of a key without charging it.
func (l *Limiter) Peek(identifier, address string) Result {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key{address: address, identifier: identifier}]
	if !ok || l.expired(rec, now) {
		return Result{Allowed: true, Remaining: l.cfg.MaxAttempts, ResetTime: now.Add(l.cfg.Window)}
	}
	return l.result(rec)
}

// Stats returns a snapshot of the tracked keys.
func (l *Limiter) Stats() Stats {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var s Stats
	for _, rec := range l.records {
		s.TotalTrackedIdentifiers++
		s.TotalAttempts += rec.Attempts
		if rec.Blocked && !l.expired(rec, now) {
			s.BlockedIdentifiers++
		}
		if s.OldestAttempt == nil || rec.WindowStart.Before(*s.OldestAttempt) {
			start := rec.WindowStart
			s.OldestAttempt = &start
		}
	}
	return s
}

// Cleanup removes expired records and returns how many were removed.
func (l *Limiter) Cleanup() int {
	now := l.clock.Now()

	l.mu.Lock()
	removed := 0
	for k, rec := range l.records {
		if l.expired(rec, now) {
			delete(l.records, k)
			removed++
		}
	}
	l.mu.Unlock()

	if removed > 0 {
		if l.sweptCounter != nil {
			l.sweptCounter.Add(context.Background(), int64(removed))
		}
		l.logger.Debug("expired rate limit records removed", logger.Count(removed))
	}
	return removed
}

// Run sweeps expired records every CleanupInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func (l *Limiter) charge(identifier, address string) Result {
	now := l.clock.Now()
	k := key{address: address, identifier: identifier}

	l.mu.Lock()
	rec, ok := l.records[k]
	if !ok || l.expired(rec, now) {
		rec = &Record{Attempts: 1, WindowStart: now}
		l.records[k] = rec
	} else {
		rec.Attempts++
		if rec.Attempts > l.cfg.MaxAttempts {
			rec.Blocked = true
		}
	}
	res := l.result(rec)
	l.mu.Unlock()

	if res.Blocked && l.blockedCounter != nil {
		l.blockedCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", "budget_exceeded")))
	}
	return res
}

// expired reports whether the record's window has elapsed. Expiry is
// exclusive: at exactly WindowStart+Window the record is expired.
func (l *Limiter) expired(rec *Record, now time.Time) bool {
	return !now.Before(rec.WindowStart.Add(l.cfg.Window))
}

func (l *Limiter) result(rec *Record) Result {
	remaining := l.cfg.MaxAttempts - rec.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:       !rec.Blocked,
		Remaining:     remaining,
		ResetTime:     rec.WindowStart.Add(l.cfg.Window),
		TotalAttempts: rec.Attempts,
		Blocked:       rec.Blocked,
	}
}
