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

// Package audit records security-relevant events. Producers hand events to
// a Recorder and never wait on, or observe failures of, the underlying sink.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Actions
const (
	ActionLoginSuccess   = "auth.login_success"
	ActionLoginFailed    = "auth.login_failed"
	ActionRateLimited    = "auth.rate_limited"
	ActionAccessDenied   = "auth.access_denied"
	ActionLogout         = "auth.logout"
	ActionRateLimitReset = "ratelimit.reset"
)

// ErrAuditWriteFailed wraps sink failures. It is logged and counted, never
// returned to the code that produced the event.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Event represents an auditable action
type Event struct {
	ID            string
	ActorID       string
	Action        string
	Resource      string
	Detail        map[string]any
	SourceAddress string
	UserAgent     string
	Timestamp     time.Time
}

// Sink persists audit events.
type Sink interface {
	Persist(ctx context.Context, event Event) error
}

// Recorder accepts audit events without blocking the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

// MultiSink persists to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Persist(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Persist(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential", "cookie"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of detail with secret-looking keys masked.
func Redact(detail map[string]any) map[string]any {
	if len(detail) == 0 {
		return detail
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}
