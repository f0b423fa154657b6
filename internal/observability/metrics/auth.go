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

package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthInstruments groups the instruments recorded by the authentication
// and request authorization paths.
type AuthInstruments struct {
	loginAttempts   metric.Int64Counter
	loginDuration   metric.Float64Histogram
	accessDecisions metric.Int64Counter
	inFlight        metric.Int64UpDownCounter
}

// NewAuthInstruments registers the authentication instruments on m.
func NewAuthInstruments(m *Meter) (*AuthInstruments, error) {
	loginAttempts, err := m.CreateCounter("auth.login.attempts", "Login attempts by outcome")
	if err != nil {
		return nil, err
	}
	loginDuration, err := m.CreateHistogram("auth.login.duration", "Time spent verifying credentials", "ms")
	if err != nil {
		return nil, err
	}
	accessDecisions, err := m.CreateCounter("authz.decisions", "Request authorization decisions by kind")
	if err != nil {
		return nil, err
	}
	inFlight, err := m.CreateUpDownCounter("http.server.in_flight", "Requests currently being served")
	if err != nil {
		return nil, err
	}

	return &AuthInstruments{
		loginAttempts:   loginAttempts,
		loginDuration:   loginDuration,
		accessDecisions: accessDecisions,
		inFlight:        inFlight,
	}, nil
}

// RecordLogin records one terminal credential check.
func (a *AuthInstruments) RecordLogin(ctx context.Context, outcome string, elapsed time.Duration) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	a.loginAttempts.Add(ctx, 1, attrs)
	a.loginDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordDecision records one request authorization decision.
func (a *AuthInstruments) RecordDecision(ctx context.Context, kind string) {
	if a == nil {
		return
	}
	a.accessDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (a *AuthInstruments) TrackInFlight(ctx context.Context) func() {
	if a == nil {
		return func() {}
	}
	a.inFlight.Add(ctx, 1)
	return func() { a.inFlight.Add(ctx, -1) }
}
