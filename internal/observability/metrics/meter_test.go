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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	"go.opentelemetry.io/otel/metric/noop"
)

type recordingProvider struct {
	embedded.MeterProvider

	mu    sync.Mutex
	names []string
}

func (p *recordingProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	return noop.NewMeterProvider().Meter(name, opts...)
}

func TestNew_Disabled(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: false}, "gridpanel")
	require.NoError(t, err)
	require.NotNil(t, m.GetMeter())

	c, err := m.CreateCounter("test.counter", "test")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
}

// TestPurpose: Validates that enabled metrics reach an explicitly configured provider.
// Scope: Unit Test
// Expected: The provider hands out the service meter and the meter reports it exports;
// without a provider the meter falls back to the global one and reports it does not.
// Test Case ID: MET-01
func TestNew_Provider(t *testing.T) {
	provider := &recordingProvider{}

	m, err := New(context.Background(), Config{Enabled: true, Provider: provider}, "gridpanel")
	require.NoError(t, err)
	assert.True(t, m.Exporting())
	assert.Equal(t, []string{"gridpanel"}, provider.names)

	off, err := New(context.Background(), Config{Enabled: false, Provider: provider}, "gridpanel")
	require.NoError(t, err)
	assert.False(t, off.Exporting())
	assert.Len(t, provider.names, 1)

	global, err := New(context.Background(), Config{Enabled: true}, "gridpanel")
	require.NoError(t, err)
	assert.False(t, global.Exporting())
	require.NotNil(t, global.GetMeter())
}

func TestAuthInstruments(t *testing.T) {
	inst, err := NewAuthInstruments(NewNoop())
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordLogin(ctx, "success", 5*time.Millisecond)
	inst.RecordDecision(ctx, "allow")
	done := inst.TrackInFlight(ctx)
	done()
}

func TestAuthInstruments_NilSafe(t *testing.T) {
	var inst *AuthInstruments
	assert.NotPanics(t, func() {
		inst.RecordLogin(context.Background(), "failure", time.Millisecond)
		inst.RecordDecision(context.Background(), "forbidden")
		inst.TrackInFlight(context.Background())()
	})
}
