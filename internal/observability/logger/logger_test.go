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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

// TestPurpose: Validates that log lines carry the trace context of the request.
// Scope: Unit Test
// Expected: JSON output contains trace_id and span_id when the context holds a valid span.
// Test Case ID: LOG-01
func TestTraceContextHandler_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf, DisableOTel: true})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.InfoContext(ctx, "hello", Component("test"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, sc.TraceID().String(), line["trace_id"])
	assert.Equal(t, sc.SpanID().String(), line["span_id"])
	assert.Equal(t, "test", line["component"])
}

func TestTraceContextHandler_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf, DisableOTel: true})

	l.Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	_, ok := line["trace_id"]
	assert.False(t, ok)
}

// TestPurpose: Validates that the fanout handler delivers to every enabled handler.
// Scope: Unit Test
// Expected: Both sinks receive the info record; the warn-only sink skips debug.
// Test Case ID: LOG-02
func TestFanoutHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := NewFanoutHandler(
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	l := slog.New(h).With(Component("fanout"))

	l.Debug("debug only")
	assert.Contains(t, a.String(), "debug only")
	assert.NotContains(t, b.String(), "debug only")

	l.Warn("both")
	assert.Contains(t, a.String(), "both")
	assert.Contains(t, b.String(), `"component":"fanout"`)

	assert.False(t, slog.New(NewFanoutHandler()).Enabled(context.Background(), slog.LevelError))
}
