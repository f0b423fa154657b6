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

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gridpanel/gridpanel/internal/clock"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	ctxErr []error
	err    error
}

func (m *memorySink) Persist(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.ctxErr = append(m.ctxErr, ctx.Err())
	return m.err
}

func (m *memorySink) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

type blockingSink struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingSink) Persist(ctx context.Context, event Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func TestIsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"PASSWORD", true},
		{"token", true},
		{"access_token", true},
		{"secret", true},
		{"api_key", true},
		{"hash", true},
		{"password_hash", true},
		{"credential", true},
		{"private_key", true},
		{"Set-Cookie", true},
		{"user_id", false},
		{"email", false},
		{"reason", false},
		{"ip_address", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := isSecret(tt.key); got != tt.isSecret {
				t.Errorf("isSecret(%q) = %v, want %v", tt.key, got, tt.isSecret)
			}
		})
	}
}

func TestRedact_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"password": "hunter2", "reason": "invalid_password"}
	out := Redact(in)

	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "invalid_password", out["reason"])
	assert.Equal(t, "hunter2", in["password"])
	assert.Nil(t, Redact(nil))
}

// TestPurpose: Validates that the slog sink never writes secrets to logs.
// Scope: Unit Test
// Security: Secret leakage prevention
// Expected: The JSON line carries the action and redacts the password detail.
// Test Case ID: AUD-01
func TestSlogSink_RedactsDetail(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := sink.Persist(context.Background(), Event{
		ID:            "evt-1",
		ActorID:       "user-1",
		Action:        ActionLoginFailed,
		SourceAddress: "10.0.0.1",
		Detail:        map[string]any{"password": "hunter2", "reason": "invalid_password"},
		Timestamp:     time.Now(),
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "AUDIT_EVENT", line["msg"])
	assert.Equal(t, ActionLoginFailed, line["action"])
	assert.Equal(t, "audit", line["component"])
	assert.Equal(t, "10.0.0.1", line["ip_address"])

	detail, ok := line["detail"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", detail["password"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	ok := &memorySink{}
	bad := &memorySink{err: errors.New("disk full")}

	err := MultiSink{bad, ok}.Persist(context.Background(), Event{Action: ActionLogout})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, ok.snapshot(), 1, "later sinks still receive the event")
}

// TestPurpose: Validates that recorded events reach the sink with an ID and timestamp.
// Scope: Unit Test
// Expected: After Close every event is persisted in order and stamped by the clock.
// Test Case ID: AUD-02
func TestEmitter_DeliversAndStamps(t *testing.T) {
	sink := &memorySink{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEmitter(sink, WithClock(clock.NewFixed(now)), WithMeter(noop.NewMeterProvider().Meter("test")))

	e.Record(context.Background(), Event{Action: ActionLoginSuccess, ActorID: "u1"})
	e.Record(context.Background(), Event{Action: ActionLogout, ActorID: "u1", ID: "fixed"})
	require.NoError(t, e.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, ActionLoginSuccess, events[0].Action)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "fixed", events[1].ID)
}

// TestPurpose: Validates that a failing sink is invisible to producers.
// Scope: Unit Test
// Security: Audit failure must not change authentication outcomes
// Expected: Record returns normally, a WARN line mentions the failure.
// Test Case ID: AUD-03
func TestEmitter_SinkFailureIsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	sink := &memorySink{err: errors.New("connection refused")}
	e := NewEmitter(sink, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	assert.NotPanics(t, func() {
		e.Record(context.Background(), Event{Action: ActionLoginFailed})
	})
	require.NoError(t, e.Close(context.Background()))

	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), ErrAuditWriteFailed.Error())
	assert.Contains(t, buf.String(), "connection refused")
}

// TestPurpose: Validates that a cancelled request context does not lose its audit record.
// Scope: Unit Test
// Expected: The sink sees a live context even though the producer's context was cancelled.
// Test Case ID: AUD-04
func TestEmitter_IgnoresProducerCancellation(t *testing.T) {
	sink := &memorySink{}
	e := NewEmitter(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Record(ctx, Event{Action: ActionAccessDenied})
	require.NoError(t, e.Close(context.Background()))

	require.Len(t, sink.snapshot(), 1)
	assert.NoError(t, sink.ctxErr[0])
}

// TestPurpose: Validates that Record never blocks when the sink is stalled.
// Scope: Unit Test
// Expected: With a stalled sink and a queue of one, extra events are dropped immediately.
// Test Case ID: AUD-05
func TestEmitter_DropsWhenQueueFull(t *testing.T) {
	var buf bytes.Buffer
	sink := &blockingSink{release: make(chan struct{}), started: make(chan struct{})}
	e := NewEmitter(sink, WithBufferSize(1), WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	e.Record(context.Background(), Event{Action: "first"})
	<-sink.started // worker holds "first"

	e.Record(context.Background(), Event{Action: "second"}) // fills the queue

	done := make(chan struct{})
	go func() {
		e.Record(context.Background(), Event{Action: "third"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(sink.release)
	require.NoError(t, e.Close(context.Background()))
	assert.Contains(t, buf.String(), "queue_full")
}

type panickingSink struct {
	memorySink
	panicOn string
}

func (p *panickingSink) Persist(ctx context.Context, event Event) error {
	if event.Action == p.panicOn {
		panic("sink exploded")
	}
	return p.memorySink.Persist(ctx, event)
}

// TestPurpose: Validates that a panicking sink does not stop audit delivery.
// Scope: Unit Test
// Security: Audit trail continuity after a faulty sink write
// Expected: The panic is logged at WARN, and later events still reach the sink.
// Test Case ID: AUD-06
func TestEmitter_SinkPanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	sink := &panickingSink{panicOn: ActionLoginFailed}
	e := NewEmitter(sink, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	e.Record(context.Background(), Event{Action: ActionLoginFailed})
	e.Record(context.Background(), Event{Action: ActionLogout})
	require.NoError(t, e.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, ActionLogout, events[0].Action)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "sink panicked: sink exploded")
}

func TestEmitter_RecordAfterClose(t *testing.T) {
	sink := &memorySink{}
	e := NewEmitter(sink)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	e.Record(context.Background(), Event{Action: ActionLogout})
	assert.Empty(t, sink.snapshot())
}

func TestEmitter_CloseHonoursDeadline(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), started: make(chan struct{})}
	e := NewEmitter(sink)
	e.Record(context.Background(), Event{Action: ActionLogout})
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Close(ctx), context.DeadlineExceeded)

	close(sink.release)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.Record(context.Background(), Event{Action: ActionLogout})
}
