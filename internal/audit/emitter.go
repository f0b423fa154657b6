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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gridpanel/gridpanel/internal/clock"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
)

// DefaultBufferSize is the number of events the emitter queues before dropping.
const DefaultBufferSize = 256

type queued struct {
	ctx   context.Context
	event Event
}

// Emitter is the asynchronous Recorder. A single worker goroutine drains a
// buffered queue into the sink; sink failures are logged at WARN and counted.
type Emitter struct {
	sink         Sink
	logger       *slog.Logger
	clock        clock.Clock
	writeTimeout time.Duration
	bufferSize   int

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}

	failures metric.Int64Counter
	dropped  metric.Int64Counter
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = l
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(c clock.Clock) EmitterOption {
	return func(e *Emitter) {
		e.clock = c
	}
}

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.writeTimeout = d
	}
}

// WithMeter registers failure and drop counters on m.
func WithMeter(m metric.Meter) EmitterOption {
	return func(e *Emitter) {
		e.failures, _ = m.Int64Counter("audit.write_failures",
			metric.WithDescription("Audit events the sink failed to persist"))
		e.dropped, _ = m.Int64Counter("audit.dropped_events",
			metric.WithDescription("Audit events discarded because the queue was full or closed"))
	}
}

// NewEmitter starts an emitter writing to sink.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:         sink,
		logger:       slog.Default(),
		clock:        clock.Real{},
		writeTimeout: 5 * time.Second,
		bufferSize:   DefaultBufferSize,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("audit"))
	e.queue = make(chan queued, e.bufferSize)

	go e.run()
	return e
}

// Record stamps the event and queues it. It never blocks; when the queue is
// full the event is dropped with a warning.
func (e *Emitter) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(ctx, event, "closed")
		return
	}

	select {
	case e.queue <- queued{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		e.drop(ctx, event, "queue_full")
	}
}

// Close stops accepting events and waits until queued events are written or
// ctx is done.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for q := range e.queue {
		e.write(q.ctx, q.event)
	}
}

func (e *Emitter) write(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	// A panicking sink must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, event, fmt.Errorf("%w: sink panicked: %v", ErrAuditWriteFailed, r))
		}
	}()

	if err := e.sink.Persist(ctx, event); err != nil {
		e.fail(ctx, event, fmt.Errorf("%w: %w", ErrAuditWriteFailed, err))
	}
}

func (e *Emitter) fail(ctx context.Context, event Event, err error) {
	e.logger.WarnContext(ctx, "audit event not persisted",
		logger.Action(event.Action),
		slog.String("audit_id", event.ID),
		logger.Error(err),
	)
	if e.failures != nil {
		e.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", event.Action)))
	}
}

func (e *Emitter) drop(ctx context.Context, event Event, reason string) {
	e.logger.WarnContext(ctx, "audit event dropped",
		logger.Action(event.Action),
		logger.Reason(reason),
	)
	if e.dropped != nil {
		e.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
