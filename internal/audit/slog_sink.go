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
	"log/slog"
	"sort"

	"github.com/gridpanel/gridpanel/internal/observability/logger"
)

// SlogSink writes audit events as structured log lines.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging through l, or slog.Default when l is nil.
func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{logger: l.With(logger.Component("audit"))}
}

// Persist logs the event at INFO. It never fails.
func (s *SlogSink) Persist(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		logger.Action(event.Action),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.SourceAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.SourceAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, logger.UserAgent(event.UserAgent))
	}

	if len(event.Detail) > 0 {
		detail := Redact(event.Detail)
		keys := make([]string, 0, len(detail))
		for k := range detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		group := make([]any, 0, len(keys))
		for _, k := range keys {
			group = append(group, slog.Any(k, detail[k]))
		}
		attrs = append(attrs, slog.Group("detail", group...))
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "AUDIT_EVENT", attrs...)
	return nil
}
