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

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridpanel/gridpanel/internal/audit"
)

// AuditRepository persists audit events to the audit_logs table. It
// implements audit.Sink.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Persist inserts event. Secret-looking detail keys are redacted first.
func (r *AuditRepository) Persist(ctx context.Context, event audit.Event) error {
	detail, err := json.Marshal(audit.Redact(event.Detail))
	if err != nil {
		return fmt.Errorf("failed to encode audit detail: %w", err)
	}
	if event.Detail == nil {
		detail = []byte("{}")
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, resource, detail, source_address, user_agent, created_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`,
		event.ID, event.ActorID, event.Action, event.Resource, detail,
		event.SourceAddress, event.UserAgent, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, COALESCE(actor_id, ''), action, COALESCE(resource, ''), detail,
		       COALESCE(source_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e      audit.Event
			detail []byte
			ts     time.Time
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Resource, &detail, &e.SourceAddress, &e.UserAgent, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode audit detail: %w", err)
			}
		}
		e.Timestamp = ts
		events = append(events, e)
	}
	return events, rows.Err()
}
