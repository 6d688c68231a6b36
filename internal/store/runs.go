package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is one processed conversation as recorded in the ledger.
type Outcome struct {
	ID             uuid.UUID `json:"id"`
	BatchID        uuid.UUID `json:"batchId"`
	ConversationID string    `json:"conversationId"`
	ClientName     string    `json:"clientName,omitempty"`
	Success        bool      `json:"success"`
	Skipped        bool      `json:"skipped,omitempty"`
	SuccessStatus  string    `json:"successStatus,omitempty"`
	LeadStatus     string    `json:"leadStatus,omitempty"`
	MessageCount   int       `json:"messageCount"`
	ErrorKind      string    `json:"errorKind,omitempty"`
	Error          string    `json:"error,omitempty"`
	ReportPaths    []string  `json:"reportPaths,omitempty"`
	ProcessedAt    time.Time `json:"processedAt"`
}

// RecordOutcome inserts a run row. A zero BatchID is stored as NULL.
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) (uuid.UUID, error) {
	id := o.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var batchID *uuid.UUID
	if o.BatchID != uuid.Nil {
		batchID = &o.BatchID
	}
	processedAt := o.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	paths := o.ReportPaths
	if paths == nil {
		paths = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO verdict_runs (id, batch_id, conversation_id, client_name, success, skipped, success_status, lead_status, message_count, error_kind, error, report_paths, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, batchID, o.ConversationID, o.ClientName, o.Success, o.Skipped, o.SuccessStatus, o.LeadStatus, o.MessageCount, o.ErrorKind, o.Error, paths, processedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecentOutcomes returns the latest runs, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(batch_id, '00000000-0000-0000-0000-000000000000'::uuid), conversation_id, client_name, success, skipped,
		       success_status, lead_status, message_count, error_kind, error, report_paths, processed_at
		FROM verdict_runs
		ORDER BY processed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ID, &o.BatchID, &o.ConversationID, &o.ClientName, &o.Success, &o.Skipped,
			&o.SuccessStatus, &o.LeadStatus, &o.MessageCount, &o.ErrorKind, &o.Error, &o.ReportPaths, &o.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
