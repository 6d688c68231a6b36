package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
)

// Approvals adapts the store to approval.Store.
func (s *Store) Approvals() *ApprovalStore {
	return &ApprovalStore{s: s}
}

var _ approval.Store = (*ApprovalStore)(nil)

type ApprovalStore struct {
	s *Store
}

func (a *ApprovalStore) Save(ctx context.Context, p approval.Pending) error {
	_, err := a.s.pool.Exec(ctx, `
		INSERT INTO verdict_pending_improvements (token, improvements, report_path, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET improvements = EXCLUDED.improvements, report_path = EXCLUDED.report_path`,
		p.Token, p.Improvements, p.ReportPath, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending improvements: %w", err)
	}
	return nil
}

func (a *ApprovalStore) Get(ctx context.Context, token string) (*approval.Pending, error) {
	row := a.s.pool.QueryRow(ctx, `
		SELECT token, improvements, report_path, created_at
		FROM verdict_pending_improvements WHERE token = $1`, token)

	var p approval.Pending
	if err := row.Scan(&p.Token, &p.Improvements, &p.ReportPath, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("get pending improvements: %w", err)
	}
	return &p, nil
}

func (a *ApprovalStore) Delete(ctx context.Context, token string) error {
	tag, err := a.s.pool.Exec(ctx, `DELETE FROM verdict_pending_improvements WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete pending improvements: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrNotFound
	}
	return nil
}
