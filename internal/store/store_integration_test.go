//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_RecordAndListOutcome(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	convID := "integration-" + uuid.New().String()[:8]

	id, err := s.RecordOutcome(ctx, Outcome{
		BatchID:        uuid.New(),
		ConversationID: convID,
		ClientName:     "Jane Doe",
		Success:        true,
		SuccessStatus:  "yes",
		LeadStatus:     "Hot Lead",
		MessageCount:   4,
		ReportPaths:    []string{"reports/team_report_x.md"},
	})
	if err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil run ID")
	}

	runs, err := s.RecentOutcomes(ctx, 20)
	if err != nil {
		t.Fatalf("RecentOutcomes failed: %v", err)
	}
	var found *Outcome
	for i := range runs {
		if runs[i].ID == id {
			found = &runs[i]
		}
	}
	if found == nil {
		t.Fatal("recorded run not returned")
	}
	if found.ConversationID != convID || found.SuccessStatus != "yes" || found.MessageCount != 4 {
		t.Errorf("unexpected row %+v", found)
	}
	if len(found.ReportPaths) != 1 {
		t.Errorf("expected 1 report path, got %v", found.ReportPaths)
	}
}

func TestIntegration_ApprovalLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := s.Approvals()

	p := approval.NewPending([]string{"Ask about budget early"}, "r.md")
	if err := a.Save(ctx, p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := a.Get(ctx, p.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Improvements) != 1 || got.Improvements[0] != "Ask about budget early" {
		t.Errorf("unexpected improvements %v", got.Improvements)
	}
	if err := a.Delete(ctx, p.Token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := a.Get(ctx, p.Token); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
