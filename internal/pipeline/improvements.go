package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
)

// ErrNoImprovements means the report yielded nothing worth proposing.
var ErrNoImprovements = errors.New("no improvements found in report")

// ProposeImprovements extracts improvement bullets from a stored report,
// saves them under a fresh approval token and asks the manager to approve.
func (p *Processor) ProposeImprovements(ctx context.Context, reportPath string) (*approval.Pending, error) {
	if p.Approvals == nil {
		return nil, fmt.Errorf("propose improvements: no approval store configured")
	}

	data, err := p.Reports.Read(reportPath)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	bullets, err := p.Analyzer.ExtractImprovements(ctx, string(data))
	if err != nil {
		return nil, fmt.Errorf("extract improvements: %w", err)
	}
	if len(bullets) == 0 {
		return nil, ErrNoImprovements
	}

	pending := approval.NewPending(bullets, reportPath)
	if err := p.Approvals.Save(ctx, pending); err != nil {
		return nil, fmt.Errorf("save pending improvements: %w", err)
	}
	p.logger.Info("improvements proposed", "token", pending.Token, "count", len(bullets), "report", reportPath)

	if p.Notifier != nil {
		if err := p.Notifier.ImprovementProposal(ctx, pending, string(data)); err != nil {
			p.logger.Warn("improvement email failed", "token", pending.Token, "error", err)
		}
	}
	p.publish(hermes.SubjectImprovementsPending, hermes.ImprovementsPending{
		Token:        pending.Token,
		Improvements: pending.Improvements,
		ReportPath:   reportPath,
	})
	return &pending, nil
}

// PreviewImprovements shows the merge a token would commit, without writing.
func (p *Processor) PreviewImprovements(ctx context.Context, token string) (*instructions.MergeResult, error) {
	if p.Approvals == nil || p.Engine == nil {
		return nil, fmt.Errorf("preview improvements: not configured")
	}
	pending, err := p.Approvals.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.Engine.Preview(ctx, pending.Improvements)
}

// ConfirmImprovements commits the token's improvements and then consumes
// the token. A failed commit leaves the token usable.
func (p *Processor) ConfirmImprovements(ctx context.Context, token string) (*instructions.MergeResult, error) {
	if p.Approvals == nil || p.Engine == nil {
		return nil, fmt.Errorf("confirm improvements: not configured")
	}

	p.confirmMu.Lock()
	defer p.confirmMu.Unlock()

	pending, err := p.Approvals.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	res, err := p.Engine.Commit(ctx, pending.Improvements)
	if err != nil {
		return nil, err
	}

	if err := p.Approvals.Delete(ctx, token); err != nil && !errors.Is(err, approval.ErrNotFound) {
		p.logger.Warn("failed to consume approval token", "token", token, "error", err)
	}
	p.logger.Info("improvements confirmed", "token", token, "added", len(res.Added), "skipped", len(res.Skipped))
	return res, nil
}
