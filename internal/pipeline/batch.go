package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/report"
	"github.com/MikeSquared-Agency/verdict/internal/reportstore"
	"github.com/MikeSquared-Agency/verdict/internal/slack"
)

// ErrNoSuccessfulConversations means a batch finished without a single
// successful conversation, so no aggregate report was produced.
var ErrNoSuccessfulConversations = errors.New("no conversation in the batch succeeded")

// BatchResult holds one outcome per input id, in input order.
type BatchResult struct {
	BatchID        string    `json:"batchId"`
	Outcomes       []Outcome `json:"outcomes"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	AggregatePaths []string  `json:"aggregatePaths,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// ProcessMany processes ids with bounded concurrency. A per-item error never
// aborts the batch. Duplicated ids are processed again. When nothing
// succeeds the result is still returned, together with
// ErrNoSuccessfulConversations.
func (p *Processor) ProcessMany(ctx context.Context, ids []string) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process_many")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(ids)))

	batchID := uuid.New()
	res := &BatchResult{
		BatchID:   batchID.String(),
		Outcomes:  make([]Outcome, len(ids)),
		StartedAt: p.now(),
	}
	inputs := make([]*report.Input, len(ids))

	p.logger.Info("batch started", "batch_id", res.BatchID, "conversations", len(ids), "concurrency", p.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				res.Outcomes[i] = Outcome{ConversationID: id, Error: err.Error(), ErrorKind: errorKind(err), ProcessedAt: p.now()}
				return nil
			}
			out, in := p.process(gctx, id, batchID)
			res.Outcomes[i] = out
			inputs[i] = in
			p.appendSummary(out)
			return nil
		})
	}
	_ = g.Wait()

	var succeeded []report.Input
	for i, out := range res.Outcomes {
		switch {
		case out.Success:
			res.Succeeded++
			succeeded = append(succeeded, *inputs[i])
		case out.Skipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}

	var err error
	if len(succeeded) > 0 {
		res.AggregatePaths = p.writeAggregates(ctx, res, succeeded)
	} else {
		err = ErrNoSuccessfulConversations
	}
	res.FinishedAt = p.now()

	p.logger.Info("batch finished",
		"batch_id", res.BatchID,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"aggregates", len(res.AggregatePaths),
	)
	span.SetAttributes(attribute.Int("batch.succeeded", res.Succeeded), attribute.Int("batch.failed", res.Failed))

	p.publish(hermes.SubjectBatchCompleted, hermes.BatchCompleted{
		BatchID:        res.BatchID,
		Total:          len(ids),
		Succeeded:      res.Succeeded,
		Failed:         res.Failed,
		Skipped:        res.Skipped,
		AggregatePaths: res.AggregatePaths,
		Timestamp:      res.FinishedAt,
	})
	p.postSummary(ctx, res)

	return res, err
}

func (p *Processor) appendSummary(out Outcome) {
	row := report.SummaryRow(out.ConversationID, out.ClientName, out.SuccessStatus, out.MessageCount, out.ProcessedAt, out.Error)
	if err := p.Reports.AppendRow(reportstore.SummaryCSV, row); err != nil {
		p.logger.Error("failed to append summary row", "conversation_id", out.ConversationID, "error", err)
	}
}

// writeAggregates writes every aggregate it can. A failed aggregate is
// logged and the others are still attempted.
func (p *Processor) writeAggregates(ctx context.Context, res *BatchResult, items []report.Input) []string {
	ts := p.now()
	var paths []string

	if path, err := p.Reports.WriteAggregateJSON(reportstore.KindIndividualReports, ts, res.Outcomes); err != nil {
		p.logger.Error("failed to write individual reports", "error", err)
	} else {
		paths = append(paths, path)
	}

	leadReport := report.RenderMergedLeadReport(items, ts)
	if path, err := p.Reports.WriteAggregate(reportstore.KindMergedLeadReport, ts, "md", []byte(leadReport)); err != nil {
		p.logger.Error("failed to write merged lead report", "error", err)
	} else {
		paths = append(paths, path)
	}

	mn, err := p.Narrator.MergedNarrative(ctx, items)
	if err != nil {
		p.logger.Error("merged narrative failed", "batch_id", res.BatchID, "error", err)
		return paths
	}
	teamReport := report.RenderMergedTeamReport(items, *mn, ts)
	if path, err := p.Reports.WriteAggregate(reportstore.KindMergedTeamReport, ts, "md", []byte(teamReport)); err != nil {
		p.logger.Error("failed to write merged team report", "error", err)
	} else {
		paths = append(paths, path)
	}
	return paths
}

func (p *Processor) postSummary(ctx context.Context, res *BatchResult) {
	summary := slack.BatchSummary{
		BatchID:        res.BatchID,
		Total:          len(res.Outcomes),
		Succeeded:      res.Succeeded,
		Skipped:        res.Skipped,
		Duration:       res.FinishedAt.Sub(res.StartedAt),
		AggregatePaths: res.AggregatePaths,
	}
	for _, out := range res.Outcomes {
		if out.IsSuccessfulDeal {
			summary.SuccessfulDeals++
		}
		if out.Failed() {
			summary.Failures = append(summary.Failures, slack.Failure{
				ConversationID: out.ConversationID,
				Kind:           out.ErrorKind,
				Error:          out.Error,
			})
		}
	}

	if p.Slack == nil {
		p.logger.Info("batch summary",
			"batch_id", res.BatchID,
			"total", summary.Total,
			"succeeded", summary.Succeeded,
			"successful_deals", summary.SuccessfulDeals,
			"failed", len(summary.Failures),
		)
		return
	}
	if _, err := p.Slack.PostBatchSummary(ctx, summary); err != nil {
		p.logger.Warn("failed to post batch summary", "batch_id", res.BatchID, "error", fmt.Errorf("slack: %w", err))
	}
}
