// Package pipeline turns CRM conversations into reports: one conversation at
// a time through Processor.ProcessConversation, or many at once through
// Processor.ProcessMany, which also builds the aggregate reports.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MikeSquared-Agency/verdict/internal/analyzer"
	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/conversation"
	"github.com/MikeSquared-Agency/verdict/internal/faults"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
	"github.com/MikeSquared-Agency/verdict/internal/llm"
	"github.com/MikeSquared-Agency/verdict/internal/report"
	"github.com/MikeSquared-Agency/verdict/internal/reportstore"
	"github.com/MikeSquared-Agency/verdict/internal/slack"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

var tracer = otel.Tracer("github.com/MikeSquared-Agency/verdict/internal/pipeline")

type MessageSource interface {
	FetchMessages(ctx context.Context, conversationID string) (json.RawMessage, error)
}

type ContactResolver interface {
	Resolve(ctx context.Context, p *conversation.Payload) conversation.Contact
}

type ConversationAnalyzer interface {
	Analyze(ctx context.Context, conversationID string, turns []conversation.Turn) (*analyzer.Result, error)
	ClassifyLead(ctx context.Context, conversationID string, turns []conversation.Turn) (*analyzer.LeadAssessment, error)
	ExtractImprovements(ctx context.Context, reportText string) ([]string, error)
}

type Narrator interface {
	TeamNarrative(ctx context.Context, in report.Input) (*report.TeamNarrative, error)
	MergedNarrative(ctx context.Context, items []report.Input) (*report.MergedNarrative, error)
}

type Notifier interface {
	ClientReport(ctx context.Context, conversationID string, contact conversation.Contact, reportPath string) error
	TeamReport(ctx context.Context, conversationID string, contact conversation.Contact, reportPath string) error
	ImprovementProposal(ctx context.Context, p approval.Pending, reportExcerpt string) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Ledger interface {
	RecordOutcome(ctx context.Context, o store.Outcome) (uuid.UUID, error)
}

type BatchReporter interface {
	PostBatchSummary(ctx context.Context, s slack.BatchSummary) (string, error)
}

type InstructionsEngine interface {
	Preview(ctx context.Context, candidates []string) (*instructions.MergeResult, error)
	Commit(ctx context.Context, candidates []string) (*instructions.MergeResult, error)
}

// Deps wires the processor. Messages, Contacts, Analyzer, Narrator and
// Reports are required; every other collaborator may be left nil.
type Deps struct {
	Messages  MessageSource
	Contacts  ContactResolver
	Analyzer  ConversationAnalyzer
	Narrator  Narrator
	Reports   *reportstore.Store
	Notifier  Notifier
	Publisher Publisher
	Ledger    Ledger
	Slack     BatchReporter
	Approvals approval.Store
	Engine    InstructionsEngine
}

type Processor struct {
	Deps
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	confirmMu sync.Mutex
}

func New(deps Deps, concurrency int, logger *slog.Logger) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		Deps:        deps,
		concurrency: concurrency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Outcome is the result of processing one conversation. Skipped outcomes
// are not successful but are not failures either.
type Outcome struct {
	ConversationID   string    `json:"conversationId"`
	Success          bool      `json:"success"`
	Skipped          bool      `json:"skipped,omitempty"`
	IsSuccessfulDeal bool      `json:"isSuccessfulDeal"`
	ClientName       string    `json:"clientName,omitempty"`
	SuccessStatus    string    `json:"successStatus,omitempty"`
	LeadStatus       string    `json:"leadStatus,omitempty"`
	MessageCount     int       `json:"messageCount"`
	ReportPaths      []string  `json:"reportPaths,omitempty"`
	Error            string    `json:"error,omitempty"`
	ErrorKind        string    `json:"errorKind,omitempty"`
	ProcessedAt      time.Time `json:"processedAt"`
}

// Failed reports whether the conversation ended in an error.
func (o Outcome) Failed() bool { return !o.Success && !o.Skipped }

// ProcessConversation runs one conversation end to end. Errors never
// escape; they are folded into the returned Outcome.
func (p *Processor) ProcessConversation(ctx context.Context, conversationID string) Outcome {
	out, _ := p.process(ctx, conversationID, uuid.Nil)
	return out
}

func (p *Processor) process(ctx context.Context, conversationID string, batchID uuid.UUID) (Outcome, *report.Input) {
	ctx, span := tracer.Start(ctx, "pipeline.process_conversation")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	out, in, err := p.run(ctx, conversationID)
	switch {
	case errors.Is(err, conversation.ErrNoTurns):
		out.Skipped = true
		out.Error = err.Error()
		p.logger.Info("no valid messages, skipping analysis", "conversation_id", conversationID)
	case err != nil:
		out.Error = err.Error()
		out.ErrorKind = errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("conversation processing failed",
			"conversation_id", conversationID,
			"kind", out.ErrorKind,
			"error", err,
		)
	default:
		out.Success = true
		p.logger.Info("conversation processed",
			"conversation_id", conversationID,
			"success_status", out.SuccessStatus,
			"reports", len(out.ReportPaths),
		)
		p.publish(hermes.SubjectReportGenerated, hermes.ReportGenerated{
			ConversationID:   conversationID,
			ClientName:       out.ClientName,
			SuccessStatus:    out.SuccessStatus,
			LeadStatus:       out.LeadStatus,
			IsSuccessfulDeal: out.IsSuccessfulDeal,
			ReportPaths:      out.ReportPaths,
			Timestamp:        out.ProcessedAt,
		})
	}

	p.record(ctx, out, batchID)
	if !out.Success {
		return out, nil
	}
	return out, in
}

func (p *Processor) run(ctx context.Context, conversationID string) (Outcome, *report.Input, error) {
	out := Outcome{ConversationID: conversationID, ProcessedAt: p.now()}

	raw, err := p.Messages.FetchMessages(ctx, conversationID)
	if err != nil {
		return out, nil, fmt.Errorf("fetch messages: %w", err)
	}
	payload, err := conversation.ParsePayload(raw)
	if err != nil {
		return out, nil, err
	}

	turns := conversation.Normalize(payload.Messages)
	out.MessageCount = len(turns)
	if len(turns) == 0 {
		return out, nil, conversation.ErrNoTurns
	}

	contact := p.Contacts.Resolve(ctx, payload)
	out.ClientName = contact.Name

	result, err := p.Analyzer.Analyze(ctx, conversationID, turns)
	if err != nil {
		return out, nil, err
	}
	out.SuccessStatus = result.SuccessStatus
	out.IsSuccessfulDeal = result.IsSuccessfulDeal()

	lead, err := p.Analyzer.ClassifyLead(ctx, conversationID, turns)
	if err != nil {
		p.logger.Warn("lead classification failed, using default status",
			"conversation_id", conversationID,
			"error", err,
		)
		lead = nil
	}

	in := &report.Input{
		ConversationID: conversationID,
		Turns:          turns,
		Contact:        contact,
		Analysis:       *result,
		Lead:           lead,
		ProcessedAt:    out.ProcessedAt,
	}
	out.LeadStatus, _ = in.LeadStatus()

	tn, err := p.Narrator.TeamNarrative(ctx, *in)
	if err != nil {
		return out, nil, fmt.Errorf("team narrative: %w", err)
	}

	paths, err := p.persist(*in, *tn)
	out.ReportPaths = paths
	if err != nil {
		return out, nil, err
	}

	p.notify(ctx, *in, paths)
	return out, in, nil
}

type conversationRecord struct {
	ConversationID string                   `json:"conversationId"`
	Contact        conversation.Contact     `json:"contact"`
	Turns          []conversation.Turn      `json:"messages"`
	Analysis       analyzer.Result          `json:"analysis"`
	Lead           *analyzer.LeadAssessment `json:"leadStatus,omitempty"`
	ProcessedAt    time.Time                `json:"processedAt"`
}

// persist writes the per-conversation files in a fixed order and returns
// the paths written so far, even on error.
func (p *Processor) persist(in report.Input, tn report.TeamNarrative) ([]string, error) {
	ts := in.ProcessedAt
	var paths []string

	path, err := p.Reports.WriteReportJSON(reportstore.KindConversation, in.ConversationID, ts, conversationRecord{
		ConversationID: in.ConversationID,
		Contact:        in.Contact,
		Turns:          in.Turns,
		Analysis:       in.Analysis,
		Lead:           in.Lead,
		ProcessedAt:    ts,
	})
	if err != nil {
		return paths, err
	}
	paths = append(paths, path)

	path, err = p.Reports.WriteReport(reportstore.KindTeamReport, in.ConversationID, ts, "md", []byte(report.RenderTeamReport(in, tn)))
	if err != nil {
		return paths, err
	}
	paths = append(paths, path)

	path, err = p.Reports.WriteReport(reportstore.KindClientReport, in.ConversationID, ts, "md", []byte(report.RenderClientReport(in)))
	if err != nil {
		return paths, err
	}
	paths = append(paths, path)

	if err := p.Reports.AppendRows(
		reportstore.Append{File: reportstore.TeamCSV, Row: report.TeamRow(in)},
		reportstore.Append{File: reportstore.ClientCSV, Row: report.ClientRow(in)},
	); err != nil {
		return paths, err
	}
	return paths, nil
}

// notify sends report mails. Mail failures never fail the conversation.
func (p *Processor) notify(ctx context.Context, in report.Input, paths []string) {
	if p.Notifier == nil || len(paths) < 3 {
		return
	}
	teamPath, clientPath := paths[1], paths[2]
	if err := p.Notifier.TeamReport(ctx, in.ConversationID, in.Contact, teamPath); err != nil {
		p.logger.Warn("team email failed", "conversation_id", in.ConversationID, "error", err)
	}
	if err := p.Notifier.ClientReport(ctx, in.ConversationID, in.Contact, clientPath); err != nil {
		p.logger.Warn("client email failed", "conversation_id", in.ConversationID, "error", err)
	}
}

func (p *Processor) record(ctx context.Context, out Outcome, batchID uuid.UUID) {
	if p.Ledger == nil {
		return
	}
	_, err := p.Ledger.RecordOutcome(ctx, store.Outcome{
		BatchID:        batchID,
		ConversationID: out.ConversationID,
		ClientName:     out.ClientName,
		Success:        out.Success,
		Skipped:        out.Skipped,
		SuccessStatus:  out.SuccessStatus,
		LeadStatus:     out.LeadStatus,
		MessageCount:   out.MessageCount,
		ErrorKind:      out.ErrorKind,
		Error:          out.Error,
		ReportPaths:    out.ReportPaths,
		ProcessedAt:    out.ProcessedAt,
	})
	if err != nil {
		p.logger.Warn("failed to record outcome", "conversation_id", out.ConversationID, "error", err)
	}
}

func (p *Processor) publish(subject string, data any) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, llm.ErrRefused):
		return "refused"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return faults.Kind(err)
	}
}
