package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/verdict/internal/analyzer"
	"github.com/MikeSquared-Agency/verdict/internal/anthropic"
	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/config"
	"github.com/MikeSquared-Agency/verdict/internal/conversation"
	"github.com/MikeSquared-Agency/verdict/internal/crm"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
	"github.com/MikeSquared-Agency/verdict/internal/llm"
	"github.com/MikeSquared-Agency/verdict/internal/mailer"
	"github.com/MikeSquared-Agency/verdict/internal/pipeline"
	"github.com/MikeSquared-Agency/verdict/internal/report"
	"github.com/MikeSquared-Agency/verdict/internal/reportstore"
	"github.com/MikeSquared-Agency/verdict/internal/slack"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

// app holds the wired components shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	crm       *crm.Client
	llm       *llm.Client
	engine    *instructions.Engine
	processor *pipeline.Processor

	db     *store.Store
	hermes *hermes.Client
}

// newApp loads configuration, checks the keys the command needs and wires
// the pipeline. Postgres, NATS, Slack and email are used only when set.
func newApp(ctx context.Context, needs config.Need) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := setupLogging(cfg.LogLevel)
	if err := cfg.Validate(needs); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.crm = crm.NewClient(crm.Config{
		BaseURL:    cfg.CRMBaseURL,
		APIKey:     cfg.CRMAPIKey,
		Version:    cfg.CRMAPIVersion,
		LocationID: cfg.CRMLocationID,
		Timeout:    cfg.CallTimeout,
		RatePerSec: cfg.CRMRatePerSec,
	})
	a.llm = llm.NewClient(llm.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.CallTimeout,
	})

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.db = db
		logger.Info("database connected")
	}

	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		a.hermes = hc
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	deduper, err := instructions.NewDeduper(cfg.DedupMode, a.llm, cfg.DedupThreshold)
	if err != nil {
		a.close()
		return nil, err
	}

	var completer analyzer.Completer = a.llm
	if cfg.LLMProvider == "anthropic" {
		completer = anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.CallTimeout,
		})
		logger.Info("using anthropic for completions", "model", cfg.AnthropicModel)
	}

	deps := pipeline.Deps{
		Messages: a.crm,
		Contacts: conversation.NewResolver(a.crm, logger),
		Analyzer: analyzer.New(completer, logger),
		Narrator: report.NewNarrator(completer, logger),
		Reports:  reportstore.New(cfg.ReportsDir),
	}

	var enginePub instructions.Publisher
	if a.hermes != nil {
		deps.Publisher = a.hermes
		enginePub = a.hermes
	}
	a.engine = instructions.NewEngine(a.llm.Assistant(cfg.AssistantID), deduper, enginePub, logger)
	deps.Engine = a.engine

	if a.db != nil {
		deps.Ledger = a.db
		deps.Approvals = a.db.Approvals()
	} else {
		deps.Approvals = approval.NewFileStore(cfg.PendingFile)
	}

	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		deps.Slack = slack.NewPoster(cfg.SlackToken, cfg.SlackChannel, logger)
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	if cfg.Email.Enabled() {
		sender := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			User:     cfg.Email.User,
			Password: cfg.Email.Password,
		})
		deps.Notifier = mailer.NewNotifier(sender, cfg.Email, cfg.ServerURL, logger)
		logger.Info("email notifications enabled",
			"client", cfg.Email.EnableClient,
			"team", cfg.Email.EnableTeam,
			"improvements", cfg.Email.EnableImprovements,
		)
	}

	a.processor = pipeline.New(deps, cfg.BatchConcurrency, logger)
	return a, nil
}

func (a *app) close() {
	if a.hermes != nil {
		a.hermes.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
