package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/verdict/internal/api"
	"github.com/MikeSquared-Agency/verdict/internal/config"
	"github.com/MikeSquared-Agency/verdict/internal/crm"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
	"github.com/MikeSquared-Agency/verdict/internal/training"
)

const shutdownTimeout = 15 * time.Second

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the conversation-closed subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, config.NeedCRM|config.NeedAssistant|config.NeedEmail)
			if err != nil {
				return err
			}
			defer a.close()

			if a.hermes != nil {
				if err := a.hermes.Subscribe(hermes.SubjectConversationClosed, a.processor.HandleConversationClosed); err != nil {
					return err
				}
			} else {
				a.logger.Warn("NATS not configured, conversation events disabled")
			}
			if a.cfg.APIToken == "" {
				a.logger.Warn("VERDICT_API_TOKEN not set, protected routes will refuse every request")
			}

			srv := api.NewServer(a.cfg.Port, a.cfg.APIToken, a.processor, a.engine, a.logger)
			if a.db != nil {
				srv.WithRunHistory(a.db)
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			a.logger.Info("verdict ready", "port", a.cfg.Port)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("HTTP shutdown failed", "error", err)
			}
			a.logger.Info("verdict stopped")
			return nil
		},
	}
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <conversation-id>",
		Short: "Analyze one conversation and write its reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, config.NeedCRM|config.NeedLLM|config.NeedEmail)
			if err != nil {
				return err
			}
			defer a.close()

			out := a.processor.ProcessConversation(ctx, args[0])
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if out.Failed() {
				return fmt.Errorf("conversation %s: %s", out.ConversationID, out.Error)
			}
			return nil
		},
	}
}

func newBatchCmd() *cobra.Command {
	var (
		file   string
		recent int
	)
	cmd := &cobra.Command{
		Use:   "batch [conversation-id...]",
		Short: "Analyze many conversations and write the aggregate reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, config.NeedCRM|config.NeedLLM|config.NeedEmail)
			if err != nil {
				return err
			}
			defer a.close()

			ids := cleanIDs(args)
			if file != "" {
				fromFile, err := readIDFile(file)
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}
			if recent > 0 {
				found, err := a.crm.SearchConversations(ctx, crm.SearchParams{Limit: recent})
				if err != nil {
					return fmt.Errorf("search conversations: %w", err)
				}
				a.logger.Info("recent conversations found", "count", len(found))
				ids = append(ids, found...)
			}
			if len(ids) == 0 {
				return errors.New("no conversation ids: pass ids, --file or --recent")
			}

			res, err := a.processor.ProcessMany(ctx, ids)
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file listing conversation ids")
	cmd.Flags().IntVar(&recent, "recent", 0, "also process the N most recent CRM conversations")
	return cmd
}

// readIDFile accepts either a YAML sequence of ids or a mapping with a
// conversation_ids sequence.
func readIDFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return cleanIDs(list), nil
	}
	var doc struct {
		ConversationIDs []string `yaml:"conversation_ids"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse id file: %w", err)
	}
	return cleanIDs(doc.ConversationIDs), nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func newImprovementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "improvements",
		Short: "Propose assistant improvements from a stored report",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "propose <report-path>",
		Short: "Extract improvements from a report and request approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, config.NeedLLM|config.NeedEmail)
			if err != nil {
				return err
			}
			defer a.close()

			pending, err := a.processor.ProposeImprovements(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "approve at %s/confirm-improvements?token=%s\n", a.cfg.ServerURL, pending.Token)
			return printJSON(cmd.OutOrStdout(), pending)
		},
	})
	return cmd
}

func newInstructionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Inspect and edit the sales assistant instructions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current instructions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withEngine(func(ctx context.Context, e *instructions.Engine) error {
					text, err := e.Current(ctx)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Remove every improvements section from the instructions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withEngine(func(ctx context.Context, e *instructions.Engine) error {
					text, err := e.Cleanup(ctx)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
					return err
				})
			},
		},
		newMergeCmd(),
	)
	return cmd
}

func newMergeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "merge <bullet...>",
		Short: "Merge improvement bullets into the instructions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *instructions.Engine) error {
				var (
					res *instructions.MergeResult
					err error
				)
				if dryRun {
					res, err = e.Preview(ctx, args)
				} else {
					res, err = e.Commit(ctx, args)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the merged text without writing it")
	return cmd
}

func withEngine(fn func(ctx context.Context, e *instructions.Engine) error) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, config.NeedAssistant)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.engine)
}

func newExportTrainingCmd() *cobra.Command {
	var (
		output string
		system string
	)
	cmd := &cobra.Command{
		Use:   "export-training <conversation-id...>",
		Short: "Write conversations as chat fine-tuning examples",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, config.NeedCRM)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := training.NewExporter(a.crm, system, a.logger).ExportFile(ctx, cleanIDs(args), output)
			if err != nil {
				return err
			}
			a.logger.Info("training data written", "path", output, "examples", stats.Examples, "failed", stats.Failed)
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "training_data.jsonl", "output JSONL path")
	cmd.Flags().StringVar(&system, "system", training.DefaultSystemPrompt, "system message for every example")
	return cmd
}
