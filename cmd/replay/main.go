// Command replay runs one reconciliation over a recorded batch file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/classify"
	"gitlab.com/timkado/api/wa-group-etl/internal/config"
	"gitlab.com/timkado/api/wa-group-etl/internal/jetstream"
	"gitlab.com/timkado/api/wa-group-etl/internal/ledger"
	"gitlab.com/timkado/api/wa-group-etl/internal/planner"
	"gitlab.com/timkado/api/wa-group-etl/internal/source"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/internal/usecase"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

// Exit codes.
const (
	ExitRunFailed   = 1
	ExitCommandFail = 2
)

// validFormats are the accepted --format values.
var validFormats = []string{"json", "yaml"}

type rootOptions struct {
	Config   string
	Format   string
	LogLevel string
}

type runOptions struct {
	*rootOptions
	Batch  string
	DryRun bool
}

// replayOutput is what the run command prints.
type replayOutput struct {
	DryRun bool           `json:"dry_run" yaml:"dry_run"`
	Batch  string         `json:"batch" yaml:"batch"`
	Result usecase.Result `json:"result" yaml:"result"`
	Error  string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	time.Local = time.UTC
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(ExitCommandFail)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "wa-group-replay",
		Short: "Replay recorded chat batches through the reconciliation core",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return logger.InitializeWith(logger.Options{
						Level:       opts.LogLevel,
						Encoding:    "console",
						OutputPaths: []string{"stderr"},
					})
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file or directory (default: search default.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level written to stderr")

	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run both pipelines once over a batch file",
		Long: `Run the student and sales pipelines once, reading messages and the roster
from a YAML batch file instead of the chat client and the roster sheet.
Sheet writes are never sent; they are printed with the result.

With --dry-run the document store is replaced by an empty in-memory store,
so the printed plan is what a first run against an empty database would do.

Exit codes:
  0 - both pipelines succeeded
  1 - a pipeline run failed (the result is still printed)
  2 - command error (bad flags, unreadable batch or config)

Examples:
  wa-group-replay run --batch ./batch.yaml --dry-run
  wa-group-replay run --batch ./batch.yaml --config ./prod.yaml --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "path to the YAML batch file (required)")
	_ = cmd.MarkFlagRequired("batch")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan against an in-memory store without touching the database")
	return cmd
}

func runReplay(ctx context.Context, opts *runOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := source.LoadBatch(opts.Batch)
	if err != nil {
		return &exitError{code: ExitCommandFail, err: err}
	}

	var overrides []config.Override
	if opts.DryRun {
		overrides = append(overrides, config.Set("database.driver", storage.DriverMemory))
	}
	cfg, err := config.LoadConfig(opts.Config, overrides...)
	if err != nil {
		return &exitError{code: ExitCommandFail, err: err}
	}

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return &exitError{code: ExitCommandFail, err: err}
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Log.Warn("Failed to close document store", zap.Error(err))
		}
	}()

	runner, err := newRunner(cfg, source.NewFileSource(batch), store)
	if err != nil {
		return &exitError{code: ExitCommandFail, err: err}
	}

	res, runErr := runner.RunOnce(ctx)
	output := replayOutput{DryRun: opts.DryRun, Batch: opts.Batch, Result: res}
	if runErr != nil {
		output.Error = runErr.Error()
	}
	if err := write(out, opts.Format, output); err != nil {
		return &exitError{code: ExitCommandFail, err: err}
	}
	if runErr != nil {
		return &exitError{code: ExitRunFailed, err: runErr}
	}
	return nil
}

// newRunner wires both pipelines to the batch. Events are never published.
func newRunner(cfg *config.Config, batch *source.FileSource, store storage.Store) (*usecase.Runner, error) {
	classifier, err := classify.New(cfg.Keywords.Practice, cfg.Keywords.Message, cfg.Lessons.HintPattern)
	if err != nil {
		return nil, apperrors.NewFatal(err, "classification settings")
	}
	plan := planner.New(
		planner.WithCollections(cfg.Database.Students.Collection, cfg.Database.Sales.Collection),
		planner.WithClock(utils.Now),
	)
	publisher := jetstream.NopPublisher{}

	students := usecase.NewStudentPipeline(
		batch, batch, batch, store,
		classifier, ledger.NewReconciler(cfg.LessonOrder(), utils.Now), plan,
		cfg.Groups.Students, cfg.Groups.MessageCount,
	)
	sales := usecase.NewSalesPipeline(
		batch, batch, publisher, store, plan,
		cfg.Sales.Labels, cfg.Sales.Identifier,
		cfg.Groups.Sales, cfg.Groups.MessageCount,
	)
	return usecase.NewRunner(students, sales, store, publisher), nil
}

func write(out io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
