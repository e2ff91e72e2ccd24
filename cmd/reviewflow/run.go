package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/internal/metrics"
	"github.com/BaSui01/reviewflow/internal/telemetry"
	"github.com/BaSui01/reviewflow/llm"
	"github.com/BaSui01/reviewflow/llm/factory"
	"github.com/BaSui01/reviewflow/review"
	"github.com/BaSui01/reviewflow/store"
	"github.com/BaSui01/reviewflow/workflow"
)

type runOptions struct {
	*rootOptions
	input  string
	output string
	events bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Review one paper and write the markdown note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input document (overrides review.input_path)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output directory or file (overrides review.output_path)")
	cmd.Flags().BoolVar(&opts.events, "events", false, "stream run events as JSON lines to stderr")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command) error {
	cfg, err := o.load(true, func(c *config.Config) {
		if o.input != "" {
			c.Review.InputPath = o.input
		}
		if o.output != "" {
			c.Review.OutputPath = o.output
		}
	})
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting reviewflow",
		zap.String("version", Version),
		zap.String("input", cfg.Review.InputPath),
		zap.String("output", cfg.Review.OutputPath),
	)

	if o.events {
		ctx = workflow.WithEventEmitter(ctx, jsonEventEmitter(cmd.ErrOrStderr()))
	}

	res, runErr := executeReview(ctx, cfg, logger)
	if res == nil {
		return runErr
	}
	printSummary(cmd.OutOrStdout(), res)
	return statusError(res, runErr)
}

// executeReview builds the pipeline for cfg, runs it once and persists the
// run record. A nil result means the run never started. Run events go to the
// emitter carried by ctx.
func executeReview(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*workflow.Result, error) {
	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry unavailable", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Debug("telemetry shutdown", zap.Error(err))
		}
	}()

	llmMetrics, err := llm.NewMetricsWith(providers.MeterProvider(), providers.TracerProvider())
	if err != nil {
		return nil, fmt.Errorf("llm metrics: %w", err)
	}
	client, err := factory.NewClient(cfg.LLM, llmMetrics, logger)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	pipeline := review.New(client, reviewSettings(cfg), logger)
	graph, err := pipeline.Graph()
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("reviewflow", logger)
	}

	runs, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Warn("run store unavailable, records are kept in memory", zap.Error(err))
		runs = store.NewMemoryStore(cfg.Store.HistoryLimit)
	}
	if collector != nil {
		runs = store.NewInstrumented(runs, cfg.Store.Backend, collector)
	}
	defer runs.Close()

	executor := workflow.NewExecutor(graph, cfg.Workflow.ToOptions(), logger).
		WithTracer(providers.TracerProvider().Tracer("github.com/BaSui01/reviewflow"))
	if collector != nil {
		executor.WithObserver(collector)
	}

	res, runErr := executor.Execute(ctx, review.Input(cfg.Review.InputPath, cfg.Review.OutputPath), "")

	// the run context may be canceled; persisting still gets its own budget
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runs.Save(saveCtx, store.NewRunRecord(res, runErr, review.FieldPages)); err != nil {
		logger.Warn("failed to save run record", zap.String("run_id", res.RunID), zap.Error(err))
	}
	if collector != nil {
		if err := collector.Export(saveCtx, cfg.Metrics.TextfilePath, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("failed to export metrics", zap.Error(err))
		}
	}
	return res, runErr
}

// reviewSettings maps the review section onto pipeline settings. The guard
// bound comes from the per-step workflow parameters.
func reviewSettings(cfg *config.Config) review.Settings {
	s := review.DefaultSettings()
	s.TargetLanguage = cfg.Review.TargetLanguage
	s.MaxAnalysisLength = cfg.Review.MaxAnalysisLength
	s.PaperType = cfg.Review.PaperType
	s.KeywordFilePath = cfg.Review.KeywordFilePath
	s.ConvertCommand = cfg.Review.ConvertCommand
	s.ConvertTimeout = cfg.Review.ConvertTimeout
	s.RenameInput = cfg.Review.RenameInput
	if p, ok := cfg.Workflow.Steps[review.GuardLength]; ok && p.MaxRepairAttempts > 0 {
		s.LengthRepairs = p.MaxRepairAttempts
	}
	return s
}

func printSummary(w io.Writer, res *workflow.Result) {
	fmt.Fprintf(w, "run %s: %s (%d units, %s)\n", res.RunID, res.Status, res.Units, res.Duration.Round(time.Millisecond))
	if res.State != nil {
		if path := workflow.LookupOr(res.State, review.FieldReportPath, ""); path != "" {
			fmt.Fprintf(w, "report: %s\n", path)
		}
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, p := range res.Partials {
		fmt.Fprintf(w, "partial: %s\n", p.Error())
	}
}

type eventLine struct {
	workflow.Event
	Err string `json:"error,omitempty"`
}

// jsonEventEmitter writes one JSON object per event. Events arrive from the
// executor goroutine and from batch branches.
func jsonEventEmitter(w io.Writer) workflow.EventEmitter {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(ev workflow.Event) {
		line := eventLine{Event: ev}
		if ev.Error != nil {
			line.Err = ev.Error.Error()
		}
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(line)
	}
}
