package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/workflow"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "reviewflow",
		Short:         "Review research papers with a language model workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCommand(opts),
		newConvertCommand(opts),
		newRunsCommand(opts),
		newModelsCommand(opts),
		newUICommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads the config and applies the persistent flag overrides. Only run
// needs a complete review section, so validation is optional.
func (o *rootOptions) load(validate bool, override func(*config.Config)) (*config.Config, error) {
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if override != nil {
		override(cfg)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ReviewFlow %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// =============================================================================
// Logger
// =============================================================================

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	return zapConfig.Build()
}

// =============================================================================
// Exit codes
// =============================================================================

const (
	exitFailure = 1
	exitPartial = 2
)

// partialRun is returned when a run completed with failed branches.
type partialRun struct {
	runID    string
	partials int
}

func (p *partialRun) Error() string {
	return fmt.Sprintf("run %s finished with %d partial failure(s)", p.runID, p.partials)
}

func exitCode(err error) int {
	var p *partialRun
	if errors.As(err, &p) {
		return exitPartial
	}
	return exitFailure
}

// statusError maps a run result to the command error.
func statusError(res *workflow.Result, runErr error) error {
	if runErr != nil {
		return runErr
	}
	if res.Status == workflow.ExecutionStatusPartial {
		return &partialRun{runID: res.RunID, partials: len(res.Partials)}
	}
	return nil
}
