package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/internal/tui"
	"github.com/BaSui01/reviewflow/workflow"
)

func newUICommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Edit the config, browse models and run reviews in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(false, nil)
			if err != nil {
				return err
			}
			app := tui.NewApp(tui.Options{
				Config:     cfg,
				ConfigPath: root.configPath,
				Run:        uiRunner(cfg.Log),
			})
			p := tea.NewProgram(app,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("terminal ui: %w", err)
			}
			return nil
		},
	}
}

// uiRunner runs reviews for the terminal UI. Logs would tear the alternate
// screen, so they only go to explicitly configured files.
func uiRunner(logCfg config.LogConfig) tui.RunFunc {
	return func(ctx context.Context, cfg *config.Config, emit workflow.EventEmitter) (*workflow.Result, error) {
		logger := zap.NewNop()
		if files := fileOutputs(logCfg.OutputPaths); len(files) > 0 {
			fileCfg := logCfg
			fileCfg.OutputPaths = files
			if l, err := initLogger(fileCfg); err == nil {
				logger = l
				defer func() { _ = l.Sync() }()
			}
		}
		return executeReview(workflow.WithEventEmitter(ctx, emit), cfg, logger)
	}
}

func fileOutputs(paths []string) []string {
	var files []string
	for _, p := range paths {
		if p != "stdout" && p != "stderr" && p != "" {
			files = append(files, p)
		}
	}
	return files
}
