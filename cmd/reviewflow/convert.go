package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/convert"
)

func newConvertCommand(root *rootOptions) *cobra.Command {
	var (
		command string
		pages   int
	)
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document to page markdown and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(false, nil)
			if err != nil {
				return err
			}
			logger, err := initLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			if command == "" {
				command = cfg.Review.ConvertCommand
			}
			conv, err := convert.ForPath(args[0], command, cfg.Review.ConvertTimeout, logger)
			if err != nil {
				return err
			}
			doc, err := conv.Convert(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			logger.Debug("converted", zap.String("path", args[0]), zap.Int("pages", doc.PageCount()))

			out := cmd.OutOrStdout()
			if pages > 0 {
				_, err = fmt.Fprintln(out, doc.Text(pages))
				return err
			}
			_, err = fmt.Fprint(out, doc.Markdown())
			return err
		},
	}
	cmd.Flags().StringVar(&command, "command", "", `converter command, e.g. "pdftotext -layout {input} -" (overrides review.convert_command)`)
	cmd.Flags().IntVar(&pages, "pages", 0, "print the plain text of the first N pages instead of markdown")
	return cmd
}
