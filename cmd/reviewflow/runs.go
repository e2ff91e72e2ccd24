package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/reviewflow/store"
)

func newRunsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored run records",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := openStore(cmd, root)
			if err != nil {
				return err
			}
			defer runs.Close()

			recs, err := runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tGRAPH\tSTATUS\tWARNINGS\tFINISHED\tDURATION")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.RunID, r.Graph, r.Status, len(r.Warnings),
					r.FinishedAt.Local().Format(time.DateTime), r.Duration.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := openStore(cmd, root)
			if err != nil {
				return err
			}
			defer runs.Close()

			rec, err := runs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func openStore(cmd *cobra.Command, root *rootOptions) (store.Store, error) {
	cfg, err := root.load(false, nil)
	if err != nil {
		return nil, err
	}
	logger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return store.Open(cmd.Context(), cfg.Store, logger)
}
