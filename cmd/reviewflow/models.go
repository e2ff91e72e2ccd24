package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BaSui01/reviewflow/llm/factory"
)

func newModelsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable models with speed and price ratings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(false, nil)
			if err != nil {
				return err
			}
			used := factory.UsedBy(cfg.LLM)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tSPEED\tPRICE\tUSED BY")
			for _, m := range factory.CatalogFor(cfg.LLM) {
				speed, price := "-", "-"
				if m.Rated() {
					speed, price = factory.RatingBar(m.Speed), factory.RatingBar(m.Price)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Ref, speed, price, strings.Join(used[m.Ref], ", "))
			}
			return w.Flush()
		},
	}
}
