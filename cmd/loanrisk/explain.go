package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/explain"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

func (c *CLI) newExplainCommand() *cobra.Command {
	var (
		input string
		row   int
		top   int
	)

	cmd := &cobra.Command{
		Use:     "explain",
		Short:   "Show the SHAP attributions of one application",
		Example: `  loanrisk explain --input applications.csv --row 3 --top 5`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.loadScorer()
			if err != nil {
				return err
			}
			ds, err := data.Load(input)
			if err != nil {
				return err
			}
			if row < 0 || row >= ds.Len() {
				return errors.NewValidationError("row", fmt.Sprintf("must be in [0, %d)", ds.Len()), row)
			}
			one, err := ds.Subset([]int{row})
			if err != nil {
				return err
			}
			set, err := s.Explain(one)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "row %d: probability=%.4f log_odds=%.4f base=%.4f\n",
				row, set.Probability(0), set.RawOutput[0], set.BaseValue)
			for _, a := range explain.Top(set.Row(0), top) {
				fmt.Fprintf(out, "  %-40s %+.4f  (x=%.4g)\n", a.Feature, a.Value, a.Input)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "CSV file of applications")
	cmd.Flags().IntVar(&row, "row", 0, "Zero-based row to explain")
	cmd.Flags().IntVar(&top, "top", 10, "Attributions to print")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
