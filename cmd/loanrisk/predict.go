package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/scoring"
)

func (c *CLI) loadScorer() (*scoring.Scorer, error) {
	return scoring.Load(c.cfg.PreprocessorPath(), c.cfg.ModelPath())
}

func (c *CLI) newPredictCommand() *cobra.Command {
	var (
		input string
		set   []string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score a CSV batch or a single application",
		Example: `  loanrisk predict --input applications.csv
  loanrisk predict --set Age=35 --set Income=52000 --set Education=PhD`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (input == "") == (len(set) == 0) {
				return errors.NewValidationError("input", "give exactly one of --input or --set", input)
			}
			// artifacts first: a missing model halts before any input is read
			s, err := c.loadScorer()
			if err != nil {
				return err
			}

			var preds []scoring.Prediction
			if input != "" {
				ds, err := data.Load(input)
				if err != nil {
					return err
				}
				if preds, err = s.Score(ds); err != nil {
					return err
				}
			} else {
				record, err := parseAssignments(set)
				if err != nil {
					return err
				}
				p, err := s.ScoreRecord(record)
				if err != nil {
					return err
				}
				preds = []scoring.Prediction{p}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "row,probability,high_risk")
			for _, p := range preds {
				fmt.Fprintf(out, "%d,%.6f,%t\n", p.Row, p.Probability, p.HighRisk)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "CSV file of applications (label column optional)")
	cmd.Flags().StringArrayVar(&set, "set", nil, "Column value as key=value; repeat for each column")
	return cmd
}

func parseAssignments(pairs []string) (map[string]string, error) {
	record := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.NewValidationError("set", "must be key=value", kv)
		}
		record[k] = v
	}
	return record, nil
}
