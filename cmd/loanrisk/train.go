package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/loanrisk/explain"
	"github.com/YuminosukeSato/loanrisk/pipeline"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train, evaluate and persist a loan default model",
		Example: `  loanrisk train --data data/Loan_default.csv
  loanrisk train --mode both --cv-folds 3 --metrics-file /var/lib/node_exporter/loanrisk.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			res, err := pipeline.Run(cmd.Context(), pipeline.FromConfig(c.cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows=%d skipped=%d train=%d test=%d\n",
				res.Rows, res.Skipped, len(res.Split.Train), len(res.Split.Test))
			if res.Search != nil {
				fmt.Fprintln(out, res.Search.Summary())
			}

			names := make([]string, 0, len(res.Evaluations))
			for name := range res.Evaluations {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				ev := res.Evaluations[name]
				fmt.Fprintf(out, "\n== %s ==\n%s\n\n%s\n", name, ev.Summary(), ev.Report)
				fmt.Fprintf(out, "confusion matrix (rows = truth):\n%v %v\n%v %v\n",
					ev.Confusion.At(0, 0), ev.Confusion.At(0, 1), ev.Confusion.At(1, 0), ev.Confusion.At(1, 1))
			}

			if res.Explanation != nil {
				fmt.Fprintf(out, "\nmean |SHAP| over %d training rows:\n", res.Explanation.Len())
				for _, a := range explain.Top(res.Explanation.MeanAbs(), top) {
					fmt.Fprintf(out, "  %-40s %.4f\n", a.Feature, a.Value)
				}
			}
			fmt.Fprintf(out, "\nsaved %s (%s) and %s\n", res.ModelPath, res.ModelName, res.PreprocessorPath)

			if c.cfg.MetricsFile != "" {
				if err := res.Recorder.WriteTextfile(c.cfg.MetricsFile); err != nil {
					return err
				}
				log.GetLoggerWithName("cli").Info("Metrics written", log.PathKey, c.cfg.MetricsFile)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&c.cfg.DataPath, "data", c.cfg.DataPath, "Training CSV file")
	f.StringVar(&c.cfg.LabelColumn, "label", c.cfg.LabelColumn, "Label column")
	f.StringVar(&c.cfg.Mode, "mode", c.cfg.Mode, "baseline, search or both")
	f.Float64Var(&c.cfg.TestSize, "test-size", c.cfg.TestSize, "Held-out fraction")
	f.Uint64Var(&c.cfg.Seed, "seed", c.cfg.Seed, "Split seed")
	f.IntVar(&c.cfg.CVFolds, "cv-folds", c.cfg.CVFolds, "Cross-validation folds for the grid search")
	f.IntVar(&c.cfg.NJobs, "n-jobs", c.cfg.NJobs, "Parallel search workers (0 = all CPUs)")
	f.IntVar(&c.cfg.ExplainRows, "explain-rows", c.cfg.ExplainRows, "Training rows to explain (0 disables)")
	f.StringVar(&c.cfg.MetricsFile, "metrics-file", c.cfg.MetricsFile, "Write Prometheus textfile metrics here")
	f.IntVar(&top, "top", 10, "Global attributions to print")
	return cmd
}
