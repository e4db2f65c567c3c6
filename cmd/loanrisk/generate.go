package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

func (c *CLI) newGenerateCommand() *cobra.Command {
	opts := data.SyntheticOptions{Rows: 10000, Seed: 42, MissingRate: 0.01}
	var out string

	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Write a synthetic loan dataset",
		Example: `  loanrisk generate --rows 5000 --seed 7 --out data/Loan_default.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			records, err := data.GenerateLoans(opts)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return data.WriteCSV(cmd.OutOrStdout(), records)
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return errors.Wrapf(err, "create %s", filepath.Dir(out))
			}
			f, err := os.Create(out)
			if err != nil {
				return errors.Wrapf(err, "create %s", out)
			}
			defer func() {
				if cerr := f.Close(); err == nil && cerr != nil {
					err = errors.Wrapf(cerr, "close %s", out)
				}
			}()
			if err := data.WriteCSV(f, records); err != nil {
				return err
			}
			log.GetLoggerWithName("cli").Info("Synthetic dataset written",
				log.PathKey, out,
				log.SamplesKey, opts.Rows,
				log.RandomSeedKey, opts.Seed,
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Rows, "rows", opts.Rows, "Number of rows")
	f.Uint64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	f.Float64Var(&opts.MissingRate, "missing-rate", opts.MissingRate, "Share of rows with blank optional fields")
	f.StringVar(&out, "out", "", "Output file (stdout when empty or -)")
	return cmd
}
