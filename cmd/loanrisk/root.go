package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/loanrisk/internal/config"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// CLI carries the resolved configuration into every subcommand.
type CLI struct {
	cfg *config.Config
	out io.Writer
}

func newRootCommand(cfg *config.Config, out io.Writer) *cobra.Command {
	c := &CLI{cfg: cfg, out: out}

	root := &cobra.Command{
		Use:   "loanrisk",
		Short: "Loan default risk modelling",
		Long: `loanrisk trains a loan default classifier on a CSV file, persists the
fitted preprocessor and model, and scores or explains new applications.

Settings come from built-in defaults, a .env file, LOANRISK_* environment
variables and flags, later sources winning.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.SetupLogger(c.cfg.LogLevel, c.cfg.LogFormat, cmd.ErrOrStderr())
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.ModelDir, "model-dir", cfg.ModelDir, "Directory holding preprocessor.lrsk and model.lrsk")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")

	root.AddCommand(
		c.newTrainCommand(),
		c.newPredictCommand(),
		c.newExplainCommand(),
		c.newSchemaCommand(),
		c.newGenerateCommand(),
	)
	return root
}
