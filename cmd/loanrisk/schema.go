package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/loanrisk/preprocessing"
)

func (c *CLI) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the input schema of the fitted preprocessor as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pre, err := preprocessing.LoadPreprocessor(c.cfg.PreprocessorPath())
			if err != nil {
				return err
			}
			schema, err := pre.Schema()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}
