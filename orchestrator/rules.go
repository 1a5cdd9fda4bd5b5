package main

import (
	"fmt"

	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRulesCmd() *cobra.Command {
	var (
		tables    []string
		rulesPath string
		ingestSet bool
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rule sets as YAML",
		Long:  "Prints the built-in rule sets, merged with --rules when given, in the rule-file format accepted by --rules.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := quality.DefaultRules()
			if ingestSet {
				base = quality.DefaultIngestRules()
			}
			registry, err := quality.LoadRegistry(base, rulesPath)
			if err != nil {
				return err
			}
			rf, err := registry.Export(tables...)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(rf); err != nil {
				return fmt.Errorf("encode rules: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "Table to print; repeatable, defaults to all")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Rule file applied on top of the built-in rule sets")
	cmd.Flags().BoolVar(&ingestSet, "ingest", false, "Print the ingest rule sets")
	return cmd
}
