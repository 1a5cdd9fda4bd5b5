package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/ingest"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/spf13/cobra"
)

type validateFileOptions struct {
	file      string
	table     string
	rulesPath string
	warehouse bool
}

func newValidateFileCmd() *cobra.Command {
	opts := &validateFileOptions{}
	cmd := &cobra.Command{
		Use:   "validate-file",
		Short: "Validate a local CSV file",
		Long: `Validates a local CSV file the way the ingest gate validates an arrived object.
With --warehouse the warehouse rule sets are applied instead and the full
quality report document is printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidateFile(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Path to the CSV file (required)")
	cmd.Flags().StringVarP(&opts.table, "table", "t", "", "Table name; defaults to the file's parent directory")
	cmd.Flags().StringVar(&opts.rulesPath, "rules", "", "Rule file applied on top of the built-in rule sets")
	cmd.Flags().BoolVar(&opts.warehouse, "warehouse", false, "Apply warehouse rules instead of ingest rules")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("failed to mark file flag as required: %v", err))
	}
	return cmd
}

func runValidateFile(cmd *cobra.Command, opts *validateFileOptions) error {
	table := opts.table
	if table == "" {
		table = ingest.TableFromKey(opts.file)
	}
	logger := newLogger(cmd.ErrOrStderr())

	if opts.warehouse {
		return validateWarehouse(cmd, opts, table)
	}

	rulesPath := opts.rulesPath
	if rulesPath == "" {
		rulesPath = env.String("DWH_INGEST_RULES_FILE", "")
	}
	rules, err := quality.LoadRegistry(quality.DefaultIngestRules(), rulesPath)
	if err != nil {
		return err
	}
	validator := ingest.NewFileValidator(rules, logger)

	var res ingest.FileValidation
	ds, err := dataset.LoadFile(table, opts.file)
	if err != nil {
		res = ingest.FileValidation{TableName: table, Status: ingest.StatusError, Issues: []string{"Validation error: " + err.Error()}, Err: err}
	} else {
		res = validator.ValidateFile(cmd.Context(), ds, table)
	}
	res.File = opts.file

	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status != ingest.StatusPassed {
		return fmt.Errorf("%s: validation %s with %d issue(s)", opts.file, res.Status, len(res.Issues))
	}
	return nil
}

func validateWarehouse(cmd *cobra.Command, opts *validateFileOptions, table string) error {
	rulesPath := opts.rulesPath
	if rulesPath == "" {
		rulesPath = env.String("DWH_RULES_FILE", "")
	}
	rules, err := quality.LoadRegistry(quality.DefaultRules(), rulesPath)
	if err != nil {
		return err
	}
	ds, err := dataset.LoadFile(table, opts.file)
	if err != nil {
		return err
	}
	rep, err := quality.NewEngine(rules, newLogger(cmd.ErrOrStderr())).Run(cmd.Context(), ds, table, nil)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), quality.NewDocument(rep)); err != nil {
		return err
	}
	if !rep.Passed() {
		return fmt.Errorf("%s: %d of %d checks failed", opts.file, rep.FailedChecks, rep.TotalChecks)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
