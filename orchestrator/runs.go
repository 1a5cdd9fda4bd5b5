package main

import (
	"errors"
	"fmt"

	"github.com/ecomdwh/ecomdwh-go/internal/pipeline"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auditlog"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/postgres"
	"github.com/spf13/cobra"
)

// runDetail is a run with its audit trail.
type runDetail struct {
	pipeline.PipelineRun
	Audit []auditlog.Record `json:"audit"`
}

func newRunsCmd() *cobra.Command {
	var (
		pipelineName string
		runID        string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs",
		Long:  "Lists the run ledger newest first, or prints one run with its stage outcomes and audit trail when --run-id is given. Requires DWH_DATABASE_URL.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !postgres.Enabled() {
				return errors.New("run history needs a database; set DWH_DATABASE_URL")
			}
			cfg, err := postgres.ConfigFromEnv("orchestrator")
			if err != nil {
				return fmt.Errorf("database config: %w", err)
			}
			db, err := postgres.Open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer func() { _ = db.Close() }()

			store := pipeline.NewPostgresStore(db, "orchestrator")
			if runID != "" {
				run, err := store.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				trail, err := auditlog.Trail(cmd.Context(), db, auditlog.ResourcePipelineRun, run.RunID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), runDetail{PipelineRun: run, Audit: trail})
			}
			runs, err := store.ListRuns(cmd.Context(), pipelineName, limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []pipeline.RunSummary{}
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Only list runs of this pipeline")
	cmd.Flags().StringVar(&runID, "run-id", "", "Print a single run")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of runs, at most 500")
	return cmd
}
