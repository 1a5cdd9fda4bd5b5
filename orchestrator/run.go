package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs/jobsbackend"
	"github.com/ecomdwh/ecomdwh-go/internal/notify"
	"github.com/ecomdwh/ecomdwh-go/internal/pipeline"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/postgres"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/redisclient"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var environments = []string{"dev", "staging", "prod"}

type runOptions struct {
	configPath  string
	rulesPath   string
	skipStages  []string
	environment string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline definition",
		Long:  "Starts each stage's job, waits for it, applies the stage's quality gate and stops at the first failure. Exactly one notification is sent per run.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the pipeline definition YAML (required)")
	cmd.Flags().StringVar(&opts.rulesPath, "rules", env.String("DWH_RULES_FILE", ""), "Rule file applied on top of the built-in rule sets")
	cmd.Flags().StringSliceVar(&opts.skipStages, "skip-stage", nil, "Stage to skip; repeatable")
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", env.String("DWH_ENVIRONMENT", "dev"), "Deployment environment: dev, staging or prod")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(fmt.Sprintf("failed to mark config flag as required: %v", err))
	}
	return cmd
}

func validEnvironment(name string) bool {
	for _, e := range environments {
		if e == name {
			return true
		}
	}
	return false
}

func runPipeline(cmd *cobra.Command, opts *runOptions) error {
	environment := strings.ToLower(strings.TrimSpace(opts.environment))
	if !validEnvironment(environment) {
		return fmt.Errorf("--environment must be one of %s (got %q)", strings.Join(environments, ", "), opts.environment)
	}
	logger := newLogger(cmd.ErrOrStderr()).With("environment", environment)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	def, err := pipeline.LoadDefinition(opts.configPath)
	if err != nil {
		return err
	}
	rules, err := quality.LoadRegistry(quality.DefaultRules(), opts.rulesPath)
	if err != nil {
		return err
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("object store config: %w", err)
	}
	store, err := objectstore.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	jobsCfg, err := jobs.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("job config: %w", err)
	}
	catalog, err := jobs.LoadCatalog(jobsCfg.CatalogPath)
	if err != nil {
		return err
	}
	backend, err := jobsbackend.Open(jobsCfg, catalog.Merge(def.Jobs))
	if err != nil {
		return fmt.Errorf("job backend: %w", err)
	}

	notifier, closeNotifier, err := buildNotifier(ctx, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	runID := uuid.NewString()
	stages, err := def.Resolve(pipeline.Vars{RunID: runID, Environment: environment, Bucket: storeCfg.Bucket}, opts.skipStages)
	if err != nil {
		return err
	}

	engine := quality.NewEngine(rules, logger)
	controller := &pipeline.Controller{
		Pipeline:            def.Name,
		Environment:         environment,
		Backend:             backend,
		Waiter:              jobs.NewPoller(backend, jobsCfg, logger),
		Engine:              engine,
		Source:              dataset.Loader{Store: store},
		Notifier:            notifier,
		Reports:             &quality.Publisher{Store: store, Bucket: storeCfg.BucketReports},
		Logger:              logger,
		PollInterval:        firstPositive(def.PollInterval, jobsCfg.PollInterval),
		MaxWait:             firstPositive(def.MaxWait, jobsCfg.MaxWait),
		AcceptanceThreshold: def.Threshold(),
		NewID:               func() string { return runID },
	}

	if postgres.Enabled() {
		dbCfg, err := postgres.ConfigFromEnv("orchestrator")
		if err != nil {
			return fmt.Errorf("database config: %w", err)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer func() { _ = db.Close() }()
		runStore := pipeline.NewPostgresStore(db, "orchestrator")
		if err := runStore.EnsureSchema(ctx); err != nil {
			return err
		}
		controller.Store = runStore
	}

	run := controller.Run(ctx, stages)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if !run.Success() {
		failed, _ := run.FailedOutcome()
		return fmt.Errorf("pipeline %s run %s %s at stage %s", run.Pipeline, run.RunID, run.Status, failed.StageName)
	}
	return nil
}

// buildNotifier assembles the configured sinks, opening redis only when the
// redis sink is enabled.
func buildNotifier(ctx context.Context, logger *slog.Logger) (notify.Notifier, func(), error) {
	cfg, err := notify.ConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("notify config: %w", err)
	}
	if !cfg.Uses(notify.SinkRedis) {
		n, err := cfg.Build(logger, nil)
		return n, func() {}, err
	}
	redisCfg, err := redisclient.ConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("redis config: %w", err)
	}
	rdb, err := redisclient.Open(ctx, redisCfg)
	if err != nil {
		return nil, nil, err
	}
	n, err := cfg.Build(logger, rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return n, func() { _ = rdb.Close() }, nil
}

func firstPositive[T ~int64](values ...T) T {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
