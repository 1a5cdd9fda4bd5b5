package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/ingest"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs/jobsbackend"
	"github.com/ecomdwh/ecomdwh-go/internal/notify"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auditlog"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auth"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/httpserver"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/postgres"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/redisclient"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv("quality", "QUALITY", ":8082")
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	rules, err := quality.LoadRegistry(quality.DefaultRules(), env.String("DWH_RULES_FILE", ""))
	if err != nil {
		logger.Error("invalid rule file", "error", err)
		os.Exit(2)
	}
	ingestRules, err := quality.LoadRegistry(quality.DefaultIngestRules(), env.String("DWH_INGEST_RULES_FILE", ""))
	if err != nil {
		logger.Error("invalid ingest rule file", "error", err)
		os.Exit(2)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	store, err := objectstore.Open(ctx, storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.EnsureBuckets(startupCtx, storeCfg.Buckets()...); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	var db *sql.DB
	if postgres.Enabled() {
		dbCfg, err := postgres.ConfigFromEnv("quality")
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := auditlog.EnsureSchema(ctx, db); err != nil {
			logger.Error("audit schema", "error", err)
			os.Exit(1)
		}
	}

	var rdb *redis.Client
	if redisclient.Enabled() {
		redisCfg, err := redisclient.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid redis config", "error", err)
			os.Exit(2)
		}
		rdb, err = redisclient.Open(ctx, redisCfg)
		if err != nil {
			logger.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
	}

	notifyCfg, err := notify.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid notify config", "error", err)
		os.Exit(2)
	}
	var publisher notify.Publisher
	if rdb != nil {
		publisher = rdb
	}
	notifier, err := notifyCfg.Build(logger, publisher)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(2)
	}

	ingestCfg, err := ingest.ConfigFromEnv(storeCfg.BucketProcessed)
	if err != nil {
		logger.Error("invalid ingest config", "error", err)
		os.Exit(2)
	}
	backend := openBackend(logger, ingestCfg)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := authCfg.Authenticator()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	loader := dataset.Loader{Store: store}
	gate := &ingest.Gate{
		Validator: ingest.NewFileValidator(ingestRules, logger),
		Source:    loader,
		Backend:   backend,
		Notifier:  notifier,
		Config:    ingestCfg,
		Logger:    logger,
	}
	if rdb != nil {
		gate.Deduper = ingest.RedisDeduper{Client: rdb, TTL: ingestCfg.DedupeTTL}
	}

	api := &qualityAPI{
		logger:    logger,
		engine:    quality.NewEngine(rules, logger),
		source:    loader,
		publisher: &quality.Publisher{Store: store, Bucket: storeCfg.BucketReports},
		gate:      gate,
		bucket:    storeCfg.Bucket,
	}
	if db != nil {
		api.audit = db
	}

	checks := []httpserver.ReadinessCheck{{
		Name: "objectstore",
		Check: func(ctx context.Context) error {
			return store.CheckBuckets(ctx, storeCfg.Buckets()...)
		},
	}}
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}
	if rdb != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("quality"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("quality", checks...))
	api.register(mux)

	middleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     routePolicy.Authorizer(),
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}
	if db != nil {
		middleware.Audit = func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "quality", event)
		}
	}

	handler := httpserver.Wrap(logger, "quality", middleware.Wrap(mux))
	if err := httpserver.Run(ctx, logger, httpCfg, handler); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openBackend returns nil when no processing job is configured or the
// backend cannot be built; passed files are then only reported.
func openBackend(logger *slog.Logger, ingestCfg ingest.Config) jobs.Backend {
	if ingestCfg.JobName == "" {
		return nil
	}
	jobsCfg, err := jobs.ConfigFromEnv()
	if err != nil {
		logger.Warn("job backend disabled: invalid config", "error", err)
		return nil
	}
	catalog, err := jobs.LoadCatalog(jobsCfg.CatalogPath)
	if err != nil {
		logger.Warn("job backend disabled: catalog", "error", err)
		return nil
	}
	backend, err := jobsbackend.Open(jobsCfg, catalog)
	if err != nil {
		logger.Warn("job backend disabled", "backend", string(jobsCfg.Backend), "error", err)
		return nil
	}
	return backend
}
