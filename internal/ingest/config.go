package ingest

import (
	"errors"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
)

type Config struct {
	JobName         string
	ProcessedBucket string
	DatabaseName    string
	DedupeTTL       time.Duration
}

// ConfigFromEnv reads the ingest settings. processedBucket is the default
// for DWH_INGEST_PROCESSED_BUCKET, normally the object store's processed
// bucket.
func ConfigFromEnv(processedBucket string) (Config, error) {
	ttl, err := env.Duration("DWH_INGEST_DEDUPE_TTL", DefaultDedupeTTL)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		JobName:         strings.TrimSpace(env.String("DWH_INGEST_JOB_NAME", "ecommerce-dwh-data-processing")),
		ProcessedBucket: strings.TrimSpace(env.String("DWH_INGEST_PROCESSED_BUCKET", processedBucket)),
		DatabaseName:    strings.TrimSpace(env.String("DWH_INGEST_DATABASE_NAME", "ecommerce_catalog")),
		DedupeTTL:       ttl,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DedupeTTL <= 0 {
		return errors.New("DWH_INGEST_DEDUPE_TTL must be positive")
	}
	if c.JobName != "" && c.DatabaseName == "" {
		return errors.New("DWH_INGEST_DATABASE_NAME is required when DWH_INGEST_JOB_NAME is set")
	}
	return nil
}

// JobArgs are the processing job arguments for a file that landed in
// rawBucket.
func (c Config) JobArgs(rawBucket string) map[string]string {
	return map[string]string{
		"--raw_data_bucket":       rawBucket,
		"--processed_data_bucket": c.ProcessedBucket,
		"--database_name":         c.DatabaseName,
	}
}
