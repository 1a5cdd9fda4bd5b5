package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
)

type BackendKind string

const (
	BackendKubernetes BackendKind = "kubernetes"
	BackendDocker     BackendKind = "docker"
)

type Config struct {
	Backend        BackendKind
	PollInterval   time.Duration
	MaxWait        time.Duration
	MaxPollRetries int
	RetryBase      time.Duration
	RetryCap       time.Duration

	K8sNamespace      string
	K8sJobTTLSeconds  int
	K8sServiceAccount string

	DockerBin     string
	DockerNetwork string

	// CatalogPath names a YAML file of job templates.
	CatalogPath string
}

func ConfigFromEnv() (Config, error) {
	pollInterval, err := env.Duration("DWH_JOB_POLL_INTERVAL", DefaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	maxWait, err := env.Duration("DWH_JOB_MAX_WAIT", DefaultMaxWait)
	if err != nil {
		return Config{}, err
	}
	retries, err := env.Int("DWH_JOB_MAX_POLL_RETRIES", DefaultMaxPollRetries)
	if err != nil {
		return Config{}, err
	}
	retryBase, err := env.Duration("DWH_JOB_RETRY_BASE", DefaultRetryBase)
	if err != nil {
		return Config{}, err
	}
	retryCap, err := env.Duration("DWH_JOB_RETRY_CAP", DefaultRetryCap)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Int("DWH_K8S_JOB_TTL_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Backend:           BackendKind(strings.ToLower(strings.TrimSpace(env.String("DWH_JOB_BACKEND", string(BackendKubernetes))))),
		PollInterval:      pollInterval,
		MaxWait:           maxWait,
		MaxPollRetries:    retries,
		RetryBase:         retryBase,
		RetryCap:          retryCap,
		K8sNamespace:      strings.TrimSpace(env.String("DWH_K8S_NAMESPACE", "")),
		K8sJobTTLSeconds:  ttl,
		K8sServiceAccount: strings.TrimSpace(env.String("DWH_K8S_SERVICE_ACCOUNT", "")),
		DockerBin:         strings.TrimSpace(env.String("DWH_DOCKER_BIN", "docker")),
		DockerNetwork:     strings.TrimSpace(env.String("DWH_DOCKER_NETWORK", "")),
		CatalogPath:       strings.TrimSpace(env.String("DWH_JOB_CATALOG", "")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendKubernetes, BackendDocker:
	default:
		return fmt.Errorf("DWH_JOB_BACKEND must be kubernetes or docker (got %q)", c.Backend)
	}
	if c.PollInterval <= 0 {
		return errors.New("DWH_JOB_POLL_INTERVAL must be positive")
	}
	if c.MaxWait < c.PollInterval {
		return errors.New("DWH_JOB_MAX_WAIT must be at least DWH_JOB_POLL_INTERVAL")
	}
	if c.MaxPollRetries < 0 {
		return errors.New("DWH_JOB_MAX_POLL_RETRIES must be non-negative")
	}
	if c.RetryBase <= 0 || c.RetryCap < c.RetryBase {
		return errors.New("DWH_JOB_RETRY_BASE must be positive and not above DWH_JOB_RETRY_CAP")
	}
	if c.K8sJobTTLSeconds < 0 {
		return errors.New("DWH_K8S_JOB_TTL_SECONDS must be non-negative")
	}
	return nil
}
