// Package jobsbackend builds the configured jobs.Backend.
package jobsbackend

import (
	"fmt"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs/dockerjob"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs/k8sjob"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/k8s"
)

// Open returns a Kubernetes or docker backend for cfg.Backend. The
// Kubernetes backend uses the pod's service account unless DWH_K8S_API_URL
// points elsewhere.
func Open(cfg jobs.Config, catalog jobs.Catalog) (jobs.Backend, error) {
	switch cfg.Backend {
	case jobs.BackendKubernetes:
		conn := k8s.ConnectionFromEnv()
		conn.Namespace = cfg.K8sNamespace
		client, err := k8s.Open(conn)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		return k8sjob.New(client, catalog, cfg)
	case jobs.BackendDocker:
		return dockerjob.New(cfg, catalog)
	default:
		return nil, fmt.Errorf("unsupported job backend %q", cfg.Backend)
	}
}
