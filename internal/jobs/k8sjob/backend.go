// Package k8sjob runs pipeline jobs as Kubernetes batch Jobs.
package k8sjob

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/k8s"
	"github.com/google/uuid"
)

var reservedEnv = []string{"DWH_JOB_NAME", "DWH_JOB_ID"}

// jobClient is the subset of *k8s.Client the backend uses.
type jobClient interface {
	Namespace() string
	CreateJob(ctx context.Context, namespace string, job k8s.Job) error
	GetJob(ctx context.Context, namespace string, name string) (k8s.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error
}

type Backend struct {
	client         jobClient
	catalog        jobs.Catalog
	namespace      string
	ttlSeconds     int32
	serviceAccount string
	now            func() time.Time
}

func New(client jobClient, catalog jobs.Catalog, cfg jobs.Config) (*Backend, error) {
	if client == nil {
		return nil, errors.New("k8s client is required")
	}
	namespace := strings.TrimSpace(cfg.K8sNamespace)
	if namespace == "" {
		namespace = strings.TrimSpace(client.Namespace())
	}
	if namespace == "" {
		return nil, errors.New("job namespace is required")
	}
	if cfg.K8sJobTTLSeconds < 0 {
		return nil, errors.New("job ttl must be non-negative")
	}
	return &Backend{
		client:         client,
		catalog:        catalog,
		namespace:      namespace,
		ttlSeconds:     int32(cfg.K8sJobTTLSeconds),
		serviceAccount: strings.TrimSpace(cfg.K8sServiceAccount),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

var nameUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// jobObjectName derives a DNS-1123 name: the job name plus a short random
// suffix so reruns never collide.
func jobObjectName(jobName string) string {
	base := strings.Trim(nameUnsafe.ReplaceAllString(strings.ToLower(jobName), "-"), "-")
	if base == "" {
		base = "job"
	}
	if len(base) > 52 {
		base = strings.TrimRight(base[:52], "-")
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func (b *Backend) Start(ctx context.Context, jobName string, args map[string]string) (jobs.Handle, error) {
	tmpl, err := b.catalog.Lookup(jobName)
	if err != nil {
		return jobs.Handle{}, &jobs.SubmissionError{JobName: jobName, Err: err}
	}
	if strings.TrimSpace(tmpl.Image) == "" {
		return jobs.Handle{}, &jobs.SubmissionError{JobName: jobName, Err: errors.New("image is required")}
	}

	name := jobObjectName(jobName)
	labels := map[string]string{
		"app.kubernetes.io/name":      "ecomdwh",
		"app.kubernetes.io/component": "pipeline-job",
		"ecomdwh.job_name":            nameUnsafe.ReplaceAllString(strings.ToLower(jobName), "-"),
	}

	container := k8s.Container{
		Name:    "job",
		Image:   tmpl.Image,
		Command: append([]string(nil), tmpl.Command...),
		Args:    jobs.FormatArgs(args),
		Env: []k8s.EnvVar{
			{Name: "DWH_JOB_NAME", Value: jobName},
			{Name: "DWH_JOB_ID", Value: name},
		},
	}
	for _, key := range jobs.SortedEnv(tmpl.Env, reservedEnv...) {
		container.Env = append(container.Env, k8s.EnvVar{Name: key, Value: tmpl.Env[key]})
	}
	applyResourceHints(&container, tmpl.Resources)

	podSpec := k8s.PodSpec{RestartPolicy: "Never", Containers: []k8s.Container{container}}
	if b.serviceAccount != "" {
		podSpec.ServiceAccountName = b.serviceAccount
	}

	backoff := int32(0)
	var ttl *int32
	if b.ttlSeconds > 0 {
		ttl = &b.ttlSeconds
	}
	var deadline *int64
	if tmpl.DeadlineSeconds > 0 {
		d := tmpl.DeadlineSeconds
		deadline = &d
	}
	job := k8s.Job{
		Metadata: k8s.ObjectMeta{Name: name, Namespace: b.namespace, Labels: labels},
		Spec: k8s.JobSpec{
			BackoffLimit:            &backoff,
			ActiveDeadlineSeconds:   deadline,
			TTLSecondsAfterFinished: ttl,
			Template: k8s.PodTemplateSpec{
				Metadata: k8s.ObjectMeta{Labels: labels},
				Spec:     podSpec,
			},
		},
	}

	if err := b.client.CreateJob(ctx, b.namespace, job); err != nil && !errors.Is(err, k8s.ErrAlreadyExists) {
		return jobs.Handle{}, &jobs.SubmissionError{JobName: jobName, Err: err}
	}
	return jobs.Handle{JobID: name, JobName: jobName, SubmittedAt: b.now()}, nil
}

func (b *Backend) Poll(ctx context.Context, h jobs.Handle) (jobs.Observation, error) {
	if strings.TrimSpace(h.JobID) == "" {
		return jobs.Observation{}, errors.New("job id is required")
	}
	job, err := b.client.GetJob(ctx, b.namespace, h.JobID)
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			// Not yet visible, or already garbage collected after its TTL.
			return jobs.Observation{State: jobs.StateSubmitted, Detail: "job_not_found"}, nil
		}
		return jobs.Observation{}, fmt.Errorf("get job %s: %w", h.JobID, err)
	}
	return observe(job), nil
}

// Stop deletes the Job; its pods are removed in the background.
func (b *Backend) Stop(ctx context.Context, h jobs.Handle) error {
	if strings.TrimSpace(h.JobID) == "" {
		return errors.New("job id is required")
	}
	if err := b.client.DeleteJob(ctx, b.namespace, h.JobID); err != nil {
		return fmt.Errorf("delete job %s: %w", h.JobID, err)
	}
	return nil
}

func observe(job k8s.Job) jobs.Observation {
	if cond, ok := job.Condition(k8s.JobFailed); ok {
		if strings.EqualFold(cond.Reason, k8s.ReasonDeadlineExceeded) {
			return jobs.Observation{State: jobs.StateStopped, Detail: cond.Text()}
		}
		return jobs.Observation{State: jobs.StateFailed, Detail: cond.Text()}
	}
	if cond, ok := job.Condition(k8s.JobComplete); ok {
		return jobs.Observation{State: jobs.StateSucceeded, Detail: cond.Text()}
	}
	if cond, ok := job.Condition(k8s.JobSuspended); ok {
		return jobs.Observation{State: jobs.StateStopped, Detail: cond.Text()}
	}
	if job.Status.Active > 0 {
		return jobs.Observation{State: jobs.StateRunning}
	}
	return jobs.Observation{State: jobs.StateSubmitted}
}

// applyResourceHints maps catalog cpu and memory hints onto the container.
// The memory hint is both request and limit.
func applyResourceHints(container *k8s.Container, resources map[string]any) {
	if len(resources) == 0 {
		return
	}
	memory := jobs.ResourceString(resources, "memory")
	container.Resources.Request("cpu", jobs.ResourceString(resources, "cpu"))
	container.Resources.Request("memory", memory)
	container.Resources.Limit("memory", memory)
}
