// Package dockerjob runs pipeline jobs as detached docker containers, for
// local and single-host deployments.
package dockerjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/google/uuid"
)

// Runner executes the docker CLI and returns its combined output.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

type Backend struct {
	run     Runner
	catalog jobs.Catalog
	network string
	now     func() time.Time
}

func New(cfg jobs.Config, catalog jobs.Catalog) (*Backend, error) {
	bin := strings.TrimSpace(cfg.DockerBin)
	if bin == "" {
		bin = "docker"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return NewWithRunner(func(ctx context.Context, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, bin, args...).CombinedOutput()
	}, catalog, cfg.DockerNetwork), nil
}

func NewWithRunner(run Runner, catalog jobs.Catalog, network string) *Backend {
	return &Backend{
		run:     run,
		catalog: catalog,
		network: strings.TrimSpace(network),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var nameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func containerName(jobName string) string {
	base := strings.Trim(nameUnsafe.ReplaceAllString(jobName, "-"), "-.")
	if base == "" {
		base = "job"
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func (b *Backend) Start(ctx context.Context, jobName string, args map[string]string) (jobs.Handle, error) {
	tmpl, err := b.catalog.Lookup(jobName)
	if err != nil {
		return jobs.Handle{}, &jobs.SubmissionError{JobName: jobName, Err: err}
	}
	image := strings.TrimSpace(tmpl.Image)
	if image == "" {
		return jobs.Handle{}, &jobs.SubmissionError{JobName: jobName, Err: errors.New("image is required")}
	}

	name := containerName(jobName)
	cmd := []string{
		"run",
		"--detach",
		"--name", name,
		"--label", "ecomdwh.job_name=" + jobName,
		"-e", "DWH_JOB_NAME=" + jobName,
		"-e", "DWH_JOB_ID=" + name,
	}
	if b.network != "" {
		cmd = append(cmd, "--network", b.network)
	}
	for _, key := range jobs.SortedEnv(tmpl.Env, "DWH_JOB_NAME", "DWH_JOB_ID") {
		cmd = append(cmd, "-e", key+"="+tmpl.Env[key])
	}
	if cpu := jobs.ResourceString(tmpl.Resources, "cpus"); cpu != "" {
		cmd = append(cmd, "--cpus", cpu)
	}
	if mem := jobs.ResourceString(tmpl.Resources, "memory"); mem != "" {
		cmd = append(cmd, "--memory", mem)
	}
	if len(tmpl.Command) > 0 {
		cmd = append(cmd, "--entrypoint", tmpl.Command[0])
	}
	cmd = append(cmd, image)
	if len(tmpl.Command) > 1 {
		cmd = append(cmd, tmpl.Command[1:]...)
	}
	cmd = append(cmd, jobs.FormatArgs(args)...)

	out, err := b.run(ctx, cmd...)
	if err != nil {
		return jobs.Handle{}, &jobs.SubmissionError{
			JobName: jobName,
			Err:     fmt.Errorf("docker run failed: %w: %s", err, strings.TrimSpace(string(out))),
		}
	}
	return jobs.Handle{JobID: name, JobName: jobName, SubmittedAt: b.now()}, nil
}

type inspectState struct {
	Status     string    `json:"Status"`
	ExitCode   int       `json:"ExitCode"`
	OOMKilled  bool      `json:"OOMKilled"`
	Error      string    `json:"Error"`
	FinishedAt time.Time `json:"FinishedAt"`
}

func (b *Backend) Poll(ctx context.Context, h jobs.Handle) (jobs.Observation, error) {
	name := strings.TrimSpace(h.JobID)
	if name == "" {
		return jobs.Observation{}, errors.New("container name is required")
	}

	out, err := b.run(ctx, "inspect", "--format", "{{json .State}}", name)
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such object") || strings.Contains(text, "not found") {
			return jobs.Observation{State: jobs.StateSubmitted, Detail: "container_not_found"}, nil
		}
		return jobs.Observation{}, fmt.Errorf("docker inspect failed: %w: %s", err, text)
	}

	var state inspectState
	if err := json.Unmarshal(out, &state); err != nil {
		return jobs.Observation{}, fmt.Errorf("parse docker inspect: %w", err)
	}
	return observe(state), nil
}

// Stop force-removes the container. A container that is already gone is
// not an error.
func (b *Backend) Stop(ctx context.Context, h jobs.Handle) error {
	name := strings.TrimSpace(h.JobID)
	if name == "" {
		return errors.New("container name is required")
	}
	out, err := b.run(ctx, "rm", "--force", name)
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm failed: %w: %s", err, text)
	}
	return nil
}

func observe(state inspectState) jobs.Observation {
	status := strings.ToLower(strings.TrimSpace(state.Status))
	switch status {
	case "running", "restarting":
		return jobs.Observation{State: jobs.StateRunning, Detail: status}
	case "paused":
		return jobs.Observation{State: jobs.StateStopped, Detail: status}
	case "exited", "dead":
		switch {
		case state.ExitCode == 0 && status == "exited":
			return jobs.Observation{State: jobs.StateSucceeded}
		case state.OOMKilled:
			return jobs.Observation{State: jobs.StateFailed, Detail: "container was OOM killed"}
		// SIGKILL or SIGTERM from outside the job.
		case state.ExitCode == 137 || state.ExitCode == 143:
			return jobs.Observation{State: jobs.StateStopped, Detail: fmt.Sprintf("exit code %d", state.ExitCode)}
		default:
			detail := fmt.Sprintf("exit code %d", state.ExitCode)
			if state.Error != "" {
				detail += ": " + state.Error
			}
			return jobs.Observation{State: jobs.StateFailed, Detail: detail}
		}
	default:
		return jobs.Observation{State: jobs.StateSubmitted, Detail: status}
	}
}
