// Package pipeline runs an ordered list of stages: each stage starts an
// external job, waits for it and optionally gates the run on a data-quality
// report of the job's output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/notify"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/google/uuid"
)

const finalizeTimeout = 30 * time.Second

// Stage is one resolved step of a run.
type Stage struct {
	Name    string
	JobName string
	Args    map[string]string
	// Gate lists the job outputs validated after the job succeeds.
	Gate []GateTable
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// PipelineRun is the record of one run. Outcomes stop at the first
// non-success outcome.
type PipelineRun struct {
	RunID       string              `json:"run_id"`
	Pipeline    string              `json:"pipeline"`
	Environment string              `json:"environment,omitempty"`
	Status      Status              `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	EndedAt     time.Time           `json:"ended_at"`
	Outcomes    []jobs.StageOutcome `json:"outcomes"`
}

func (r PipelineRun) Success() bool { return r.Status == StatusSucceeded }

// FailedOutcome returns the outcome that stopped the run.
func (r PipelineRun) FailedOutcome() (jobs.StageOutcome, bool) {
	for _, o := range r.Outcomes {
		if !o.Success {
			return o, true
		}
	}
	return jobs.StageOutcome{}, false
}

func (r PipelineRun) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Waiter blocks until a started job reaches a terminal state.
type Waiter interface {
	Wait(ctx context.Context, h jobs.Handle, pollInterval, maxWait time.Duration) jobs.StageOutcome
}

// DatasetSource loads a gate table. dataset.Loader satisfies it.
type DatasetSource interface {
	Load(ctx context.Context, name, bucket, key string) (*dataset.Dataset, error)
}

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, run PipelineRun) error
}

// Controller sequences stages with fail-fast semantics and sends exactly one
// notification per run.
type Controller struct {
	Pipeline    string
	Environment string

	Backend  jobs.Backend
	Waiter   Waiter
	Engine   *quality.Engine
	Source   DatasetSource
	Notifier notify.Notifier
	// Store and Reports are optional.
	Store   RunStore
	Reports *quality.Publisher
	Logger  *slog.Logger

	PollInterval time.Duration
	MaxWait      time.Duration
	// AcceptanceThreshold is the minimum gate pass rate. Values outside
	// (0, 1] mean 1.0: every check must pass.
	AcceptanceThreshold float64

	Now   func() time.Time
	NewID func() string
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Controller) threshold() float64 {
	if c.AcceptanceThreshold <= 0 || c.AcceptanceThreshold > 1 {
		return 1.0
	}
	return c.AcceptanceThreshold
}

// Run executes stages in order and stops at the first stage that does not
// succeed. The run is persisted and notified even when ctx is cancelled.
func (c *Controller) Run(ctx context.Context, stages []Stage) (run PipelineRun) {
	runID := ""
	if c.NewID != nil {
		runID = c.NewID()
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	run = PipelineRun{
		RunID:       runID,
		Pipeline:    c.Pipeline,
		Environment: c.Environment,
		StartedAt:   c.now(),
		Outcomes:    make([]jobs.StageOutcome, 0, len(stages)),
	}
	log := c.logger().With("run_id", run.RunID, "pipeline", run.Pipeline)
	log.Info("pipeline run started", "stages", len(stages))

	defer func() {
		run.EndedAt = c.now()
		run.Status = statusOf(run)
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		c.finalize(log, "persist", func() { c.persist(fctx, log, run) })
		c.finalize(log, "notify", func() { c.notify(fctx, log, run) })
		log.Info("pipeline run finished", "status", string(run.Status), "duration", run.Duration().String())
	}()

	for _, st := range stages {
		if ctx.Err() != nil {
			at := c.now()
			run.Outcomes = append(run.Outcomes, jobs.Failed(st.Name, jobs.TerminalCancelled, jobs.CauseCancelled, at, at,
				fmt.Errorf("stage %s not started: %w", st.Name, errors.Join(jobs.ErrCancelled, context.Cause(ctx)))))
			return run
		}
		out := c.runStage(ctx, log.With("stage", st.Name), st)
		run.Outcomes = append(run.Outcomes, out)
		if !out.Success {
			return run
		}
	}
	return run
}

func statusOf(run PipelineRun) Status {
	failed, ok := run.FailedOutcome()
	switch {
	case !ok:
		return StatusSucceeded
	case failed.Cause == jobs.CauseCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

func (c *Controller) runStage(ctx context.Context, log *slog.Logger, st Stage) (out jobs.StageOutcome) {
	started := c.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("stage panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = jobs.Failed(st.Name, jobs.TerminalFailed, jobs.CauseInternal, started, c.now(), fmt.Errorf("stage %s panicked: %v", st.Name, r))
		}
	}()

	log.Info("stage started", "job", st.JobName)
	h, err := c.Backend.Start(ctx, st.JobName, st.Args)
	if err != nil {
		if ctx.Err() != nil {
			return jobs.Failed(st.Name, jobs.TerminalCancelled, jobs.CauseCancelled, started, c.now(), errors.Join(jobs.ErrCancelled, err))
		}
		var se *jobs.SubmissionError
		if !errors.As(err, &se) {
			err = &jobs.SubmissionError{JobName: st.JobName, Err: err}
		}
		log.Error("stage submission failed", "job", st.JobName, "error", err)
		return jobs.Failed(st.Name, jobs.TerminalFailed, jobs.CauseSubmission, started, c.now(), err)
	}
	log.Info("job started", "job", st.JobName, "job_id", h.JobID)

	out = c.Waiter.Wait(ctx, h, c.PollInterval, c.MaxWait)
	out.StageName = st.Name
	out.StartedAt = started
	// A timed-out job is left running; only a cancelled run stops its job.
	if out.Cause == jobs.CauseCancelled {
		c.stopJob(ctx, log, h)
	}
	if !out.Success {
		if out.Cause == jobs.CauseCancelled {
			log.Info("stage cancelled", "job_id", h.JobID)
		} else {
			log.Error("stage failed", "job_id", h.JobID, "state", string(out.TerminalState), "cause", string(out.Cause), "error", out.Err)
		}
		return out
	}
	if len(st.Gate) == 0 {
		log.Info("stage succeeded", "job_id", h.JobID, "duration", out.Duration().String())
		return out
	}

	rep, err := c.gate(ctx, st)
	out.EndedAt = c.now()
	if rep != nil {
		out.Report = rep
		c.publish(ctx, log, *rep)
	}
	if err != nil {
		out.Success = false
		out.Err = err
		out.Error = err.Error()
		if ctx.Err() != nil {
			out.TerminalState = jobs.TerminalCancelled
			out.Cause = jobs.CauseCancelled
			out.Err = errors.Join(jobs.ErrCancelled, err)
			out.Error = out.Err.Error()
			return out
		}
		out.TerminalState = jobs.TerminalFailed
		out.Cause = jobs.CauseQualityGate
		log.Error("quality gate rejected stage output", "job_id", h.JobID, "error", err)
		return out
	}
	log.Info("stage succeeded", "job_id", h.JobID, "pass_rate", rep.PassRate, "duration", out.Duration().String())
	return out
}

// gate loads the stage outputs and validates them together. A report is
// returned whenever the engine ran, also when it fell below the threshold.
func (c *Controller) gate(ctx context.Context, st Stage) (*quality.QualityReport, error) {
	if c.Engine == nil || c.Source == nil {
		return nil, &QualityGateError{Stage: st.Name, Threshold: c.threshold(), Err: errors.New("no quality engine or dataset source configured")}
	}
	loaded := make(map[string]*dataset.Dataset, len(st.Gate))
	for _, gt := range st.Gate {
		ds, err := c.Source.Load(ctx, gt.Table, gt.Bucket, gt.Key)
		if err != nil {
			return nil, &QualityGateError{Stage: st.Name, Threshold: c.threshold(), Err: err}
		}
		loaded[gt.Table] = ds
	}
	inputs := make([]quality.TableInput, 0, len(st.Gate))
	for _, gt := range st.Gate {
		in := quality.TableInput{Table: gt.Table, Dataset: loaded[gt.Table]}
		if len(gt.References) > 0 {
			in.References = make(map[string]*dataset.Dataset, len(gt.References))
			for _, ref := range gt.References {
				if ds, ok := loaded[ref]; ok {
					in.References[ref] = ds
				}
			}
		}
		inputs = append(inputs, in)
	}

	rep, err := c.Engine.RunTables(ctx, inputs)
	if err != nil {
		return nil, &QualityGateError{Stage: st.Name, Threshold: c.threshold(), Err: err}
	}
	if rep.PassRate < c.threshold() {
		return &rep, &QualityGateError{
			Stage:     st.Name,
			PassRate:  rep.PassRate,
			Threshold: c.threshold(),
			Failed:    rep.FailedResults(),
		}
	}
	return &rep, nil
}

// stopJob asks the backend to stop the job of a cancelled run, when the
// backend supports it.
func (c *Controller) stopJob(ctx context.Context, log *slog.Logger, h jobs.Handle) {
	stopper, ok := c.Backend.(jobs.Stopper)
	if !ok {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := stopper.Stop(sctx, h); err != nil {
		log.Warn("stop abandoned job failed", "job_id", h.JobID, "error", err)
		return
	}
	log.Info("abandoned job stopped", "job_id", h.JobID)
}

func (c *Controller) publish(ctx context.Context, log *slog.Logger, rep quality.QualityReport) {
	if c.Reports == nil {
		return
	}
	pub, err := c.Reports.Publish(ctx, rep)
	if err != nil {
		log.Warn("publish quality report failed", "error", err)
		return
	}
	log.Info("quality report published", "bucket", pub.Bucket, "key", pub.ObjectKey, "sha256", pub.SHA256)
}

// finalize runs one finalization step so that a panic in it cannot skip the
// steps after it.
func (c *Controller) finalize(log *slog.Logger, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline finalization panicked", "step", step, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (c *Controller) persist(ctx context.Context, log *slog.Logger, run PipelineRun) {
	if c.Store == nil {
		return
	}
	if err := c.Store.SaveRun(ctx, run); err != nil {
		log.Error("save pipeline run failed", "error", err)
	}
}

func (c *Controller) notify(ctx context.Context, log *slog.Logger, run PipelineRun) {
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.Notify(ctx, RunMessage(run)); err != nil {
		log.Error("pipeline notification failed", "error", err)
	}
}
