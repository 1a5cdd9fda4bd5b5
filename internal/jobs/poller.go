package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultMaxWait        = 30 * time.Minute
	DefaultMaxPollRetries = 3
	DefaultRetryBase      = time.Second
	DefaultRetryCap       = 30 * time.Second
)

// Clock is the poller's view of time. Sleep returns ctx.Err() when the
// context ends first.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Poller blocks until a job reaches a terminal state, the deadline passes or
// the context is cancelled.
type Poller struct {
	Backend        Backend
	Clock          Clock
	Logger         *slog.Logger
	MaxPollRetries int
	RetryBase      time.Duration
	RetryCap       time.Duration
}

func NewPoller(backend Backend, cfg Config, logger *slog.Logger) *Poller {
	return &Poller{
		Backend:        backend,
		Logger:         logger,
		MaxPollRetries: cfg.MaxPollRetries,
		RetryBase:      cfg.RetryBase,
		RetryCap:       cfg.RetryCap,
	}
}

func (p *Poller) clock() Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return SystemClock
}

func (p *Poller) log(msg string, args ...any) {
	if p.Logger == nil {
		return
	}
	p.Logger.Info(msg, append([]any{"component", "stage_poller"}, args...)...)
}

func (p *Poller) maxRetries() int {
	if p.MaxPollRetries < 0 {
		return 0
	}
	return p.MaxPollRetries
}

// backoff doubles from RetryBase up to RetryCap.
func (p *Poller) backoff(attempt int) time.Duration {
	base, limit := p.RetryBase, p.RetryCap
	if base <= 0 {
		base = DefaultRetryBase
	}
	if limit <= 0 {
		limit = DefaultRetryCap
	}
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

// Wait polls h every pollInterval until maxWait has elapsed. A job still
// running at the deadline yields TimedOut and is left running. Each Poll call
// is bounded by the time left until the deadline. The stage name
// on the returned outcome is the job name; callers relabel it.
func (p *Poller) Wait(ctx context.Context, h Handle, pollInterval, maxWait time.Duration) StageOutcome {
	clock := p.clock()
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	started := clock.Now()
	deadline := started.Add(maxWait)
	lastState := StateSubmitted
	failures := 0

	finish := func(state TerminalState, cause Cause, err error) StageOutcome {
		out := Failed(h.JobName, state, cause, started, clock.Now(), err)
		out.JobID = h.JobID
		out.Success = state == TerminalSucceeded
		return out
	}
	cancelled := func() StageOutcome {
		return finish(TerminalCancelled, CauseCancelled, fmt.Errorf("wait for job %s: %w", h.JobID, errors.Join(ErrCancelled, context.Cause(ctx))))
	}

	for {
		if ctx.Err() != nil {
			return cancelled()
		}
		polledAt := clock.Now()
		pctx, cancel := context.WithTimeout(ctx, deadline.Sub(polledAt))
		obs, err := p.Backend.Poll(pctx, h)
		pollExpired := pctx.Err() != nil
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			if pollExpired {
				p.log("job wait timed out during poll", "job_id", h.JobID, "state", string(lastState), "max_wait", maxWait.String())
				return finish(TerminalTimedOut, CauseTimeout, &JobTimeoutError{JobID: h.JobID, MaxWait: maxWait, LastState: lastState})
			}
			failures++
			if failures > p.maxRetries() || !retryable(err) {
				p.log("poll failed, giving up", "job_id", h.JobID, "attempts", failures, "error", err)
				return finish(TerminalFailed, CausePollError, &PollError{JobID: h.JobID, Attempts: failures, Err: err})
			}
			wait := p.backoff(failures)
			p.log("poll failed, retrying", "job_id", h.JobID, "attempt", failures, "backoff", wait.String(), "error", err)
			if remaining := deadline.Sub(clock.Now()); wait > remaining {
				wait = remaining
			}
			if wait > 0 {
				if err := clock.Sleep(ctx, wait); err != nil {
					return cancelled()
				}
			}
			if !clock.Now().Before(deadline) {
				return finish(TerminalTimedOut, CauseTimeout, &JobTimeoutError{JobID: h.JobID, MaxWait: maxWait, LastState: lastState})
			}
			continue
		}
		failures = 0
		lastState = obs.State

		switch obs.State {
		case StateSucceeded:
			return finish(TerminalSucceeded, CauseNone, nil)
		case StateFailed:
			return finish(TerminalFailed, CauseJobFailed, jobError(h, obs))
		case StateStopped:
			return finish(TerminalStopped, CauseJobStopped, jobError(h, obs))
		}

		now := clock.Now()
		if !now.Before(deadline) {
			p.log("job wait timed out", "job_id", h.JobID, "state", string(lastState), "max_wait", maxWait.String())
			return finish(TerminalTimedOut, CauseTimeout, &JobTimeoutError{JobID: h.JobID, MaxWait: maxWait, LastState: lastState})
		}
		wait := pollInterval - now.Sub(polledAt)
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		if wait > 0 {
			if err := clock.Sleep(ctx, wait); err != nil {
				return cancelled()
			}
		}
	}
}

func jobError(h Handle, obs Observation) error {
	if obs.Detail == "" {
		return fmt.Errorf("job %s %s", h.JobID, obs.State)
	}
	return fmt.Errorf("job %s %s: %s", h.JobID, obs.State, obs.Detail)
}
