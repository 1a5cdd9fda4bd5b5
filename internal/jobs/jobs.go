// Package jobs defines the port the pipeline uses to start and observe
// external batch jobs, and the poller that waits for them to finish.
package jobs

import (
	"context"
	"time"
)

type State string

const (
	StateSubmitted State = "Submitted"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateStopped   State = "Stopped"
)

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateStopped:
		return true
	default:
		return false
	}
}

// Handle identifies a started job.
type Handle struct {
	JobID       string    `json:"job_id"`
	JobName     string    `json:"job_name"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Observation struct {
	State  State
	Detail string
}

// Backend starts and observes external jobs. Start never waits for
// completion. Start rejections are returned as *SubmissionError. Poll errors
// that implement Temporary() bool returning false are not retried.
type Backend interface {
	Start(ctx context.Context, jobName string, args map[string]string) (Handle, error)
	Poll(ctx context.Context, h Handle) (Observation, error)
}

// Stopper is implemented by backends that can stop a job still in flight.
// Stopping a job that already finished or is gone is not an error.
type Stopper interface {
	Stop(ctx context.Context, h Handle) error
}
