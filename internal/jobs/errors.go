package jobs

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled marks work abandoned because its context was cancelled.
var ErrCancelled = errors.New("cancelled")

// SubmissionError reports a job the backend refused to start.
type SubmissionError struct {
	JobName string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit job %s: %v", e.JobName, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError reports that the backend stayed unreachable after retries.
type PollError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll job %s: giving up after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// JobTimeoutError reports a job with no terminal state before the deadline.
// The job itself is left running.
type JobTimeoutError struct {
	JobID     string
	MaxWait   time.Duration
	LastState State
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s not finished after %s (last state %s)", e.JobID, e.MaxWait, e.LastState)
}

type temporary interface {
	Temporary() bool
}

// retryable treats errors as transient unless they say otherwise.
func retryable(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}
