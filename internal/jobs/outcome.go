package jobs

import (
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/quality"
)

type TerminalState string

const (
	TerminalSucceeded TerminalState = "Succeeded"
	TerminalFailed    TerminalState = "Failed"
	TerminalTimedOut  TerminalState = "TimedOut"
	TerminalStopped   TerminalState = "Stopped"
	TerminalCancelled TerminalState = "Cancelled"
)

// Cause classifies why a stage did not succeed.
type Cause string

const (
	CauseNone        Cause = ""
	CauseSubmission  Cause = "submission"
	CauseJobFailed   Cause = "job_failed"
	CauseJobStopped  Cause = "job_stopped"
	CauseTimeout     Cause = "timeout"
	CausePollError   Cause = "poll_error"
	CauseQualityGate Cause = "quality_gate"
	CauseCancelled   Cause = "cancelled"
	CauseInternal    Cause = "internal"
)

// StageOutcome is the immutable record of one stage.
type StageOutcome struct {
	StageName     string                 `json:"stage_name"`
	JobID         string                 `json:"job_id,omitempty"`
	Success       bool                   `json:"success"`
	TerminalState TerminalState          `json:"terminal_state"`
	Cause         Cause                  `json:"cause,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       time.Time              `json:"ended_at"`
	Error         string                 `json:"error,omitempty"`
	Report        *quality.QualityReport `json:"report,omitempty"`

	// Err is the typed failure behind Error.
	Err error `json:"-"`
}

func (o StageOutcome) Duration() time.Duration {
	if o.EndedAt.Before(o.StartedAt) {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// Failed builds a non-success outcome carrying err.
func Failed(stage string, state TerminalState, cause Cause, startedAt, endedAt time.Time, err error) StageOutcome {
	out := StageOutcome{
		StageName:     stage,
		TerminalState: state,
		Cause:         cause,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		Err:           err,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
