package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/notify"
)

const (
	SubjectSuccess = "ETL Pipeline Success"
	SubjectFailure = "ETL Pipeline Failed"

	maxListedChecks = 20
)

// RunMessage renders the single notification sent for a finished run.
func RunMessage(run PipelineRun) notify.Message {
	var b strings.Builder
	failed, isFailure := run.FailedOutcome()
	if !isFailure {
		fmt.Fprintf(&b, "ETL pipeline %s completed successfully.\n\n", run.Pipeline)
		writeRunHeader(&b, run)
		b.WriteString("\nJobs completed:\n")
		for _, o := range run.Outcomes {
			fmt.Fprintf(&b, "- %s", o.StageName)
			if o.JobID != "" {
				fmt.Fprintf(&b, " (%s)", o.JobID)
			}
			fmt.Fprintf(&b, ": %s\n", o.Duration().Round(time.Second))
		}
		return notify.Message{Subject: SubjectSuccess, Body: b.String(), Success: true}
	}

	fmt.Fprintf(&b, "ETL pipeline %s failed at stage %s.\n\n", run.Pipeline, failed.StageName)
	writeRunHeader(&b, run)
	fmt.Fprintf(&b, "\nStage: %s\n", failed.StageName)
	fmt.Fprintf(&b, "Cause: %s\n", causeText(failed.Cause))
	fmt.Fprintf(&b, "Terminal state: %s\n", failed.TerminalState)
	if failed.JobID != "" {
		fmt.Fprintf(&b, "Job ID: %s\n", failed.JobID)
	}
	if failed.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", failed.Error)
	}

	var gateErr *QualityGateError
	if errors.As(failed.Err, &gateErr) && len(gateErr.Failed) > 0 {
		fmt.Fprintf(&b, "\nFailing checks (pass rate %.4f, required %.4f):\n", gateErr.PassRate, gateErr.Threshold)
		for i, r := range gateErr.Failed {
			if i == maxListedChecks {
				fmt.Fprintf(&b, "... and %d more\n", len(gateErr.Failed)-maxListedChecks)
				break
			}
			fmt.Fprintf(&b, "- %s.%s [%s]", r.TableName, r.CheckName, r.Status)
			if len(r.Issues) > 0 {
				fmt.Fprintf(&b, ": %s", strings.Join(r.Issues, "; "))
			}
			b.WriteString("\n")
		}
	}

	if done := completed(run); len(done) > 0 {
		fmt.Fprintf(&b, "\nJobs completed before the failure: %s\n", strings.Join(done, ", "))
	}
	return notify.Message{Subject: SubjectFailure, Body: b.String(), Success: false}
}

func writeRunHeader(b *strings.Builder, run PipelineRun) {
	if run.Environment != "" {
		fmt.Fprintf(b, "Environment: %s\n", run.Environment)
	}
	fmt.Fprintf(b, "Run ID: %s\n", run.RunID)
	fmt.Fprintf(b, "Start time: %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(b, "End time: %s\n", run.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(b, "Duration: %s\n", run.Duration().Round(time.Second))
}

func completed(run PipelineRun) []string {
	var out []string
	for _, o := range run.Outcomes {
		if o.Success {
			out = append(out, o.StageName)
		}
	}
	return out
}

func causeText(c jobs.Cause) string {
	switch c {
	case jobs.CauseSubmission:
		return "job submission rejected"
	case jobs.CauseJobFailed:
		return "job failed"
	case jobs.CauseJobStopped:
		return "job stopped"
	case jobs.CauseTimeout:
		return "timed out waiting for job"
	case jobs.CausePollError:
		return "job status could not be polled"
	case jobs.CauseQualityGate:
		return "quality gate"
	case jobs.CauseCancelled:
		return "cancelled"
	case jobs.CauseInternal:
		return "internal error"
	default:
		return string(c)
	}
}
