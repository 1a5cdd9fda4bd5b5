package quality

import (
	"time"

	"github.com/google/uuid"
)

// QualityReport folds check results. TotalChecks always equals len(Details)
// and PassedChecks+FailedChecks equals TotalChecks; errored checks count as
// failed.
type QualityReport struct {
	Timestamp    time.Time     `json:"timestamp"`
	TotalChecks  int           `json:"total_checks"`
	PassedChecks int           `json:"passed_checks"`
	FailedChecks int           `json:"failed_checks"`
	ErrorChecks  int           `json:"error_checks"`
	PassRate     float64       `json:"pass_rate"`
	Details      []CheckResult `json:"details"`
}

// Aggregate is pure: the same results and timestamp give the same report.
func Aggregate(now time.Time, results []CheckResult) QualityReport {
	rep := QualityReport{
		Timestamp:   now.UTC(),
		TotalChecks: len(results),
		Details:     append([]CheckResult(nil), results...),
	}
	for _, r := range results {
		if r.Passed {
			rep.PassedChecks++
			continue
		}
		rep.FailedChecks++
		if r.Status == StatusError {
			rep.ErrorChecks++
		}
	}
	if rep.TotalChecks > 0 {
		rep.PassRate = float64(rep.PassedChecks) / float64(rep.TotalChecks)
	}
	if rep.Details == nil {
		rep.Details = []CheckResult{}
	}
	return rep
}

// Merge folds several reports into one, keeping detail order.
func Merge(now time.Time, reports ...QualityReport) QualityReport {
	var all []CheckResult
	for _, r := range reports {
		all = append(all, r.Details...)
	}
	return Aggregate(now, all)
}

func (r QualityReport) Passed() bool {
	return r.FailedChecks == 0
}

func (r QualityReport) FailedResults() []CheckResult {
	var out []CheckResult
	for _, d := range r.Details {
		if !d.Passed {
			out = append(out, d)
		}
	}
	return out
}

// Summary is the summary block of a report document.
type Summary struct {
	TotalChecks  int     `json:"total_checks"`
	PassedChecks int     `json:"passed_checks"`
	FailedChecks int     `json:"failed_checks"`
	ErrorChecks  int     `json:"error_checks"`
	PassRate     float64 `json:"pass_rate"`
}

// Document is the persisted form of a report.
type Document struct {
	ReportID  string        `json:"report_id"`
	Timestamp time.Time     `json:"timestamp"`
	Summary   Summary       `json:"summary"`
	Details   []CheckResult `json:"details"`
}

func NewDocument(r QualityReport) Document {
	return Document{
		ReportID:  uuid.NewString(),
		Timestamp: r.Timestamp,
		Summary: Summary{
			TotalChecks:  r.TotalChecks,
			PassedChecks: r.PassedChecks,
			FailedChecks: r.FailedChecks,
			ErrorChecks:  r.ErrorChecks,
			PassRate:     r.PassRate,
		},
		Details: r.Details,
	}
}
