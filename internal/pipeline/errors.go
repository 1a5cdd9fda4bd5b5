package pipeline

import (
	"fmt"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/quality"
)

// QualityGateError fails a stage whose output did not meet the acceptance
// threshold, or could not be evaluated at all (Err set).
type QualityGateError struct {
	Stage     string
	PassRate  float64
	Threshold float64
	Failed    []quality.CheckResult
	Err       error
}

func (e *QualityGateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quality gate for stage %s could not run: %v", e.Stage, e.Err)
	}
	names := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		names = append(names, r.TableName+"."+r.CheckName)
	}
	return fmt.Sprintf("quality gate for stage %s: pass rate %.4f below %.4f (failing: %s)", e.Stage, e.PassRate, e.Threshold, strings.Join(names, ", "))
}

func (e *QualityGateError) Unwrap() error { return e.Err }
