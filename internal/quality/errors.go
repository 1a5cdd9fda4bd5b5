package quality

import (
	"fmt"
	"strings"
)

type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("no rule set registered for table %q", e.Table)
}

// SchemaError reports required columns absent from a dataset.
type SchemaError struct {
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s: missing required columns: %s", e.Table, strings.Join(e.Missing, ", "))
}

// QualityThresholdError is attached to failed results; it never aborts sibling checks.
type QualityThresholdError struct {
	Table     string
	Check     string
	Metric    string
	Value     float64
	Threshold float64
}

func (e *QualityThresholdError) Error() string {
	return fmt.Sprintf("table %s check %s: %s=%.4f does not meet threshold %.4f", e.Table, e.Check, e.Metric, e.Value, e.Threshold)
}
