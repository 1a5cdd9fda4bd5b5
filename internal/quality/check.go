// Package quality runs threshold based data-quality checks over datasets
// and folds their results into reports.
package quality

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindCompleteness Kind = "completeness"
	KindAccuracy     Kind = "accuracy"
	KindConsistency  Kind = "consistency"
	KindValidity     Kind = "validity"
	KindFreshness    Kind = "freshness"
	KindVolume       Kind = "volume"
	KindBusinessRule Kind = "business_rule"
)

var kinds = []Kind{
	KindCompleteness,
	KindAccuracy,
	KindConsistency,
	KindValidity,
	KindFreshness,
	KindVolume,
	KindBusinessRule,
}

func ParseKind(v string) (Kind, error) {
	want := strings.ToLower(strings.TrimSpace(v))
	for _, k := range kinds {
		if string(k) == want {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown check kind %q", v)
}

// rateBased kinds pass when their metric meets the descriptor threshold.
func (k Kind) rateBased() bool {
	switch k {
	case KindCompleteness, KindAccuracy, KindConsistency, KindValidity:
		return true
	default:
		return false
	}
}

// Status separates threshold failures from checks that could not run.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// CheckDescriptor declares one check. Descriptors are values; the registry
// hands out copies so callers cannot alter a registered rule set.
type CheckDescriptor struct {
	Name      string   `yaml:"name" json:"name" validate:"required"`
	Kind      Kind     `yaml:"kind" json:"kind" validate:"required,oneof=completeness accuracy consistency validity freshness volume business_rule"`
	Columns   []string `yaml:"columns" json:"columns,omitempty" validate:"dive,required"`
	Threshold float64  `yaml:"threshold" json:"threshold" validate:"gte=0"`
	// Optional checks are skipped, and reported as passing, when one of their
	// columns is absent from the dataset.
	Optional bool   `yaml:"optional" json:"optional,omitempty"`
	Params   Params `yaml:"params" json:"params,omitempty"`
}

func (d CheckDescriptor) clone() CheckDescriptor {
	d.Columns = append([]string(nil), d.Columns...)
	d.Params = d.Params.clone()
	return d
}

// Params carries kind specific settings such as rule names and bounds.
type Params map[string]any

func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (p Params) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// CheckResult is the immutable outcome of one descriptor against one dataset.
type CheckResult struct {
	TableName string             `json:"table_name"`
	CheckName string             `json:"check_name"`
	Kind      Kind               `json:"check_type"`
	Timestamp time.Time          `json:"timestamp"`
	Passed    bool               `json:"passed"`
	Status    Status             `json:"status"`
	Issues    []string           `json:"issues"`
	Metrics   map[string]float64 `json:"metrics"`

	// Err explains a failed or errored result; it is not serialized.
	Err error `json:"-"`
}
