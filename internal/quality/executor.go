package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
)

const (
	defaultFreshnessColumn = "created_at"
	defaultMaxAgeHours     = 24.0
	daysPerYear            = 365.25

	issueEmptyDataset = "dataset is empty"
)

// Executor evaluates one descriptor against one dataset. It keeps no state
// between calls.
type Executor struct {
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func (e Executor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Run never panics on empty or malformed data. Failures below threshold come
// back as StatusFail; checks that could not be evaluated come back as
// StatusError with Err set.
func (e Executor) Run(ctx context.Context, table string, ds *dataset.Dataset, desc CheckDescriptor, refs map[string]*dataset.Dataset) CheckResult {
	now := e.now()
	res := CheckResult{
		TableName: table,
		CheckName: desc.Name,
		Kind:      desc.Kind,
		Timestamp: now,
		Issues:    []string{},
		Metrics:   map[string]float64{},
	}
	if err := ctx.Err(); err != nil {
		return res.errored(err)
	}
	if ds == nil {
		return res.errored(&dataset.DataAccessError{Source: table, Err: errors.New("dataset is nil")})
	}

	if len(desc.Columns) == 0 && desc.Kind != KindFreshness && desc.Kind != KindVolume {
		return res.errored(fmt.Errorf("check %s declares no target columns", desc.Name))
	}
	if missing := ds.MissingColumns(targetColumns(desc)); len(missing) > 0 {
		if desc.Optional {
			res.Passed = true
			res.Status = StatusPass
			res.Issues = append(res.Issues, fmt.Sprintf("skipped: columns not present: %s", strings.Join(missing, ", ")))
			return res
		}
		return res.errored(&SchemaError{Table: table, Missing: missing})
	}
	if desc.Optional && desc.Kind == KindConsistency && desc.Params.String("mode", "") == "reference" {
		if refTable := desc.Params.String("reference_table", ""); refs[refTable] == nil {
			res.Passed = true
			res.Status = StatusPass
			res.Issues = append(res.Issues, fmt.Sprintf("skipped: reference dataset %s not supplied", refTable))
			return res
		}
	}
	if ds.Len() == 0 {
		res.Issues = append(res.Issues, issueEmptyDataset)
	}

	base := len(res.Issues)
	var err error
	switch desc.Kind {
	case KindCompleteness:
		e.completeness(&res, ds, desc)
	case KindAccuracy:
		err = e.accuracy(&res, ds, desc)
	case KindConsistency:
		err = e.consistency(&res, ds, desc, refs)
	case KindValidity:
		e.validity(&res, ds, desc, now)
	case KindFreshness:
		e.freshness(&res, ds, desc, now)
	case KindVolume:
		e.volume(&res, ds, desc)
	case KindBusinessRule:
		err = e.businessRule(&res, ds, desc)
	default:
		err = fmt.Errorf("unsupported check kind %q", desc.Kind)
	}
	if err != nil {
		return res.errored(err)
	}

	if desc.Params.Bool("measure_only") {
		res.Passed = true
		res.Err = nil
		res.Issues = res.Issues[:base]
	}
	if res.Passed {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
	}
	return res
}

func (r CheckResult) errored(err error) CheckResult {
	r.Passed = false
	r.Status = StatusError
	r.Err = err
	r.Issues = append(r.Issues, err.Error())
	return r
}

func targetColumns(desc CheckDescriptor) []string {
	if desc.Kind == KindFreshness && len(desc.Columns) == 0 {
		return []string{defaultFreshnessColumn}
	}
	return desc.Columns
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// meets applies the shared threshold rule: equal passes.
func (r *CheckResult) meets(desc CheckDescriptor, metric string, value float64) bool {
	if value >= desc.Threshold {
		return true
	}
	if r.Err == nil {
		r.Err = &QualityThresholdError{Table: r.TableName, Check: r.CheckName, Metric: metric, Value: value, Threshold: desc.Threshold}
	}
	return false
}

func metricName(desc CheckDescriptor, suffix string) string {
	if m := desc.Params.String("metric", ""); m != "" {
		return m
	}
	return desc.Columns[0] + "_" + suffix
}

func (e Executor) completeness(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor) {
	res.Passed = true
	rows := ds.Len()
	for _, col := range desc.Columns {
		metric := col + "_completeness"
		r := rate(rows-ds.NullCount(col), rows)
		res.Metrics[metric] = r
		if !res.meets(desc, metric, r) {
			res.Passed = false
			res.Issues = append(res.Issues, fmt.Sprintf("Column %s completeness %.4f below threshold %.4f", col, r, desc.Threshold))
		}
	}
}

func (e Executor) accuracy(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor) error {
	name := desc.Params.String("rule", "")
	rule, ok := accuracyRules[name]
	if !ok {
		return fmt.Errorf("unknown accuracy rule %q", name)
	}
	if len(desc.Columns) != rule.columns {
		return fmt.Errorf("accuracy rule %s expects %d columns, got %d", name, rule.columns, len(desc.Columns))
	}
	pred, err := rule.build(desc.Params)
	if err != nil {
		return err
	}
	nonNullOnly := desc.Params.String("denominator", "rows") == "non_null"

	accurate, total := 0, 0
	for i := 0; i < ds.Len(); i++ {
		cells := rowCells(ds, i, desc.Columns)
		if nonNullOnly && !allPresent(cells) {
			continue
		}
		total++
		if pred(cells) {
			accurate++
		}
	}

	metric := metricName(desc, "accuracy")
	r := rate(accurate, total)
	res.Metrics[metric] = r
	res.Passed = res.meets(desc, metric, r)
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("%s %.4f below threshold %.4f (%d of %d rows accurate)", metric, r, desc.Threshold, accurate, total))
	}
	return nil
}

func allPresent(cells []cell) bool {
	for _, c := range cells {
		if !c.ok {
			return false
		}
	}
	return true
}

func (e Executor) consistency(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor, refs map[string]*dataset.Dataset) error {
	rows := ds.Len()
	if desc.Params.String("mode", "unique") == "reference" {
		return e.reference(res, ds, desc, refs)
	}

	seen := make(map[string]struct{}, rows)
	duplicates := 0
	for i := 0; i < rows; i++ {
		key := compositeKey(ds, i, desc.Columns)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
	}

	metric := metricName(desc, "uniqueness")
	r := rate(rows-duplicates, rows)
	res.Metrics[metric] = r
	res.Metrics["duplicate_count"] = float64(duplicates)
	res.Passed = res.meets(desc, metric, r)
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("Key %s has %d duplicate rows, uniqueness %.4f below threshold %.4f", strings.Join(desc.Columns, ","), duplicates, r, desc.Threshold))
	}
	return nil
}

// compositeKey joins key cells; nulls share one key so repeated null keys
// count as duplicates.
func compositeKey(ds *dataset.Dataset, row int, columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		if v, ok := ds.Value(row, col); ok {
			parts[i] = "v:" + v
		} else {
			parts[i] = "null"
		}
	}
	return strings.Join(parts, "\x1f")
}

func (e Executor) reference(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor, refs map[string]*dataset.Dataset) error {
	refTable := desc.Params.String("reference_table", "")
	refColumn := desc.Params.String("reference_column", desc.Columns[0])
	ref := refs[refTable]
	if ref == nil {
		return &dataset.DataAccessError{Source: refTable, Err: fmt.Errorf("reference dataset %q not supplied", refTable)}
	}
	if !ref.HasColumn(refColumn) {
		return &SchemaError{Table: refTable, Missing: []string{refColumn}}
	}

	keys := make(map[string]struct{}, ref.Len())
	for i := 0; i < ref.Len(); i++ {
		if v, ok := ref.Value(i, refColumn); ok {
			keys[v] = struct{}{}
		}
	}
	col := desc.Columns[0]
	matching, orphans := 0, 0
	for i := 0; i < ds.Len(); i++ {
		v, ok := ds.Value(i, col)
		if !ok {
			orphans++
			continue
		}
		if _, found := keys[v]; found {
			matching++
		} else {
			orphans++
		}
	}

	metric := metricName(desc, "consistency")
	r := rate(matching, ds.Len())
	res.Metrics[metric] = r
	res.Metrics["orphan_count"] = float64(orphans)
	res.Passed = res.meets(desc, metric, r)
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("%d rows of %s have no match in %s.%s, consistency %.4f below threshold %.4f", orphans, col, refTable, refColumn, r, desc.Threshold))
	}
	return nil
}

func (e Executor) validity(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor, now time.Time) {
	col := desc.Columns[0]
	inBounds, nonNull := 0, 0
	check := validityCheck(desc.Params, now)
	for i := 0; i < ds.Len(); i++ {
		v, ok := ds.Value(i, col)
		if !ok {
			continue
		}
		nonNull++
		if check(v) {
			inBounds++
		}
	}

	metric := metricName(desc, "validity")
	r := rate(inBounds, nonNull)
	res.Metrics[metric] = r
	res.Passed = res.meets(desc, metric, r)
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("%s %.4f below threshold %.4f (%d of %d values in bounds)", metric, r, desc.Threshold, inBounds, nonNull))
	}
}

// validityCheck returns the bounds test for one non-null value. Values that
// cannot be parsed are out of bounds.
func validityCheck(p Params, now time.Time) func(string) bool {
	switch p.String("transform", "") {
	case "date":
		lo, hasLo := dateBound(p.String("min_date", ""), now)
		hi, hasHi := dateBound(p.String("max_date", ""), now)
		return func(v string) bool {
			t, ok := dataset.ParseTime(v)
			if !ok {
				return false
			}
			return (!hasLo || !t.Before(lo)) && (!hasHi || !t.After(hi))
		}
	case "age_years":
		within := numericBounds(p)
		return func(v string) bool {
			t, ok := dataset.ParseTime(v)
			if !ok {
				return false
			}
			return within(now.Sub(t).Hours() / 24 / daysPerYear)
		}
	default:
		within := numericBounds(p)
		return func(v string) bool {
			f, ok := dataset.ParseFloat(v)
			return ok && within(f)
		}
	}
}

func numericBounds(p Params) func(float64) bool {
	lo, hasLo := p.Float("min")
	hi, hasHi := p.Float("max")
	exLo := p.Bool("exclusive_min")
	exHi := p.Bool("exclusive_max")
	return func(v float64) bool {
		if hasLo && (v < lo || (exLo && v == lo)) {
			return false
		}
		if hasHi && (v > hi || (exHi && v == hi)) {
			return false
		}
		return true
	}
}

func dateBound(v string, now time.Time) (time.Time, bool) {
	switch v {
	case "":
		return time.Time{}, false
	case "now":
		return now, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (e Executor) freshness(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor, now time.Time) {
	col := targetColumns(desc)[0]
	maxAge := desc.Params.FloatOr("max_age_hours", defaultMaxAgeHours)
	latest, ok := ds.MaxTime(col)
	if !ok {
		res.Passed = false
		res.Issues = append(res.Issues, fmt.Sprintf("Column %s has no parseable timestamps", col))
		return
	}
	age := now.Sub(latest).Hours()
	res.Metrics["hours_since_latest"] = age
	res.Passed = age <= maxAge
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("Data is %.1f hours old (max: %.0f hours)", age, maxAge))
	}
}

func (e Executor) volume(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor) {
	minRows := desc.Params.FloatOr("min_rows", 0)
	rows := ds.Len()
	res.Metrics["row_count"] = float64(rows)
	res.Passed = float64(rows) >= minRows
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("Row count %d below expected minimum %.0f", rows, minRows))
	}
}

func (e Executor) businessRule(res *CheckResult, ds *dataset.Dataset, desc CheckDescriptor) error {
	name := desc.Params.String("rule", "")
	rule, ok := businessRules[name]
	if !ok {
		return fmt.Errorf("unknown business rule %q", name)
	}
	violates := rule(desc.Params)
	col := desc.Columns[0]
	violations := 0
	for i := 0; i < ds.Len(); i++ {
		v, ok := ds.Value(i, col)
		if violates(cell{v: v, ok: ok}) {
			violations++
		}
	}
	res.Metrics[desc.Name+"_violations"] = float64(violations)
	res.Passed = violations == 0
	if !res.Passed {
		res.Issues = append(res.Issues, fmt.Sprintf("%d rows violate %s on column %s", violations, desc.Name, col))
	}
	return nil
}
