package quality

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError collects every problem found in a rule set.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid rule set: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

func (e *ValidationError) OrNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

// Validate checks tag constraints and the params each kind requires.
func (d CheckDescriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	if d.Kind.rateBased() && d.Threshold > 1 {
		return errors.New("threshold must be within [0,1]")
	}

	switch d.Kind {
	case KindCompleteness:
		if len(d.Columns) == 0 {
			return errors.New("completeness requires columns")
		}
	case KindAccuracy:
		rule := d.Params.String("rule", "")
		spec, ok := accuracyRules[rule]
		if !ok {
			return fmt.Errorf("unknown accuracy rule %q", rule)
		}
		if len(d.Columns) != spec.columns {
			return fmt.Errorf("accuracy rule %s expects %d columns, got %d", rule, spec.columns, len(d.Columns))
		}
		if rule == "range" {
			if _, ok := d.Params.Float("min"); !ok {
				return errors.New("range rule requires params.min")
			}
			if _, ok := d.Params.Float("max"); !ok {
				return errors.New("range rule requires params.max")
			}
		}
		if rule == "regex" && d.Params.String("pattern", "") == "" {
			return errors.New("regex rule requires params.pattern")
		}
	case KindConsistency:
		if len(d.Columns) == 0 {
			return errors.New("consistency requires key columns")
		}
		switch d.Params.String("mode", "unique") {
		case "unique":
		case "reference":
			if len(d.Columns) != 1 {
				return errors.New("reference consistency expects exactly one column")
			}
			if d.Params.String("reference_table", "") == "" {
				return errors.New("reference consistency requires params.reference_table")
			}
		default:
			return fmt.Errorf("unknown consistency mode %q", d.Params.String("mode", ""))
		}
	case KindValidity:
		if len(d.Columns) != 1 {
			return errors.New("validity expects exactly one column")
		}
		switch d.Params.String("transform", "") {
		case "", "age_years":
			_, hasMin := d.Params.Float("min")
			_, hasMax := d.Params.Float("max")
			if !hasMin && !hasMax {
				return errors.New("validity requires params.min or params.max")
			}
		case "date":
			for _, key := range []string{"min_date", "max_date"} {
				v := d.Params.String(key, "")
				if v == "" || v == "now" {
					continue
				}
				if _, err := time.Parse("2006-01-02", v); err != nil {
					return fmt.Errorf("params.%s must be YYYY-MM-DD or now", key)
				}
			}
		default:
			return fmt.Errorf("unknown validity transform %q", d.Params.String("transform", ""))
		}
	case KindFreshness:
		if len(d.Columns) > 1 {
			return errors.New("freshness expects at most one date column")
		}
		if v, ok := d.Params.Float("max_age_hours"); ok && v <= 0 {
			return errors.New("params.max_age_hours must be positive")
		}
	case KindVolume:
		v, ok := d.Params.Float("min_rows")
		if !ok || v < 0 {
			return errors.New("volume requires params.min_rows >= 0")
		}
	case KindBusinessRule:
		rule := d.Params.String("rule", "")
		if _, ok := businessRules[rule]; !ok {
			return fmt.Errorf("unknown business rule %q", rule)
		}
		if len(d.Columns) != 1 {
			return errors.New("business rules expect exactly one column")
		}
		if rule == "above" {
			if _, ok := d.Params.Float("limit"); !ok {
				return errors.New("above rule requires params.limit")
			}
		}
	}
	return nil
}
