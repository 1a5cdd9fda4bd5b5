package quality

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/shopspring/decimal"
)

var (
	emailPattern         = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[a-zA-Z]{2,}$`)
	phonePattern         = regexp.MustCompile(`^\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}$`)
	skuPattern           = regexp.MustCompile(`^SKU\d{6}$`)
	businessEmailPattern = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)

	// Computed money fields may differ from the declared value by less than one cent.
	moneyTolerance = decimal.NewFromFloat(0.01)
)

// cell is one target column value of a row; ok is false for null.
type cell struct {
	v  string
	ok bool
}

func rowCells(ds *dataset.Dataset, row int, columns []string) []cell {
	out := make([]cell, len(columns))
	for i, col := range columns {
		v, ok := ds.Value(row, col)
		out[i] = cell{v: v, ok: ok}
	}
	return out
}

type rowPredicate func(cells []cell) bool

type accuracyRule struct {
	columns int
	build   func(p Params) (rowPredicate, error)
}

func patternRule(re *regexp.Regexp) func(Params) (rowPredicate, error) {
	return func(Params) (rowPredicate, error) {
		return func(c []cell) bool { return c[0].ok && re.MatchString(c[0].v) }, nil
	}
}

// accuracyRules are keyed by params.rule. Nulls are never accurate.
var accuracyRules = map[string]accuracyRule{
	"email": {columns: 1, build: patternRule(emailPattern)},
	"phone": {columns: 1, build: patternRule(phonePattern)},
	"sku":   {columns: 1, build: patternRule(skuPattern)},
	"regex": {columns: 1, build: func(p Params) (rowPredicate, error) {
		re, err := regexp.Compile(p.String("pattern", ""))
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		return func(c []cell) bool { return c[0].ok && re.MatchString(c[0].v) }, nil
	}},
	"range": {columns: 1, build: func(p Params) (rowPredicate, error) {
		lo := p.FloatOr("min", 0)
		hi := p.FloatOr("max", 0)
		return func(c []cell) bool {
			if !c[0].ok {
				return false
			}
			v, ok := dataset.ParseFloat(c[0].v)
			return ok && v > lo && v < hi
		}, nil
	}},
	// total, subtotal, tax, shipping, discount
	"order_total": {columns: 5, build: func(Params) (rowPredicate, error) {
		return func(c []cell) bool {
			d, ok := decimals(c)
			if !ok {
				return false
			}
			computed := d[1].Add(d[2]).Add(d[3]).Sub(d[4])
			return d[0].Sub(computed).Abs().LessThan(moneyTolerance)
		}, nil
	}},
	// line total, quantity, unit price
	"line_total": {columns: 3, build: func(Params) (rowPredicate, error) {
		return func(c []cell) bool {
			d, ok := decimals(c)
			if !ok {
				return false
			}
			return d[0].Sub(d[1].Mul(d[2])).Abs().LessThan(moneyTolerance)
		}, nil
	}},
}

func decimals(cells []cell) ([]decimal.Decimal, bool) {
	out := make([]decimal.Decimal, len(cells))
	for i, c := range cells {
		if !c.ok {
			return nil, false
		}
		d, ok := dataset.ParseDecimal(c.v)
		if !ok {
			return nil, false
		}
		out[i] = d
	}
	return out, true
}

// businessRules return true for a violating cell.
var businessRules = map[string]func(p Params) func(c cell) bool{
	"invalid_email": func(Params) func(cell) bool {
		return func(c cell) bool { return c.ok && !businessEmailPattern.MatchString(c.v) }
	},
	// missing_at treats null as a violation, matching the ingest gate.
	"missing_at": func(Params) func(cell) bool {
		return func(c cell) bool { return !c.ok || !strings.Contains(c.v, "@") }
	},
	"non_positive": func(Params) func(cell) bool {
		return func(c cell) bool {
			if !c.ok {
				return false
			}
			v, ok := dataset.ParseFloat(c.v)
			return !ok || v <= 0
		}
	},
	"above": func(p Params) func(cell) bool {
		limit := p.FloatOr("limit", 0)
		return func(c cell) bool {
			if !c.ok {
				return false
			}
			v, ok := dataset.ParseFloat(c.v)
			return ok && v > limit
		}
	},
}

// BusinessRuleNames lists the registered predicates.
func BusinessRuleNames() []string {
	return sortedKeys(businessRules)
}

func AccuracyRuleNames() []string {
	return sortedKeys(accuracyRules)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
