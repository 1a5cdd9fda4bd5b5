package dataset

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func ParseFloat(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if IsNull(v) {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDecimal parses money columns exactly.
func ParseDecimal(v string) (decimal.Decimal, bool) {
	v = strings.TrimSpace(v)
	if IsNull(v) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseTime accepts RFC 3339 and the common SQL/CSV date-time layouts.
// Values without a zone are read as UTC.
func ParseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if IsNull(v) {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// MaxTime returns the latest parseable timestamp in column.
func (d *Dataset) MaxTime(column string) (time.Time, bool) {
	var latest time.Time
	found := false
	for i := range d.rows {
		raw, ok := d.Value(i, column)
		if !ok {
			continue
		}
		t, ok := ParseTime(raw)
		if !ok {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	return latest, found
}
