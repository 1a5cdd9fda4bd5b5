package quality

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TableRules is the rule set of one table: the columns a file must carry and
// the ordered checks run against it.
type TableRules struct {
	RequiredColumns []string          `yaml:"required_columns" json:"required_columns" validate:"dive,required"`
	Checks          []CheckDescriptor `yaml:"checks" json:"checks" validate:"dive"`
}

// Registry maps table names to rule sets. It is built once and read-only
// afterwards, so one Registry can serve concurrent validations.
type Registry struct {
	tables map[string]TableRules
}

func NewRegistry(sets map[string]TableRules) (*Registry, error) {
	r := &Registry{tables: make(map[string]TableRules, len(sets))}
	verr := &ValidationError{}
	for name, set := range sets {
		table := strings.TrimSpace(name)
		if table == "" {
			verr.Add("table name is required")
			continue
		}
		if err := set.Validate(); err != nil {
			verr.Add("%s: %v", table, err)
			continue
		}
		r.tables[table] = set.clone()
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

// With returns a new Registry where the given tables replace or extend r.
func (r *Registry) With(overrides map[string]TableRules) (*Registry, error) {
	merged := make(map[string]TableRules, len(r.tables)+len(overrides))
	for name, set := range r.tables {
		merged[name] = set
	}
	for name, set := range overrides {
		merged[name] = set
	}
	return NewRegistry(merged)
}

// RulesFor returns a copy of the ordered descriptors registered for table.
func (r *Registry) RulesFor(table string) ([]CheckDescriptor, error) {
	set, ok := r.tables[table]
	if !ok {
		return nil, &UnknownTableError{Table: table}
	}
	out := make([]CheckDescriptor, len(set.Checks))
	for i, d := range set.Checks {
		out[i] = d.clone()
	}
	return out, nil
}

func (r *Registry) RequiredColumns(table string) ([]string, error) {
	set, ok := r.tables[table]
	if !ok {
		return nil, &UnknownTableError{Table: table}
	}
	return append([]string(nil), set.RequiredColumns...), nil
}

func (r *Registry) Has(table string) bool {
	_, ok := r.tables[table]
	return ok
}

func (r *Registry) Tables() []string {
	out := make([]string, 0, len(r.tables))
	for name := range r.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s TableRules) clone() TableRules {
	out := TableRules{
		RequiredColumns: append([]string(nil), s.RequiredColumns...),
		Checks:          make([]CheckDescriptor, len(s.Checks)),
	}
	for i, d := range s.Checks {
		out.Checks[i] = d.clone()
	}
	return out
}

func (s TableRules) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if len(s.Checks) == 0 {
		return errors.New("checks must be non-empty")
	}
	seen := make(map[string]struct{}, len(s.Checks))
	for i, d := range s.Checks {
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("checks[%d].name must be unique (duplicate %q)", i, d.Name)
		}
		seen[d.Name] = struct{}{}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("checks[%d] %s: %w", i, d.Name, err)
		}
	}
	return nil
}
