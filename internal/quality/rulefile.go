package quality

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleFileSchemaV1 identifies a rule-set file.
const RuleFileSchemaV1 = "ecomdwh.rules.v1"

// RuleFile overrides or extends the built-in rule sets.
type RuleFile struct {
	Schema string                `yaml:"schema"`
	Tables map[string]TableRules `yaml:"tables"`
}

func ParseRuleFile(input []byte) (RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(input, &rf); err != nil {
		return RuleFile{}, fmt.Errorf("decode rules: %w", err)
	}
	if s := strings.TrimSpace(rf.Schema); s != "" && s != RuleFileSchemaV1 {
		return RuleFile{}, fmt.Errorf("rules.schema must be %q", RuleFileSchemaV1)
	}
	if len(rf.Tables) == 0 {
		return RuleFile{}, errors.New("rules.tables must be non-empty")
	}
	return rf, nil
}

// LoadRegistry applies the rule file at path on top of base. An empty path
// returns base unchanged.
func LoadRegistry(base *Registry, path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rf, err := ParseRuleFile(raw)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return base.With(rf.Tables)
}

// Export returns the rule sets of the named tables, or of every table when
// none are named, as a rule file that LoadRegistry accepts.
func (r *Registry) Export(tables ...string) (RuleFile, error) {
	if len(tables) == 0 {
		tables = r.Tables()
	}
	rf := RuleFile{Schema: RuleFileSchemaV1, Tables: make(map[string]TableRules, len(tables))}
	for _, name := range tables {
		set, ok := r.tables[strings.TrimSpace(name)]
		if !ok {
			return RuleFile{}, &UnknownTableError{Table: name}
		}
		rf.Tables[strings.TrimSpace(name)] = set.clone()
	}
	return rf, nil
}
