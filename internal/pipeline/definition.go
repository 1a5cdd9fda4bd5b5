package pipeline

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Definition is the static YAML description of a pipeline.
type Definition struct {
	Name                string        `yaml:"name" validate:"required"`
	AcceptanceThreshold *float64      `yaml:"acceptance_threshold" validate:"omitempty,gte=0,lte=1"`
	PollInterval        time.Duration `yaml:"poll_interval" validate:"gte=0"`
	MaxWait             time.Duration `yaml:"max_wait" validate:"gte=0"`
	Stages              []StageDef    `yaml:"stages" validate:"required,min=1,dive"`
	Jobs                jobs.Catalog  `yaml:"jobs" validate:"dive"`
}

type StageDef struct {
	Name string            `yaml:"name" validate:"required"`
	Job  string            `yaml:"job" validate:"required"`
	Args map[string]string `yaml:"args"`
	Gate *GateDef          `yaml:"gate"`
}

type GateDef struct {
	Tables []GateTable `yaml:"tables" validate:"required,min=1,dive"`
}

// GateTable names a stage output to validate. Bucket is an object store
// bucket or one of the aliases raw, processed and reports. References name
// other tables of the same gate used for foreign-key checks.
type GateTable struct {
	Table      string   `yaml:"table" validate:"required"`
	Bucket     string   `yaml:"bucket" validate:"required"`
	Key        string   `yaml:"key" validate:"required"`
	References []string `yaml:"references"`
}

func ParseDefinition(input []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(input, &def); err != nil {
		return Definition{}, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func LoadDefinition(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	def, err := ParseDefinition(raw)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline %s: %w", path, err)
	}
	return def, nil
}

func (d Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(d.Stages))
	for i, st := range d.Stages {
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("stages[%d].name must be unique (duplicate %q)", i, st.Name)
		}
		seen[st.Name] = struct{}{}
		if st.Gate == nil {
			continue
		}
		tables := make(map[string]struct{}, len(st.Gate.Tables))
		for _, gt := range st.Gate.Tables {
			tables[gt.Table] = struct{}{}
		}
		for _, gt := range st.Gate.Tables {
			for _, ref := range gt.References {
				if _, ok := tables[ref]; !ok {
					return fmt.Errorf("stages[%d].gate: table %s references %s, which the gate does not load", i, gt.Table, ref)
				}
			}
		}
	}
	if d.MaxWait > 0 && d.PollInterval > d.MaxWait {
		return errors.New("poll_interval must not exceed max_wait")
	}
	return nil
}

// Threshold returns the acceptance threshold, 1.0 when unset.
func (d Definition) Threshold() float64 {
	if d.AcceptanceThreshold == nil {
		return 1.0
	}
	return *d.AcceptanceThreshold
}

var placeholder = regexp.MustCompile(`\$\{([A-Z_]+)(?::([A-Za-z0-9_]+))?\}`)

// Vars are substituted into job names, arg values and gate locations.
// ${RUN_ID} and ${ENVIRONMENT} come from the run, ${ENV:NAME} reads the
// process environment and ${BUCKET:alias} resolves a bucket alias.
type Vars struct {
	RunID       string
	Environment string
	LookupEnv   func(string) (string, bool)
	Bucket      func(alias string) string
}

func (v Vars) bucket(alias string) string {
	if v.Bucket == nil {
		return alias
	}
	return v.Bucket(alias)
}

func (v Vars) expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		switch parts[1] {
		case "RUN_ID":
			return v.RunID
		case "ENVIRONMENT":
			return v.Environment
		case "ENV":
			lookup := v.LookupEnv
			if lookup == nil {
				lookup = os.LookupEnv
			}
			val, _ := lookup(parts[2])
			return val
		case "BUCKET":
			return v.bucket(parts[2])
		default:
			return m
		}
	})
}

// Resolve turns the definition into runnable stages, in order, dropping the
// stages named in skip. Naming a stage that does not exist is an error.
func (d Definition) Resolve(vars Vars, skip []string) ([]Stage, error) {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		skipped[name] = false
	}
	for _, st := range d.Stages {
		if _, ok := skipped[st.Name]; ok {
			skipped[st.Name] = true
		}
	}
	for name, found := range skipped {
		if !found {
			return nil, fmt.Errorf("skip-stage %q: no such stage in pipeline %s", name, d.Name)
		}
	}

	out := make([]Stage, 0, len(d.Stages))
	for _, st := range d.Stages {
		if skipped[st.Name] {
			continue
		}
		stage := Stage{Name: st.Name, JobName: vars.expand(st.Job)}
		if len(st.Args) > 0 {
			stage.Args = make(map[string]string, len(st.Args))
			for k, v := range st.Args {
				stage.Args[k] = vars.expand(v)
			}
		}
		if st.Gate != nil {
			for _, gt := range st.Gate.Tables {
				stage.Gate = append(stage.Gate, GateTable{
					Table:      gt.Table,
					Bucket:     vars.bucket(vars.expand(gt.Bucket)),
					Key:        vars.expand(gt.Key),
					References: append([]string(nil), gt.References...),
				})
			}
		}
		out = append(out, stage)
	}
	return out, nil
}
