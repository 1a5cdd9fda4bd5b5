package jobs

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Template describes how a named job is run: the image, its entry command
// and fixed environment. Stage args are appended as command-line flags.
type Template struct {
	Image     string            `yaml:"image" json:"image" validate:"required"`
	Command   []string          `yaml:"command" json:"command,omitempty"`
	Env       map[string]string `yaml:"env" json:"env,omitempty"`
	Resources map[string]any    `yaml:"resources" json:"resources,omitempty"`
	// DeadlineSeconds caps the job runtime on backends that support it.
	DeadlineSeconds int64 `yaml:"deadline_seconds" json:"deadline_seconds,omitempty" validate:"gte=0"`
}

// Catalog maps job names to templates.
type Catalog map[string]Template

// ErrUnknownJob is returned by Lookup for names not in the catalog.
var ErrUnknownJob = errors.New("job is not in the catalog")

func (c Catalog) Lookup(name string) (Template, error) {
	t, ok := c[strings.TrimSpace(name)]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return t, nil
}

var validate = validator.New()

// catalogFile is the on-disk form: a top-level jobs map.
type catalogFile struct {
	Jobs Catalog `yaml:"jobs" validate:"dive"`
}

// LoadCatalog reads job templates from a YAML file. An empty path yields an
// empty catalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Catalog{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode job catalog %s: %w", path, err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("job catalog %s: %w", path, err)
	}
	if file.Jobs == nil {
		file.Jobs = Catalog{}
	}
	return file.Jobs, nil
}

// Merge returns a catalog holding c overlaid by other.
func (c Catalog) Merge(other Catalog) Catalog {
	out := make(Catalog, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// FormatArgs renders args as sorted "--key value" pairs. Keys without a
// leading dash get "--".
func FormatArgs(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		flag := strings.TrimSpace(k)
		if !strings.HasPrefix(flag, "-") {
			flag = "--" + flag
		}
		out = append(out, flag, args[k])
	}
	return out
}

// SortedEnv returns env keys in a stable order, skipping blanks and reserved
// names.
func SortedEnv(vars map[string]string, reserved ...string) []string {
	skip := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		skip[strings.ToUpper(r)] = struct{}{}
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if _, ok := skip[strings.ToUpper(key)]; ok {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResourceString reads a string-ish resource hint such as "500m" or 2.
func ResourceString(resources map[string]any, key string) string {
	v, ok := resources[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
