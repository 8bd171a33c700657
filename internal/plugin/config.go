package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Spec is the on-disk YAML config of one plugin, <plugin-dir>/<name>.yaml.
type Spec struct {
	Enable          bool           `yaml:"enable"`
	Commands        []string       `yaml:"commands"`
	CommandTip      string         `yaml:"command-tip"`
	Price           int            `yaml:"price"`
	AdminIgnore     bool           `yaml:"admin_ignore"`
	WhitelistIgnore bool           `yaml:"whitelist_ignore"`
	Match           string         `yaml:"match"`            // "prefix" (default) or "token"
	CaseInsensitive bool           `yaml:"case-insensitive"` // commands match ignoring case
	Settings        map[string]any `yaml:"settings"`         // handler-specific, passed to the factory
}

// SpecPath returns the config file path for a plugin name.
func SpecPath(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

// readSpec loads and validates a plugin Spec. All failures wrap
// ErrConfigInvalid so callers can report the right load-error class.
func readSpec(dir, name string) (*Spec, error) {
	raw, err := os.ReadFile(SpecPath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	if len(s.Commands) == 0 {
		return fmt.Errorf("no commands declared")
	}
	for _, c := range s.Commands {
		if c == "" {
			return fmt.Errorf("empty command token")
		}
	}
	if s.Price < 0 {
		return fmt.Errorf("negative price %d", s.Price)
	}
	switch s.Match {
	case "", "prefix", "token":
	default:
		return fmt.Errorf("unknown match mode %q", s.Match)
	}
	return nil
}

func (s *Spec) matchMode() MatchMode {
	if s.Match == "token" {
		return MatchToken
	}
	return MatchPrefix
}
