package loadgen

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type PatternConfig struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
	Disabled bool          `yaml:"disabled"`
}

// Config overrides the pacing of the default patterns, or switches some off.
type Config struct {
	Patterns []PatternConfig `yaml:"patterns"`
}

func ReadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading pattern config")
	}

	var cfg Config
	if err := yaml.UnmarshalStrict(content, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing pattern config %s", path)
	}
	return &cfg, nil
}

// Apply returns patterns with the overrides in c applied. Naming a pattern that
// does not exist is an error.
func (c *Config) Apply(patterns []Pattern) ([]Pattern, error) {
	byName := make(map[string]PatternConfig, len(c.Patterns))
	for _, pc := range c.Patterns {
		byName[pc.Name] = pc
	}

	known := make(map[string]bool, len(patterns))
	var out []Pattern
	for _, p := range patterns {
		known[p.Name] = true
		pc, ok := byName[p.Name]
		if !ok {
			out = append(out, p)
			continue
		}
		if pc.Disabled {
			continue
		}
		if pc.Interval < 0 {
			return nil, errors.Errorf("pattern %s: negative interval %s", p.Name, pc.Interval)
		}
		if pc.Interval > 0 {
			p.Interval = pc.Interval
		}
		out = append(out, p)
	}

	for name := range byName {
		if !known[name] {
			return nil, errors.Errorf("unknown pattern %q", name)
		}
	}
	return out, nil
}
