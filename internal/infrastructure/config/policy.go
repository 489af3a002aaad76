package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Duration decodes "30s"-style strings from policy files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DependencyPolicy overrides breaker and retry settings for one dependency.
// Zero values keep the environment defaults.
type DependencyPolicy struct {
	Threshold   uint32   `yaml:"threshold" toml:"threshold"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
	Interval    Duration `yaml:"interval" toml:"interval"`
	MaxRetries  *int     `yaml:"max_retries" toml:"max_retries"`
	BackoffBase Duration `yaml:"backoff_base" toml:"backoff_base"`
}

type policyFile struct {
	Dependencies map[string]DependencyPolicy `yaml:"dependencies" toml:"dependencies"`
}

// LoadPolicyFile reads a YAML (.yaml, .yml) or TOML (.toml) policy file.
func LoadPolicyFile(path string) (map[string]DependencyPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data, filepath.Ext(path))
}

// ParsePolicy decodes policy data in the format named by ext.
func ParsePolicy(data []byte, ext string) (map[string]DependencyPolicy, error) {
	var file policyFile

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse yaml policy: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse toml policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file format %q", ext)
	}

	for name, p := range file.Dependencies {
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			return nil, fmt.Errorf("dependency %q: max_retries must not be negative", name)
		}
	}
	return file.Dependencies, nil
}
