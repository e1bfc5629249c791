package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envExpr matches ${VAR} and ${VAR:-default} substitutions. Expansion
// happens on the raw bytes before parsing so channel credentials, hook
// secrets, and the admin bearer token can stay out of the file.
var envExpr = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads the scheduler's YAML configuration from path, expands
// environment references, and parses the result. Validation is a
// separate step; see Validate.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// expandEnv substitutes every ${VAR} and ${VAR:-default} occurrence in
// raw. A reference with neither an environment value nor a default is an
// error; all such misses are collected so one failed load reports every
// missing variable at once.
func expandEnv(raw []byte) ([]byte, error) {
	var missing []error

	expanded := envExpr.ReplaceAllFunc(raw, func(match []byte) []byte {
		parts := envExpr.FindSubmatch(match)
		name := string(parts[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if parts[2] != nil {
			return parts[2]
		}

		missing = append(missing, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return expanded, errors.Join(missing...)
}
