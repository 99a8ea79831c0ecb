package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a flat YAML mapping of the same keys Resolve understands:
//
//	VITE_DOC_API_BASE: http://answers.internal:9001
//	INTAKE_REQUEST_TIMEOUT_MS: 120000
//
// Scalar values of any YAML type are accepted and kept as their text form.
func LoadFile(path string) (Env, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	env := make(Env, len(raw))
	for k, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse %s: key %q must be a scalar", path, k)
		}
		env[k] = node.Value
	}
	return env, nil
}

// Load layers the process environment over an optional YAML file and
// resolves the result.
func Load(path string) (Config, error) {
	env := Environ()
	if path != "" {
		fileEnv, err := LoadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		env = Merge(fileEnv, env)
	}
	return Resolve(env)
}
