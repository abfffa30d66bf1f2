package config

import (
	"fmt"
	"os"
	"strings"
)

// Inputs resolves action inputs from the environment.
type Inputs struct {
	lookup func(string) (string, bool)
}

// FromEnv returns Inputs backed by the process environment.
func FromEnv() *Inputs {
	return &Inputs{lookup: os.LookupEnv}
}

// FromMap returns Inputs backed by a fixed set of environment variables.
func FromMap(env map[string]string) *Inputs {
	return &Inputs{lookup: func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}}
}

// EnvName returns the environment variable GitHub Actions uses for an input.
func EnvName(input string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(input, " ", "_"))
}

// Get returns the trimmed value of an input, or "" when unset.
func (in *Inputs) Get(input string) string {
	v, _ := in.lookup(EnvName(input))
	return strings.TrimSpace(v)
}

// GetOr returns the input value, falling back to the first non-empty
// environment variable in fallbacks.
func (in *Inputs) GetOr(input string, fallbacks ...string) string {
	if v := in.Get(input); v != "" {
		return v
	}
	for _, env := range fallbacks {
		if v, ok := in.lookup(env); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Env returns a raw environment variable.
func (in *Inputs) Env(key string) string {
	v, _ := in.lookup(key)
	return v
}

// Bool parses a boolean input. Empty means def.
func (in *Inputs) Bool(input string, def bool) (bool, error) {
	switch strings.ToLower(in.Get(input)) {
	case "":
		return def, nil
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("input %s: expected a boolean, got %q", input, in.Get(input))
	}
}

// List splits a comma or newline separated input, dropping empty entries.
func (in *Inputs) List(input string) []string {
	return splitList(in.Get(input))
}

// Map parses a comma or newline separated list of key=value pairs.
func (in *Inputs) Map(input string) (map[string]string, error) {
	items := splitList(in.Get(input))
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("input %s: entry %q is not key=value", input, item)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// WithDefaults returns Inputs that fall back to defaults (keyed by input
// name) for inputs that are unset or blank.
func (in *Inputs) WithDefaults(defaults map[string]string) *Inputs {
	lookup := in.lookup
	return &Inputs{lookup: func(key string) (string, bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		for name, def := range defaults {
			if EnvName(name) == key {
				return def, true
			}
		}
		return lookup(key)
	}}
}
