// Package config loads the YAML connection-profile files ldapvi reads at
// startup (~/.ldapvirc, falling back to /etc/ldapvi.conf — §6.3 of
// SPEC_FULL.md). Each top-level stanza names a profile; an optional
// "default" stanza supplies values a bare invocation (no --profile) uses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultProfileName is the stanza consulted when --profile isn't given.
const DefaultProfileName = "default"

// Profile is one named connection profile: everything a CLI flag could
// otherwise supply, so a profile can stand in for a whole command line.
type Profile struct {
	URI      string `yaml:"uri"`
	BindDN   string `yaml:"binddn"`
	Base     string `yaml:"base"`
	Scope    string `yaml:"scope"` // "base", "one", or "sub"
	Password string `yaml:"password"`
}

// Config is the parsed contents of a profile file: a set of named profiles.
type Config struct {
	Profiles map[string]*Profile `yaml:",inline"`
}

// rawConfig is what yaml.v2 actually unmarshals into — a flat map, since
// yaml.v2 doesn't support inline maps the way newer decoders do.
type rawConfig map[string]*Profile

// Unmarshal parses profile file content.
func Unmarshal(content []byte) (*Config, error) {
	raw := rawConfig{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to quote values containing special characters", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}
	return &Config{Profiles: raw}, nil
}

func validate(raw rawConfig) error {
	for name, p := range raw {
		if p == nil {
			return fmt.Errorf("profile %q has no content", name)
		}
		switch p.Scope {
		case "", "base", "one", "sub":
		default:
			return fmt.Errorf("profile %q: unknown scope %q (want base, one, or sub)", name, p.Scope)
		}
	}
	return nil
}

// LoadFile reads and parses filename.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	cfg, err := Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	return cfg, nil
}

// Load reads explicitPath when it is non-empty; otherwise it tries
// $HOME/.ldapvirc, then /etc/ldapvi.conf, returning the first one that
// exists. A missing file at every candidate location is not an error: it
// just means no profiles are configured.
func Load(explicitPath string) (*Config, error) {
	candidates := []string{}
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			candidates = append(candidates, home+"/.ldapvirc")
		}
		candidates = append(candidates, "/etc/ldapvi.conf")
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return &Config{Profiles: map[string]*Profile{}}, nil
}

// Profile looks up a named profile, falling back to DefaultProfileName when
// name is empty. Returns nil, false if neither exists.
func (c *Config) Profile(name string) (*Profile, bool) {
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := c.Profiles[name]
	return p, ok
}
