package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// configFileName is the single top-level configuration file.
const configFileName = "switchboard.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read switchboard.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into the Config struct
//  4. Apply built-in defaults for unset values
//  5. Load rule set files from the rule sets directory
//  6. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"assistants", stats.Assistants,
		"rule_sets", stats.RuleSets,
		"alias_overrides", stats.Aliases,
		"org_defaults", stats.Orgs)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, configFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(configFileName, ErrConfigNotFound)
		}
		return nil, NewLoadError(configFileName, err)
	}

	cfg := &Config{configDir: configDir}
	if err := yaml.Unmarshal(ExpandEnv(raw), cfg); err != nil {
		return nil, NewLoadError(configFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	applyDefaults(cfg)

	cfg.RuleSets, err = loadRuleSets(filepath.Join(configDir, cfg.Engine.RuleSetsDir))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRuleSets reads every YAML file in dir as one rule set. A missing
// directory is not an error; the assistant then serves no rules until
// sets are installed through the admin API.
func loadRuleSets(dir string) (map[string]*rules.RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]*rules.RuleSet{}, nil
	}
	if err != nil {
		return nil, NewLoadError(dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(entry.Name())); ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	sets := make(map[string]*rules.RuleSet, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, NewLoadError(name, err)
		}
		var rs rules.RuleSet
		if err := yaml.Unmarshal(ExpandEnv(raw), &rs); err != nil {
			return nil, NewLoadError(name, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if _, dup := sets[rs.Key()]; dup {
			return nil, NewLoadError(name, fmt.Errorf("duplicate rule set %q", rs.Key()))
		}
		sets[rs.Key()] = &rs
	}
	return sets, nil
}

// AgentCredential reads the agent credential from the environment.
func (c *Config) AgentCredential() (string, error) {
	return requireEnv(c.Agent.CredentialEnv)
}

// APIKey reads the service API key from the environment.
func (c *Config) APIKey() (string, error) {
	return requireEnv(c.Agent.APIKeyEnv)
}

// DatabaseURL reads the PostgreSQL connection string from the
// environment.
func (c *Config) DatabaseURL() (string, error) {
	return requireEnv(c.Database.URLEnv)
}

func requireEnv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, name)
	}
	return value, nil
}
