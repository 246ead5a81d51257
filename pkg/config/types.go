// Package config loads and validates the engine's deploy-time
// configuration: service endpoints, agent identity, engine tuning,
// assistant definitions, alias overrides, and rule set files. The YAML
// files support {{.VAR}} environment expansion; credentials are always
// named by environment variable, never written into configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/switchboard-io/switchboard/pkg/assistant"
	"github.com/switchboard-io/switchboard/pkg/profile"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "45s" or "2m".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("%w: duration must be a string like \"45s\"", ErrInvalidValue)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: bad duration %q", ErrInvalidValue, raw)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the fully loaded and validated configuration.
type Config struct {
	configDir string

	Server    ServerConfig    `yaml:"server"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Agent     AgentConfig     `yaml:"agent"`
	Engine    EngineConfig    `yaml:"engine"`
	Database  DatabaseConfig  `yaml:"database"`
	Retention RetentionConfig `yaml:"retention"`
	Routing   RoutingConfig   `yaml:"routing"`

	Assistants  []assistant.Definition      `yaml:"assistants"`
	OrgDefaults map[string]*profile.Overlay `yaml:"org_defaults"`

	// RuleSets are loaded from Engine.RuleSetsDir, one file per set.
	RuleSets map[string]*rules.RuleSet `yaml:"-"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Listen           string   `yaml:"listen"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// EndpointsConfig names the collaborating service base URLs.
type EndpointsConfig struct {
	IdentityURL     string `yaml:"identity_url"`
	CatalogURL      string `yaml:"catalog_url"`
	MessagingURL    string `yaml:"messaging_url"`
	IntegrationsURL string `yaml:"integrations_url"`
}

// AgentConfig identifies this assistant process and names the
// environment variables its credentials live in.
type AgentConfig struct {
	Key      string `yaml:"key"`
	EntityID string `yaml:"entity_id"`
	// CredentialEnv and APIKeyEnv name environment variables; the
	// secrets themselves never appear in configuration files.
	CredentialEnv string `yaml:"credential_env"`
	APIKeyEnv     string `yaml:"api_key_env"`
}

// EngineConfig tunes the run coordinator and action layer.
type EngineConfig struct {
	DefaultPreset      string   `yaml:"default_preset"`
	RunTimeout         Duration `yaml:"run_timeout"`
	MailboxDepth       int      `yaml:"mailbox_depth"`
	EmbeddingCacheSize int      `yaml:"embedding_cache_size"`
	ClientTimeout      Duration `yaml:"client_timeout"`
	WebhookTimeout     Duration `yaml:"webhook_timeout"`
	RuleSetsDir        string   `yaml:"rule_sets_dir"`
}

// DatabaseConfig locates PostgreSQL. The connection string is read from
// the named environment variable.
type DatabaseConfig struct {
	URLEnv  string `yaml:"url_env"`
	Migrate bool   `yaml:"migrate"`
}

// RetentionConfig tunes the background retention sweeper and the
// startup orphaned-run recovery.
type RetentionConfig struct {
	// EventTTL bounds how long operational event rows are kept.
	EventTTL Duration `yaml:"event_ttl"`
	// SweepInterval is the period between retention sweeps.
	SweepInterval Duration `yaml:"sweep_interval"`
	// OrphanRunAge is how old a started-but-unfinished run must be
	// before startup recovery marks it failed.
	OrphanRunAge Duration `yaml:"orphan_run_age"`
}

// RoutingConfig carries router deploy settings.
type RoutingConfig struct {
	// Aliases extend or override the builtin alias map.
	Aliases map[string]string `yaml:"aliases"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Assistants int
	RuleSets   int
	Aliases    int
	Orgs       int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	return Stats{
		Assistants: len(c.Assistants),
		RuleSets:   len(c.RuleSets),
		Aliases:    len(c.Routing.Aliases),
		Orgs:       len(c.OrgDefaults),
	}
}
