package config

import "time"

// Built-in defaults applied to any value the YAML leaves unset.
const (
	DefaultListen             = ":8080"
	DefaultPreset             = "conversational"
	DefaultRunTimeout         = 45 * time.Second
	DefaultMailboxDepth       = 256
	DefaultEmbeddingCacheSize = 1024
	DefaultClientTimeout      = 30 * time.Second
	DefaultWebhookTimeout     = 5 * time.Second
	DefaultRuleSetsDir        = "rules"
	DefaultCredentialEnv      = "SWITCHBOARD_AGENT_CREDENTIAL"
	DefaultAPIKeyEnv          = "SWITCHBOARD_API_KEY"
	DefaultDatabaseURLEnv     = "DATABASE_URL"
	DefaultEventTTL           = 7 * 24 * time.Hour
	DefaultSweepInterval      = time.Hour
	DefaultOrphanRunAge       = 5 * time.Minute
)

// applyDefaults fills unset fields in place.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Agent.CredentialEnv == "" {
		cfg.Agent.CredentialEnv = DefaultCredentialEnv
	}
	if cfg.Agent.APIKeyEnv == "" {
		cfg.Agent.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Engine.DefaultPreset == "" {
		cfg.Engine.DefaultPreset = DefaultPreset
	}
	if cfg.Engine.RunTimeout <= 0 {
		cfg.Engine.RunTimeout = Duration(DefaultRunTimeout)
	}
	if cfg.Engine.MailboxDepth <= 0 {
		cfg.Engine.MailboxDepth = DefaultMailboxDepth
	}
	if cfg.Engine.EmbeddingCacheSize <= 0 {
		cfg.Engine.EmbeddingCacheSize = DefaultEmbeddingCacheSize
	}
	if cfg.Engine.ClientTimeout <= 0 {
		cfg.Engine.ClientTimeout = Duration(DefaultClientTimeout)
	}
	if cfg.Engine.WebhookTimeout <= 0 {
		cfg.Engine.WebhookTimeout = Duration(DefaultWebhookTimeout)
	}
	if cfg.Engine.RuleSetsDir == "" {
		cfg.Engine.RuleSetsDir = DefaultRuleSetsDir
	}
	if cfg.Database.URLEnv == "" {
		cfg.Database.URLEnv = DefaultDatabaseURLEnv
	}
	if cfg.Retention.EventTTL <= 0 {
		cfg.Retention.EventTTL = Duration(DefaultEventTTL)
	}
	if cfg.Retention.SweepInterval <= 0 {
		cfg.Retention.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.Retention.OrphanRunAge <= 0 {
		cfg.Retention.OrphanRunAge = Duration(DefaultOrphanRunAge)
	}
}
