package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

const minimalYAML = `
endpoints:
  identity_url: http://identity:8080
  messaging_url: http://messaging:8080
  integrations_url: http://integrations:8080
agent:
  key: coordinator
`

func writeConfig(t *testing.T, yaml string, ruleSets map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(yaml), 0o600))
	if ruleSets != nil {
		rulesDir := filepath.Join(dir, DefaultRuleSetsDir)
		require.NoError(t, os.Mkdir(rulesDir, 0o700))
		for name, content := range ruleSets {
			require.NoError(t, os.WriteFile(filepath.Join(rulesDir, name), []byte(content), 0o600))
		}
	}
	return dir
}

func TestInitializeAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, minimalYAML, nil)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultPreset, cfg.Engine.DefaultPreset)
	assert.Equal(t, DefaultRunTimeout, cfg.Engine.RunTimeout.Std())
	assert.Equal(t, DefaultMailboxDepth, cfg.Engine.MailboxDepth)
	assert.Equal(t, DefaultEmbeddingCacheSize, cfg.Engine.EmbeddingCacheSize)
	assert.Equal(t, DefaultWebhookTimeout, cfg.Engine.WebhookTimeout.Std())
	assert.Equal(t, DefaultCredentialEnv, cfg.Agent.CredentialEnv)
	assert.Equal(t, DefaultDatabaseURLEnv, cfg.Database.URLEnv)
	assert.Empty(t, cfg.RuleSets, "missing rules dir is not an error")
	assert.Equal(t, dir, cfg.ConfigDir())
}

func TestInitializeFullConfig(t *testing.T) {
	t.Setenv("TEST_MESSAGING_HOST", "messaging.internal")
	yaml := `
server:
  listen: ":9090"
endpoints:
  identity_url: http://identity:8080
  messaging_url: http://{{.TEST_MESSAGING_HOST}}:8080
  integrations_url: http://integrations:8080
agent:
  key: coordinator
  entity_id: ent-coordinator
engine:
  default_preset: routing
  run_timeout: 30s
  mailbox_depth: 64
routing:
  aliases:
    triage: run-debugger
assistants:
  - key: coordinator
    entity_id: ent-coordinator
    description: routes user questions to specialist assistants
    profile:
      preset: routing
  - key: log-analyst
    entity_id: ent-logs
    webhook_url: http://logs:8080/hooks/events
org_defaults:
  org-1:
    generation:
      temperature: 0.3
`
	ruleSet := `
assistant_key: coordinator
version: 1
active: true
rules:
  - id: greet
    name: greet new conversations
    priority: 10
    enabled: true
    trigger: message.received
    conditions:
      logic: and
      conditions:
        - field: message.content
          operator: contains
          value: hello
    actions:
      - type: message.send
        params:
          content: hi there
`
	dir := writeConfig(t, yaml, map[string]string{"coordinator.yaml": ruleSet})

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "http://messaging.internal:8080", cfg.Endpoints.MessagingURL)
	assert.Equal(t, 30*time.Second, cfg.Engine.RunTimeout.Std())
	assert.Equal(t, 64, cfg.Engine.MailboxDepth)
	assert.Equal(t, "run-debugger", cfg.Routing.Aliases["triage"])

	require.Len(t, cfg.Assistants, 2)
	assert.Equal(t, "routing", cfg.Assistants[0].Profile.Preset)
	assert.Equal(t, "http://logs:8080/hooks/events", cfg.Assistants[1].WebhookURL)

	require.NotNil(t, cfg.OrgDefaults["org-1"])
	require.NotNil(t, cfg.OrgDefaults["org-1"].Generation)
	require.NotNil(t, cfg.OrgDefaults["org-1"].Generation.Temperature)
	assert.InDelta(t, 0.3, *cfg.OrgDefaults["org-1"].Generation.Temperature, 1e-9)

	rs, ok := cfg.RuleSets["coordinator:default"]
	require.True(t, ok)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, rules.OpContains, rs.Rules[0].Conditions.Conditions[0].Condition.Operator)
}

func TestInitializeValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing agent key", `
endpoints:
  identity_url: http://identity:8080
  messaging_url: http://messaging:8080
  integrations_url: http://integrations:8080
`},
		{"missing endpoint", `
endpoints:
  identity_url: http://identity:8080
agent:
  key: coordinator
`},
		{"relative endpoint", `
endpoints:
  identity_url: identity:8080
  messaging_url: http://messaging:8080
  integrations_url: http://integrations:8080
agent:
  key: coordinator
`},
		{"unknown preset", `
endpoints:
  identity_url: http://identity:8080
  messaging_url: http://messaging:8080
  integrations_url: http://integrations:8080
agent:
  key: coordinator
engine:
  default_preset: telepathy
`},
		{"duplicate assistant", `
endpoints:
  identity_url: http://identity:8080
  messaging_url: http://messaging:8080
  integrations_url: http://integrations:8080
agent:
  key: coordinator
assistants:
  - key: log-analyst
  - key: Log-Analyst
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml, nil)
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}

func TestInitializeRejectsInvalidRuleSet(t *testing.T) {
	badSet := `
assistant_key: coordinator
active: true
rules:
  - id: broken
    enabled: true
    trigger: not.a.trigger
    actions:
      - type: message.send
`
	dir := writeConfig(t, minimalYAML, map[string]string{"bad.yaml": badSet})
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger")
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestCredentialsComeFromEnvironment(t *testing.T) {
	dir := writeConfig(t, minimalYAML, nil)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	_, err = cfg.AgentCredential()
	assert.ErrorIs(t, err, ErrMissingEnv)

	t.Setenv(DefaultCredentialEnv, "secret-credential")
	t.Setenv(DefaultAPIKeyEnv, "api-key")
	t.Setenv(DefaultDatabaseURLEnv, "postgres://localhost/switchboard")

	credential, err := cfg.AgentCredential()
	require.NoError(t, err)
	assert.Equal(t, "secret-credential", credential)

	apiKey, err := cfg.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "api-key", apiKey)

	dbURL, err := cfg.DatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/switchboard", dbURL)
}

func TestExpandEnvLeavesDollarAlone(t *testing.T) {
	out := ExpandEnv([]byte(`pattern: "^secret.*$"`))
	assert.Equal(t, `pattern: "^secret.*$"`, string(out))
}
