package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/actions"
	"github.com/switchboard-io/switchboard/pkg/assistant"
	"github.com/switchboard-io/switchboard/pkg/router"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

func namedSet(key string, version int) *rules.RuleSet {
	return &rules.RuleSet{AssistantKey: key, Version: version, Active: true}
}

func TestMergeRuleSetsDatabaseWins(t *testing.T) {
	files := map[string]*rules.RuleSet{
		"a:default": namedSet("a", 3),
		"b:default": namedSet("b", 1),
	}
	db := map[string]*rules.RuleSet{
		"a:default": namedSet("a", 5),
		"c:default": namedSet("c", 2),
	}

	merged := mergeRuleSets(files, db)
	require.Len(t, merged, 3)
	assert.Equal(t, 5, merged["a:default"].Version)
	assert.Equal(t, 1, merged["b:default"].Version)
	assert.Equal(t, 2, merged["c:default"].Version)
}

func TestMergeRuleSetsNewerFileKept(t *testing.T) {
	files := map[string]*rules.RuleSet{"a:default": namedSet("a", 9)}
	db := map[string]*rules.RuleSet{"a:default": namedSet("a", 4)}

	merged := mergeRuleSets(files, db)
	assert.Equal(t, 9, merged["a:default"].Version)
}

func startupFixture(t *testing.T) (*actions.Dispatcher, *assistant.Registry) {
	t.Helper()
	d := actions.NewDispatcher(nil)
	require.NoError(t, d.Register("message.send", actions.HandlerFunc(
		func(_ context.Context, _ rules.ActionConfig, _ *rules.ExecutionContext) (map[string]any, error) {
			return nil, nil
		})))
	reg := assistant.NewRegistry()
	require.NoError(t, reg.ReplaceAll([]assistant.Definition{{Key: "coordinator", DisplayName: "Coordinator"}}))
	return d, reg
}

func TestValidateStartup(t *testing.T) {
	dispatcher, assistants := startupFixture(t)

	valid := rules.NewRegistry(map[string]*rules.RuleSet{
		"coordinator:default": {
			AssistantKey: "coordinator",
			Active:       true,
			Rules: []rules.Rule{{
				ID:      "r1",
				Enabled: true,
				Trigger: rules.TriggerMessageReceived,
				Actions: []rules.ActionConfig{{Type: "message.send"}},
			}},
		},
	})

	t.Run("valid configuration passes", func(t *testing.T) {
		err := validateStartup(dispatcher, valid, assistants, router.NewAliasMap(nil))
		assert.NoError(t, err)
	})

	t.Run("unknown action type rejected", func(t *testing.T) {
		bad := rules.NewRegistry(map[string]*rules.RuleSet{
			"coordinator:default": {
				AssistantKey: "coordinator",
				Active:       true,
				Rules: []rules.Rule{{
					ID:      "r1",
					Enabled: true,
					Trigger: rules.TriggerMessageReceived,
					Actions: []rules.ActionConfig{{Type: "teleport"}},
				}},
			},
		})
		err := validateStartup(dispatcher, bad, assistants, router.NewAliasMap(nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown action type")
	})

	t.Run("unknown assistant rejected", func(t *testing.T) {
		bad := rules.NewRegistry(map[string]*rules.RuleSet{
			"ghost:default": {AssistantKey: "ghost", Active: true},
		})
		err := validateStartup(dispatcher, bad, assistants, router.NewAliasMap(nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown assistant")
	})

	t.Run("alias cycle rejected", func(t *testing.T) {
		aliases := router.NewAliasMap(map[string]string{
			"front": "desk",
			"desk":  "front",
		})
		err := validateStartup(dispatcher, valid, assistants, aliases)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})
}
