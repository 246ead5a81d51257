package actions

// End-to-end engine flows: executor + dispatcher + real handlers over
// fake collaborators, covering the core behaviors a rule author relies
// on (matching, priorities, state transitions, routing suppression,
// loop error handling).

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/conversation"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

func scenarioDispatcher(t *testing.T, sender MessageSender, router AssistantRouter) *Dispatcher {
	t.Helper()
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(TypeMessageSend, NewMessageSendHandler(sender)))
	require.NoError(t, d.Register(TypeStateTransition, NewStateTransitionHandler()))
	require.NoError(t, d.Register(TypeContextUpdate, NewContextUpdateHandler()))
	require.NoError(t, d.Register(TypeLoop, NewLoopHandler(d)))
	require.NoError(t, d.Register(TypeCondition, NewConditionHandler(d)))
	require.NoError(t, d.Register(TypeParallel, NewParallelHandler(d)))
	if router != nil {
		require.NoError(t, d.Register(TypeAssistantRoute, NewAssistantRouteHandler(router)))
	}
	return d
}

func scenarioContext(content string) *rules.ExecutionContext {
	ec := testContext()
	ec.Message = &rules.MessageInfo{ID: "m1", Content: content, SenderType: "user"}
	return ec
}

func TestScenarioSimpleMatch(t *testing.T) {
	sender := &fakeSender{}
	executor := rules.NewExecutor(scenarioDispatcher(t, sender, nil))

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{{
		ID: "help", Priority: 10, Enabled: true, Trigger: rules.TriggerMessageReceived,
		Conditions: rules.ConditionGroup{Logic: rules.LogicAnd, Conditions: []rules.ConditionNode{
			{Condition: &rules.Condition{Field: "message.content", Operator: rules.OpContains, Value: "help"}},
		}},
		Actions: []rules.ActionConfig{
			{Type: TypeMessageSend, Params: map[string]any{"content": "here is help"}},
		},
	}}}

	result, err := executor.Execute(context.Background(), scenarioContext("I need help"), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	assert.Empty(t, result.NewState, "state unchanged")
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "here is help", sender.calls[0].Content)
}

func TestScenarioPriorityWins(t *testing.T) {
	sender := &fakeSender{}
	executor := rules.NewExecutor(scenarioDispatcher(t, sender, nil))

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{
		{
			ID: "low", Priority: 5, Enabled: true, Trigger: rules.TriggerMessageReceived,
			Actions: []rules.ActionConfig{{Type: TypeMessageSend, Params: map[string]any{"content": "low"}}},
		},
		{
			ID: "high", Priority: 10, Enabled: true, Trigger: rules.TriggerMessageReceived,
			Actions: []rules.ActionConfig{{Type: TypeMessageSend, Params: map[string]any{"content": "high"}}},
		},
	}}

	result, err := executor.Execute(context.Background(), scenarioContext("anything"), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "high", sender.calls[0].Content)
}

func TestScenarioStateTransition(t *testing.T) {
	executor := rules.NewExecutor(scenarioDispatcher(t, &fakeSender{}, nil))

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{{
		ID: "activate", Priority: 1, Enabled: true, Trigger: rules.TriggerMessageReceived,
		Actions: []rules.ActionConfig{
			{Type: TypeStateTransition, Params: map[string]any{"newState": "ai_active"}},
		},
	}}}

	ec := scenarioContext("hi")
	ec.ConversationState = conversation.StateIdle
	result, err := executor.Execute(context.Background(), ec, rs)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateAIActive, result.NewState)
	assert.Equal(t, conversation.StateAIActive, ec.ConversationState)
}

func TestScenarioIllegalTransition(t *testing.T) {
	executor := rules.NewExecutor(scenarioDispatcher(t, &fakeSender{}, nil))

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{{
		ID: "jump", Priority: 1, Enabled: true, Trigger: rules.TriggerMessageReceived,
		Actions: []rules.ActionConfig{
			{Type: TypeStateTransition, Params: map[string]any{"newState": "agent_active"}},
		},
	}}}

	ec := scenarioContext("hi")
	ec.ConversationState = conversation.StateIdle
	result, err := executor.Execute(context.Background(), ec, rs)
	require.NoError(t, err)
	assert.Empty(t, result.NewState)
	assert.Equal(t, conversation.StateIdle, ec.ConversationState)
	require.Len(t, result.Results, 1)
	require.Len(t, result.Results[0].ActionsExecuted, 1)
	assert.False(t, result.Results[0].ActionsExecuted[0].Success)
	assert.Contains(t, result.Results[0].ActionsExecuted[0].Error, "illegal transition")
}

func TestScenarioRouteSuppressesResponse(t *testing.T) {
	sender := &fakeSender{}
	router := &fakeRouter{}
	executor := rules.NewExecutor(scenarioDispatcher(t, sender, router))

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{{
		ID: "route-logs", Priority: 10, Enabled: true, Trigger: rules.TriggerMessageReceived,
		Conditions: rules.ConditionGroup{Logic: rules.LogicAnd, Conditions: []rules.ConditionNode{
			{Condition: &rules.Condition{Field: "message.content", Operator: rules.OpContains, Value: "logs"}},
		}},
		Actions: []rules.ActionConfig{
			{Type: TypeAssistantRoute, Params: map[string]any{"targetAssistant": "@Logs", "reason": "user asked about logs"}},
			{Type: TypeMessageSend, Params: map[string]any{"content": "I can also help"}},
		},
	}}}

	result, err := executor.Execute(context.Background(), scenarioContext("check the logs"), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	assert.Equal(t, "@Logs", router.target)
	assert.Empty(t, sender.calls, "no outbound message after routing")

	// the send still reports success, as a skipped no-op
	executed := result.Results[0].ActionsExecuted
	require.Len(t, executed, 2)
	assert.True(t, executed[1].Success)
	assert.Equal(t, true, executed[1].Output["skipped"])
}

func TestScenarioLoopContinueOnError(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(TypeLoop, NewLoopHandler(d)))
	require.NoError(t, d.Register("test.check", HandlerFunc(
		func(_ context.Context, _ rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
			if ec.Context["item"] == "b" {
				return nil, Validationf("item %q rejected", "b")
			}
			return map[string]any{"ok": true}, nil
		})))
	executor := rules.NewExecutor(d)

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{{
		ID: "sweep", Priority: 1, Enabled: true, Trigger: rules.TriggerMessageReceived,
		Actions: []rules.ActionConfig{{Type: TypeLoop, Params: map[string]any{
			"items":           []any{"a", "b", "c"},
			"as":              "item",
			"continueOnError": true,
			"actions":         []any{map[string]any{"type": "test.check"}},
		}}},
	}}}

	result, err := executor.Execute(context.Background(), scenarioContext("go"), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)

	executed := result.Results[0].ActionsExecuted
	require.Len(t, executed, 1)
	assert.True(t, executed[0].Success)
	assert.Equal(t, 3, executed[0].Output["iterations"])
	assert.Equal(t, 1, executed[0].Output["failedIterations"])
}

// sendMessage CallOptions carry the acting principal on every scenario
// path above; spot-check the option plumbing once more with metadata.
func TestScenarioSendCarriesCallOptions(t *testing.T) {
	sender := &fakeSender{}
	executor := rules.NewExecutor(scenarioDispatcher(t, sender, nil))

	rs := &rules.RuleSet{AssistantKey: "coordinator", Active: true, Rules: []rules.Rule{{
		ID: "reply", Priority: 1, Enabled: true, Trigger: rules.TriggerMessageReceived,
		Actions: []rules.ActionConfig{
			{Type: TypeMessageSend, Params: map[string]any{"content": "done"}},
		},
	}}}

	ec := scenarioContext("hello")
	ec.Metadata = map[string]any{"traceId": "trace-42"}
	_, err := executor.Execute(context.Background(), ec, rs)
	require.NoError(t, err)
	require.Len(t, sender.opts, 1)
	assert.Equal(t, clients.CallOptions{
		OrgID:    "org-1",
		TraceID:  "trace-42",
		AsUserID: "assistant:coordinator",
	}, sender.opts[0])
}
