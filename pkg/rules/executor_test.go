package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/conversation"
)

// recordingRunner records executed action types and returns scripted
// results keyed by type.
type recordingRunner struct {
	executed []string
	results  map[string]ActionResult
	errs     map[string]error
}

func (r *recordingRunner) Run(_ context.Context, action ActionConfig, _ *ExecutionContext) (ActionResult, error) {
	r.executed = append(r.executed, action.Type)
	if err, ok := r.errs[action.Type]; ok {
		return ActionResult{ActionType: action.Type, Error: err.Error()}, err
	}
	if result, ok := r.results[action.Type]; ok {
		result.ActionType = action.Type
		return result, nil
	}
	return ActionResult{Success: true, ActionType: action.Type}, nil
}

func execContext(trigger Trigger) *ExecutionContext {
	return &ExecutionContext{
		OrgID:             "org-1",
		ConversationID:    "conv-1",
		ConversationState: conversation.StateIdle,
		Trigger:           trigger,
		Message:           &MessageInfo{ID: "m1", Content: "I need help"},
		Context:           map[string]any{},
		Assistant:         AssistantIdentity{Key: "coordinator"},
	}
}

func enabledRule(id string, priority int, trigger Trigger, actionTypes ...string) Rule {
	r := Rule{ID: id, Name: id, Priority: priority, Enabled: true, Trigger: trigger}
	for _, at := range actionTypes {
		r.Actions = append(r.Actions, ActionConfig{Type: at})
	}
	return r
}

func TestExecuteFirstMatchWins(t *testing.T) {
	runner := &recordingRunner{}
	e := NewExecutor(runner)
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		enabledRule("low", 5, TriggerMessageReceived, "act.low"),
		enabledRule("high", 10, TriggerMessageReceived, "act.high"),
		enabledRule("other", 20, TriggerMessageReceived, "act.other"),
	}}
	// make the highest-priority rule not match
	rs.Rules[2].Conditions = ConditionGroup{Logic: LogicAnd, Conditions: []ConditionNode{
		{Condition: &Condition{Field: "message.content", Operator: OpContains, Value: "nope"}},
	}}

	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	assert.Equal(t, 2, result.RulesEvaluated, "stops after the first match")
	assert.Equal(t, []string{"act.high"}, runner.executed)
}

func TestExecutePriorityTieIsStable(t *testing.T) {
	runner := &recordingRunner{}
	e := NewExecutor(runner)
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		enabledRule("first", 10, TriggerMessageReceived, "act.first"),
		enabledRule("second", 10, TriggerMessageReceived, "act.second"),
	}}

	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	assert.Equal(t, []string{"act.first"}, runner.executed, "declaration order breaks ties")
}

func TestExecuteFiltersTriggerAndDisabled(t *testing.T) {
	runner := &recordingRunner{}
	e := NewExecutor(runner)
	disabled := enabledRule("off", 100, TriggerMessageReceived, "act.off")
	disabled.Enabled = false
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		disabled,
		enabledRule("timer", 50, TriggerTimerElapsed, "act.timer"),
		enabledRule("msg", 1, TriggerMessageReceived, "act.msg"),
	}}

	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), rs)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesEvaluated)
	assert.Equal(t, []string{"act.msg"}, runner.executed)
}

func TestExecuteActionFailureStopsRule(t *testing.T) {
	runner := &recordingRunner{results: map[string]ActionResult{
		"act.fail": {Success: false, Error: "boom"},
	}}
	e := NewExecutor(runner)
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		enabledRule("r1", 10, TriggerMessageReceived, "act.ok", "act.fail", "act.never"),
	}}

	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), rs)
	require.NoError(t, err)
	assert.Equal(t, []string{"act.ok", "act.fail"}, runner.executed)
	require.Len(t, result.Results, 1)
	assert.Len(t, result.Results[0].ActionsExecuted, 2)
	assert.Equal(t, 1, result.RulesMatched, "a failed action does not unmatch the rule")
}

func TestExecuteThreadsStateWithinRun(t *testing.T) {
	runner := &recordingRunner{results: map[string]ActionResult{
		"state.transition": {Success: true, Output: map[string]any{"newState": "ai_active"}},
	}}
	e := NewExecutor(runner)
	ec := execContext(TriggerMessageReceived)
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		enabledRule("r1", 10, TriggerMessageReceived, "state.transition", "act.after"),
	}}

	result, err := e.Execute(context.Background(), ec, rs)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateAIActive, ec.ConversationState, "later actions see the new state")
	assert.Equal(t, conversation.StateAIActive, result.NewState)
}

func TestExecutePropagatesTokenAuth(t *testing.T) {
	authErr := errors.New("token auth failed")
	runner := &recordingRunner{errs: map[string]error{"act.auth": authErr}}
	e := NewExecutor(runner)
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		enabledRule("r1", 10, TriggerMessageReceived, "act.auth"),
	}}

	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), rs)
	require.ErrorIs(t, err, authErr)
	require.NotNil(t, result, "partial results survive for the retry decision")
	require.Len(t, result.Results, 1)
	assert.Equal(t, authErr.Error(), result.Results[0].Error)
}

type panickingRunner struct{}

func (panickingRunner) Run(context.Context, ActionConfig, *ExecutionContext) (ActionResult, error) {
	panic("handler bug")
}

func TestExecuteRecoversPanics(t *testing.T) {
	e := NewExecutor(panickingRunner{})
	rs := &RuleSet{AssistantKey: "coordinator", Active: true, Rules: []Rule{
		enabledRule("r1", 10, TriggerMessageReceived, "act.panic"),
	}}

	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), rs)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.False(t, result.Results[0].Matched)
	assert.False(t, result.Results[0].ConditionsEvaluated)
	assert.Contains(t, result.Results[0].Error, "panicked")
	assert.Zero(t, result.RulesMatched)
}

func TestExecuteNilRuleSet(t *testing.T) {
	e := NewExecutor(&recordingRunner{})
	result, err := e.Execute(context.Background(), execContext(TriggerMessageReceived), nil)
	require.NoError(t, err)
	assert.Zero(t, result.RulesEvaluated)
	assert.NotEmpty(t, result.RunID)
}
