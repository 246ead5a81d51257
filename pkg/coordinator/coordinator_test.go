package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/actions"
	"github.com/switchboard-io/switchboard/pkg/bus"
	"github.com/switchboard-io/switchboard/pkg/conversation"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// scriptedRunner returns canned results per action type, failing with a
// queued error first when one is scripted.
type scriptedRunner struct {
	mu       sync.Mutex
	calls    int
	failures []error
	outputs  map[string]map[string]any
}

func (r *scriptedRunner) Run(_ context.Context, action rules.ActionConfig, _ *rules.ExecutionContext) (rules.ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		if err != nil {
			return rules.ActionResult{ActionType: action.Type, Error: err.Error()}, err
		}
	}
	output := r.outputs[action.Type]
	return rules.ActionResult{Success: true, ActionType: action.Type, Output: output}, nil
}

type countingRefresher struct {
	mu    sync.Mutex
	count int
}

func (c *countingRefresher) Refresh(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return "fresh-token", nil
}

func testRuleSet(actionTypes ...string) *rules.RuleSet {
	rule := rules.Rule{
		ID:      "r1",
		Name:    "greet",
		Enabled: true,
		Trigger: rules.TriggerMessageReceived,
	}
	for _, at := range actionTypes {
		rule.Actions = append(rule.Actions, rules.ActionConfig{Type: at})
	}
	return &rules.RuleSet{
		AssistantKey: "coordinator",
		Version:      1,
		Active:       true,
		Rules:        []rules.Rule{rule},
	}
}

func newTestCoordinator(t *testing.T, runner rules.ActionRunner, rs *rules.RuleSet, tokens TokenRefresher) (*Coordinator, *conversation.MemoryStore) {
	t.Helper()
	sets := map[string]*rules.RuleSet{}
	if rs != nil {
		sets[rs.Key()] = rs
	}
	store := conversation.NewMemoryStore()
	c, err := New(Options{
		AssistantKey: "coordinator",
		RuleSets:     rules.NewRegistry(sets),
		Store:        store,
		Executor:     rules.NewExecutor(runner),
		Tokens:       tokens,
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c, store
}

func testEvent() Event {
	return Event{
		ID:             "evt-1",
		Type:           bus.EventMessageNew,
		Trigger:        rules.TriggerMessageReceived,
		ConversationID: "conv-1",
		OrgID:          "org-1",
		TraceID:        "trace-1",
		Message:        &rules.MessageInfo{ID: "msg-1", Content: "hello", SenderType: "user"},
		Timestamp:      time.Now().UTC(),
	}
}

func TestProcessEventPersistsRun(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]map[string]any{
		actions.TypeStateTransition: {"newState": "ai_active"},
		actions.TypeContextUpdate:   {"newContext": map[string]any{"topic": "logs"}},
	}}
	c, store := newTestCoordinator(t, runner,
		testRuleSet(actions.TypeStateTransition, actions.TypeContextUpdate), nil)

	result, err := c.ProcessEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	assert.Equal(t, conversation.StateAIActive, result.NewState)

	snap, err := store.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateAIActive, snap.State)
	assert.Equal(t, "logs", snap.Context["topic"])

	runs, err := store.Runs(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].RunID)

	var persisted rules.RunResult
	require.NoError(t, json.Unmarshal(runs[0].Payload, &persisted))
	assert.Equal(t, result.RunID, persisted.RunID)
	assert.Len(t, persisted.Results, 1)
}

func TestProcessEventNoRuleSet(t *testing.T) {
	c, store := newTestCoordinator(t, &scriptedRunner{}, nil, nil)

	result, err := c.ProcessEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Zero(t, result.RulesMatched)
	assert.Zero(t, result.RulesEvaluated)

	runs, err := store.Runs(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "empty runs are not persisted")
}

func TestProcessEventRefreshesTokenOnce(t *testing.T) {
	runner := &scriptedRunner{
		failures: []error{&actions.TokenAuthError{Err: errors.New("expired")}},
		outputs: map[string]map[string]any{
			actions.TypeContextUpdate: {"newContext": map[string]any{"ok": true}},
		},
	}
	tokens := &countingRefresher{}
	c, store := newTestCoordinator(t, runner, testRuleSet(actions.TypeContextUpdate), tokens)

	result, err := c.ProcessEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesMatched)
	assert.Equal(t, 1, tokens.count)

	snap, err := store.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, true, snap.Context["ok"])
}

func TestProcessEventSecondAuthFailureFails(t *testing.T) {
	runner := &scriptedRunner{failures: []error{
		&actions.TokenAuthError{Err: errors.New("expired")},
		&actions.TokenAuthError{Err: errors.New("still expired")},
	}}
	tokens := &countingRefresher{}
	c, _ := newTestCoordinator(t, runner, testRuleSet(actions.TypeContextUpdate), tokens)

	_, err := c.ProcessEvent(context.Background(), testEvent())
	require.Error(t, err)
	assert.True(t, actions.IsTokenAuth(err))
	assert.Equal(t, 1, tokens.count, "refresh happens exactly once")
}

func TestProcessEventCollectsNestedContextUpdates(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]map[string]any{
		actions.TypeParallel: {"children": []map[string]any{
			{
				"actionType": actions.TypeContextUpdate,
				"success":    true,
				"output":     map[string]any{"newContext": map[string]any{"a": 1}},
			},
			{
				"actionType": actions.TypeContextUpdate,
				"success":    false,
				"output":     map[string]any{"newContext": map[string]any{"b": 2}},
			},
		}},
		actions.TypeCondition: {"results": []rules.ActionResult{{
			Success:    true,
			ActionType: actions.TypeContextUpdate,
			Output:     map[string]any{"newContext": map[string]any{"c": 3}},
		}}},
	}}
	c, store := newTestCoordinator(t, runner,
		testRuleSet(actions.TypeParallel, actions.TypeCondition), nil)

	_, err := c.ProcessEvent(context.Background(), testEvent())
	require.NoError(t, err)

	snap, err := store.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Context["a"])
	assert.Equal(t, 3, snap.Context["c"])
	assert.NotContains(t, snap.Context, "b", "failed children are ignored")
}

func TestProcessEventCollectsLoopContextUpdates(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]map[string]any{
		actions.TypeLoop: {
			"iterations":       2,
			"failedIterations": 0,
			"results": []map[string]any{
				{"index": 0, "success": true, "actions": []rules.ActionResult{{
					Success:    true,
					ActionType: actions.TypeContextUpdate,
					Output:     map[string]any{"newContext": map[string]any{"seen": "first"}},
				}}},
				{"index": 1, "success": true, "actions": []rules.ActionResult{{
					Success:    true,
					ActionType: actions.TypeContextUpdate,
					Output:     map[string]any{"newContext": map[string]any{"seen": "second", "count": 2}},
				}}},
			},
		},
	}}
	c, store := newTestCoordinator(t, runner, testRuleSet(actions.TypeLoop), nil)

	_, err := c.ProcessEvent(context.Background(), testEvent())
	require.NoError(t, err)

	snap, err := store.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "second", snap.Context["seen"], "later iterations win")
	assert.Equal(t, 2, snap.Context["count"])
}

func TestEnqueueSerializesPerConversation(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := rulesRunnerFunc(func(_ context.Context, action rules.ActionConfig, ec *rules.ExecutionContext) (rules.ActionResult, error) {
		mu.Lock()
		order = append(order, ec.Event.ID)
		mu.Unlock()
		return rules.ActionResult{Success: true, ActionType: action.Type}, nil
	})
	c, _ := newTestCoordinator(t, runner, testRuleSet(actions.TypeContextUpdate), nil)

	for i := 0; i < 5; i++ {
		event := testEvent()
		event.ID = string(rune('a' + i))
		require.NoError(t, c.Enqueue(context.Background(), event))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
}

func TestEnqueueOverload(t *testing.T) {
	block := make(chan struct{})
	runner := rulesRunnerFunc(func(context.Context, rules.ActionConfig, *rules.ExecutionContext) (rules.ActionResult, error) {
		<-block
		return rules.ActionResult{Success: true}, nil
	})
	sets := map[string]*rules.RuleSet{}
	rs := testRuleSet(actions.TypeContextUpdate)
	sets[rs.Key()] = rs
	c, err := New(Options{
		AssistantKey: "coordinator",
		RuleSets:     rules.NewRegistry(sets),
		Store:        conversation.NewMemoryStore(),
		Executor:     rules.NewExecutor(runner),
		MailboxDepth: 2,
	})
	require.NoError(t, err)
	defer close(block)
	t.Cleanup(c.Shutdown)

	// first event occupies the worker; two more fill the mailbox
	require.NoError(t, c.Enqueue(context.Background(), testEvent()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Enqueue(context.Background(), testEvent()))
	require.NoError(t, c.Enqueue(context.Background(), testEvent()))

	err = c.Enqueue(context.Background(), testEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrOverloaded)
}

func TestEventFromEnvelope(t *testing.T) {
	env := bus.MessageEnvelope{
		Type:           bus.EventMessageNew,
		ConversationID: "conv-9",
		OrgID:          "org-9",
		RunID:          "run-9",
		TraceID:        "trace-9",
		Message: bus.MessagePayload{
			ID:         "msg-9",
			SenderID:   "user-9",
			SenderType: "user",
			Content:    "hi",
		},
	}
	event := EventFromEnvelope(env)
	assert.Equal(t, rules.TriggerMessageReceived, event.Trigger)
	assert.Equal(t, "conv-9", event.ConversationID)
	assert.Equal(t, "org-9", event.OrgID)
	assert.NotEmpty(t, event.ID)
	require.NotNil(t, event.Message)
	assert.Equal(t, "msg-9", event.Message.ID)
}

// rulesRunnerFunc adapts a function to rules.ActionRunner.
type rulesRunnerFunc func(ctx context.Context, action rules.ActionConfig, ec *rules.ExecutionContext) (rules.ActionResult, error)

func (f rulesRunnerFunc) Run(ctx context.Context, action rules.ActionConfig, ec *rules.ExecutionContext) (rules.ActionResult, error) {
	return f(ctx, action, ec)
}
