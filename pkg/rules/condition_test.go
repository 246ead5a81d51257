package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalContext() *ExecutionContext {
	return &ExecutionContext{
		OrgID:             "org-1",
		ConversationID:    "conv-1",
		ConversationState: "idle",
		Trigger:           TriggerMessageReceived,
		Event: EventInfo{
			ID:        "evt-1",
			Type:      "message.new",
			Timestamp: time.Now(),
			Data:      map[string]any{"channel": "web"},
		},
		Message: &MessageInfo{
			ID:         "msg-1",
			SenderID:   "user-1",
			SenderType: "user",
			Content:    "I need help with my order",
			Metadata:   map[string]any{"lang": "en"},
		},
		User: &UserInfo{ID: "user-1", Name: "Sam", Email: "sam@example.com"},
		Context: map[string]any{
			"attempts": float64(3),
			"tags":     []any{"billing", "urgent"},
			"nested":   map[string]any{"deep": map[string]any{"value": "found"}},
		},
		Assistant: AssistantIdentity{Key: "coordinator"},
	}
}

func leaf(field string, op Operator, value any) ConditionGroup {
	return ConditionGroup{
		Logic:      LogicAnd,
		Conditions: []ConditionNode{{Condition: &Condition{Field: field, Operator: op, Value: value}}},
	}
}

func TestEvaluateOperators(t *testing.T) {
	tests := []struct {
		name  string
		field string
		op    Operator
		value any
		want  bool
	}{
		{"eq string", "message.sender_type", OpEq, "user", true},
		{"eq mismatch", "message.sender_type", OpEq, "agent", false},
		{"eq numeric coercion", "context.attempts", OpEq, 3, true},
		{"neq", "orgId", OpNeq, "org-2", true},
		{"gt", "context.attempts", OpGt, 2, true},
		{"gt false on equal", "context.attempts", OpGt, 3, false},
		{"gte", "context.attempts", OpGte, 3, true},
		{"lt", "context.attempts", OpLt, 10, true},
		{"lte", "context.attempts", OpLte, 2, false},
		{"contains substring", "message.content", OpContains, "help", true},
		{"contains list member", "context.tags", OpContains, "urgent", true},
		{"not_contains", "message.content", OpNotContains, "refund", true},
		{"starts_with", "message.content", OpStartsWith, "I need", true},
		{"ends_with", "message.content", OpEndsWith, "order", true},
		{"matches", "message.content", OpMatches, `(?i)\bhelp\b`, true},
		{"matches invalid pattern is false", "message.content", OpMatches, `[`, false},
		{"not_matches", "message.content", OpNotMatches, `^refund`, true},
		{"in", "message.sender_type", OpIn, []any{"user", "agent"}, true},
		{"not_in", "message.sender_type", OpNotIn, []any{"agent", "system"}, true},
		{"exists", "message.metadata.lang", OpExists, nil, true},
		{"not_exists on missing", "context.missing", OpNotExists, nil, true},
		{"exists on missing", "context.missing", OpExists, nil, false},
		{"gt on non-numeric is false", "message.content", OpGt, 1, false},
		{"missing field fails eq", "context.missing", OpEq, "x", false},
		{"deep path", "context.nested.deep.value", OpEq, "found", true},
		{"path through non-map fails", "message.content.x", OpEq, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(leaf(tt.field, tt.op, tt.value), evalContext()))
		})
	}
}

func TestEvaluateLogic(t *testing.T) {
	trueCond := ConditionNode{Condition: &Condition{Field: "trigger", Operator: OpEq, Value: "message.received"}}
	falseCond := ConditionNode{Condition: &Condition{Field: "trigger", Operator: OpEq, Value: "custom"}}

	assert.True(t, Evaluate(ConditionGroup{Logic: LogicAnd, Conditions: []ConditionNode{trueCond, trueCond}}, evalContext()))
	assert.False(t, Evaluate(ConditionGroup{Logic: LogicAnd, Conditions: []ConditionNode{trueCond, falseCond}}, evalContext()))
	assert.True(t, Evaluate(ConditionGroup{Logic: LogicOr, Conditions: []ConditionNode{falseCond, trueCond}}, evalContext()))
	assert.False(t, Evaluate(ConditionGroup{Logic: LogicOr, Conditions: []ConditionNode{falseCond, falseCond}}, evalContext()))

	// empty group matches; empty or-group does not
	assert.True(t, Evaluate(ConditionGroup{}, evalContext()))
	assert.False(t, Evaluate(ConditionGroup{Logic: LogicOr}, evalContext()))
}

func TestEvaluateNestedGroups(t *testing.T) {
	group := ConditionGroup{
		Logic: LogicAnd,
		Conditions: []ConditionNode{
			{Condition: &Condition{Field: "message.sender_type", Operator: OpEq, Value: "user"}},
			{Group: &ConditionGroup{
				Logic: LogicOr,
				Conditions: []ConditionNode{
					{Condition: &Condition{Field: "message.content", Operator: OpContains, Value: "refund"}},
					{Condition: &Condition{Field: "context.tags", Operator: OpContains, Value: "billing"}},
				},
			}},
		},
	}
	assert.True(t, Evaluate(group, evalContext()))
}

func TestEvaluateMissingMessage(t *testing.T) {
	ec := evalContext()
	ec.Message = nil
	assert.False(t, Evaluate(leaf("message.content", OpContains, "help"), ec))
	assert.True(t, Evaluate(leaf("message.content", OpNotExists, nil), ec))
}

func TestLookupRoots(t *testing.T) {
	ec := evalContext()
	for _, path := range []string{
		"orgId", "conversationId", "conversationState", "trigger",
		"event.id", "event.type", "event.data.channel",
		"message.id", "user.email", "context.attempts",
		"assistant.key",
	} {
		_, found := ec.Lookup(path)
		assert.True(t, found, "path %q", path)
	}
	_, found := ec.Lookup("")
	assert.False(t, found)
	_, found = ec.Lookup("unknownRoot.field")
	assert.False(t, found)
}

func TestConditionNodeJSONRoundTrip(t *testing.T) {
	raw := []byte(`{
		"logic": "and",
		"conditions": [
			{"field": "message.content", "operator": "contains", "value": "help"},
			{"logic": "or", "conditions": [
				{"field": "context.vip", "operator": "exists"}
			]}
		]
	}`)
	var group ConditionGroup
	require.NoError(t, json.Unmarshal(raw, &group))
	require.Len(t, group.Conditions, 2)
	require.NotNil(t, group.Conditions[0].Condition)
	assert.Equal(t, OpContains, group.Conditions[0].Condition.Operator)
	require.NotNil(t, group.Conditions[1].Group)
	assert.Equal(t, LogicOr, group.Conditions[1].Group.Logic)

	out, err := json.Marshal(group)
	require.NoError(t, err)
	var again ConditionGroup
	require.NoError(t, json.Unmarshal(out, &again))
	ec := evalContext()
	ec.Context["vip"] = true
	assert.True(t, Evaluate(again, ec))
}
