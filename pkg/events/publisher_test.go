package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

func TestInjectEventID(t *testing.T) {
	payload, err := json.Marshal(RunStartedPayload{
		Type:           EventTypeRunStarted,
		RunID:          "run-1",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	body, err := injectEventID(payload, 42)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.InDelta(t, 42, decoded["db_event_id"], 0.001)
	assert.Equal(t, "run-1", decoded["run_id"])
}

func TestTruncateIfNeededPassesSmallPayloads(t *testing.T) {
	body, err := truncateIfNeeded([]byte(`{"type":"run.started"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"run.started"}`, body)
}

func TestTruncateIfNeededBuildsEnvelope(t *testing.T) {
	big := RunCompletedPayload{
		Type:           EventTypeRunCompleted,
		RunID:          "run-1",
		ConversationID: "conv-1",
		Error:          strings.Repeat("x", 10_000),
	}
	payload, err := json.Marshal(big)
	require.NoError(t, err)

	body, err := injectEventID(payload, 7)
	require.NoError(t, err)
	assert.Less(t, len(body), notifyLimit)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, true, decoded["truncated"])
	assert.Equal(t, EventTypeRunCompleted, decoded["type"])
	assert.Equal(t, "conv-1", decoded["conversation_id"])
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.InDelta(t, 7, decoded["db_event_id"], 0.001)
	assert.NotContains(t, decoded, "error")
}

func TestMatchedRuleID(t *testing.T) {
	noMatch := &rules.RunResult{Results: []rules.RuleExecutionResult{
		{RuleID: "r1", Matched: false},
	}}
	assert.Equal(t, "", matchedRuleID(noMatch))

	matched := &rules.RunResult{Results: []rules.RuleExecutionResult{
		{RuleID: "r1", Matched: false},
		{RuleID: "r2", Matched: true},
	}}
	assert.Equal(t, "r2", matchedRuleID(matched))
}
