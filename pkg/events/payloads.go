package events

// RunStartedPayload announces that the coordinator began executing a run
// for a conversation event.
type RunStartedPayload struct {
	Type           string `json:"type"` // always EventTypeRunStarted
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id"`
	Trigger        string `json:"trigger"`
	Assistant      string `json:"assistant"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
}

// RunCompletedPayload is the terminal run event. Outcome is one of
// "matched", "no_match", or "error".
type RunCompletedPayload struct {
	Type           string `json:"type"` // always EventTypeRunCompleted
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id"`
	Assistant      string `json:"assistant"`
	Outcome        string `json:"outcome"`
	MatchedRuleID  string `json:"matched_rule_id,omitempty"`
	NewState       string `json:"new_state,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
}

// RouteForwardedPayload is the transient notice that a conversation was
// handed to another assistant.
type RouteForwardedPayload struct {
	Type           string `json:"type"` // always EventTypeRouteForwarded
	ConversationID string `json:"conversation_id"`
	FromAssistant  string `json:"from_assistant"`
	ToAssistant    string `json:"to_assistant"`
	Reason         string `json:"reason,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
}
