// Package conversation defines the per-conversation state machine and the
// stores for conversation state, the rule-visible context map, and the
// append-only run log.
package conversation

// State is the lifecycle state of a conversation. The authoritative copy
// lives in the Messaging service; this engine tracks its own view and only
// advances it through validated state.transition actions.
type State string

const (
	StateIdle           State = "idle"
	StateAIActive       State = "ai_active"
	StateWaitingForUser State = "waiting_for_user"
	StateHandoffPending State = "handoff_pending"
	StateAgentActive    State = "agent_active"
	StateResolved       State = "resolved"
	StateArchived       State = "archived"
)

// IsValid checks if the state is a known conversation state.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateAIActive, StateWaitingForUser, StateHandoffPending,
		StateAgentActive, StateResolved, StateArchived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions leave this state
// (archiving excepted — any state may be archived).
func (s State) IsTerminal() bool {
	return s == StateResolved || s == StateArchived
}

// legalTransitions is the closed set of allowed state changes. Archiving
// is handled separately: any state except archived may move to archived.
var legalTransitions = map[State][]State{
	StateIdle:           {StateAIActive, StateWaitingForUser},
	StateAIActive:       {StateAIActive, StateWaitingForUser, StateHandoffPending, StateResolved},
	StateWaitingForUser: {StateAIActive, StateHandoffPending, StateResolved},
	StateHandoffPending: {StateAgentActive, StateAIActive},
	StateAgentActive:    {StateResolved, StateHandoffPending},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if to == StateArchived {
		return from != StateArchived
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
