package actions

import (
	"context"

	"github.com/switchboard-io/switchboard/pkg/conversation"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// StateTransitionHandler implements the state.transition action. It
// validates the target against the conversation state machine and
// returns the new state; the coordinator persists it after the run.
type StateTransitionHandler struct{}

func NewStateTransitionHandler() *StateTransitionHandler { return &StateTransitionHandler{} }

func (h *StateTransitionHandler) Execute(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	raw, ok := stringParam(cfg.Params, "targetState")
	if !ok {
		// accept the spellings rule authors tend to reach for
		raw, ok = stringParam(cfg.Params, "newState")
	}
	if !ok {
		raw, ok = stringParam(cfg.Params, "state")
	}
	if !ok {
		return nil, Validationf("missing required param %q", "targetState")
	}

	target := conversation.State(raw)
	if !target.IsValid() {
		return nil, Validationf("unknown conversation state %q", raw)
	}
	if !conversation.CanTransition(ec.ConversationState, target) {
		return nil, Validationf("illegal transition %s -> %s", ec.ConversationState, target)
	}

	return map[string]any{"newState": string(target)}, nil
}
