package actions

import (
	"context"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// ContextUpdateHandler implements the context.update action. It does
// not mutate conversation context itself; it returns the new entries
// for the coordinator to merge last-writer-wins per top-level key.
type ContextUpdateHandler struct{}

func NewContextUpdateHandler() *ContextUpdateHandler { return &ContextUpdateHandler{} }

func (h *ContextUpdateHandler) Execute(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	values, ok := mapParam(cfg.Params, "values")
	if !ok {
		values, ok = mapParam(cfg.Params, "context")
	}
	if !ok {
		return nil, Validationf("missing required param %q", "values")
	}

	// later actions in the same run see the update immediately
	if ec.Context == nil {
		ec.Context = map[string]any{}
	}
	newContext := make(map[string]any, len(values))
	for k, v := range values {
		ec.Context[k] = v
		newContext[k] = v
	}
	return map[string]any{"newContext": newContext}, nil
}
