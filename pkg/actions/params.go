package actions

import (
	"encoding/json"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Param extraction helpers. Action params arrive as decoded JSON, so
// numbers are float64 and nested structures are map[string]any.

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}

func requiredString(params map[string]any, key string) (string, error) {
	v, ok := stringParam(params, key)
	if !ok {
		return "", Validationf("missing required param %q", key)
	}
	return v, nil
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func mapParam(params map[string]any, key string) (map[string]any, bool) {
	v, ok := params[key].(map[string]any)
	return v, ok
}

// childActions decodes a list of nested action configs from a param,
// as used by the parallel, condition, and loop handlers.
func childActions(params map[string]any, key string) ([]rules.ActionConfig, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, Validationf("param %q must be a list of actions", key)
	}
	out := make([]rules.ActionConfig, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, Validationf("param %q[%d] must be an action object", key, i)
		}
		actionType, _ := entry["type"].(string)
		if actionType == "" {
			return nil, Validationf("param %q[%d] is missing an action type", key, i)
		}
		childParams, _ := entry["params"].(map[string]any)
		out = append(out, rules.ActionConfig{Type: actionType, Params: childParams})
	}
	return out, nil
}

// conditionGroupParam decodes a nested condition group from a param.
func conditionGroupParam(params map[string]any, key string) (*rules.ConditionGroup, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, Validationf("missing required param %q", key)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, Validationf("param %q is not a condition group: %v", key, err)
	}
	var group rules.ConditionGroup
	if err := json.Unmarshal(encoded, &group); err != nil {
		return nil, Validationf("param %q is not a condition group: %v", key, err)
	}
	return &group, nil
}

// callOptions builds the outbound call identity for one execution
// context.
func callOptions(ec *rules.ExecutionContext) clients.CallOptions {
	opts := clients.CallOptions{OrgID: ec.OrgID}
	if v, ok := ec.Metadata["traceId"].(string); ok {
		opts.TraceID = v
	}
	return opts
}
