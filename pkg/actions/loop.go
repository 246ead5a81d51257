package actions

import (
	"context"
	"strings"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// defaultMaxIterations caps runaway loops when the rule author does not
// set an explicit bound.
const defaultMaxIterations = 100

// LoopHandler implements the loop action. It iterates an array taken
// either inline from params.items or resolved from a dotted context
// path, binding params.as (required) and params.index (optional) into a
// shallow-cloned context per iteration so bindings never leak into the
// outer run.
type LoopHandler struct {
	runner rules.ActionRunner
}

func NewLoopHandler(runner rules.ActionRunner) *LoopHandler {
	return &LoopHandler{runner: runner}
}

func (h *LoopHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	as, err := requiredString(cfg.Params, "as")
	if err != nil {
		return nil, err
	}
	indexKey, _ := stringParam(cfg.Params, "index")

	items, err := h.resolveItems(cfg.Params, ec)
	if err != nil {
		return nil, err
	}

	children, err := childActions(cfg.Params, "actions")
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, Validationf("param %q must list at least one action", "actions")
	}

	maxIterations := intParam(cfg.Params, "maxIterations", defaultMaxIterations)
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	continueOnError := boolParam(cfg.Params, "continueOnError", false)

	iterations := 0
	failures := 0
	var iterationOutputs []map[string]any

	for i, item := range items {
		if iterations >= maxIterations {
			break
		}
		iterations++

		scoped := ec.Clone()
		scoped.Context[as] = item
		if indexKey != "" {
			scoped.Context[indexKey] = i
		}

		executed, err := runSequence(ctx, h.runner, children, scoped)
		if err != nil {
			return loopOutput(iterations, failures, iterationOutputs), err
		}

		failed := false
		for _, r := range executed {
			if !r.Success {
				failed = true
				break
			}
		}
		// carry child results so the coordinator can harvest nested
		// context.update outputs from inside the loop body
		iterationOutputs = append(iterationOutputs, map[string]any{
			"index":   i,
			"success": !failed,
			"actions": executed,
		})
		if failed {
			failures++
			if !continueOnError {
				return loopOutput(iterations, failures, iterationOutputs),
					Validationf("loop stopped at iteration %d after action failure", i)
			}
		}
	}

	// partial failures under continueOnError are a success with the
	// failed iterations reported in the output
	out := loopOutput(iterations, failures, iterationOutputs)
	if failures > 0 && failures == iterations {
		return out, Validationf("all %d loop iterations failed", iterations)
	}
	return out, nil
}

func (h *LoopHandler) resolveItems(params map[string]any, ec *rules.ExecutionContext) ([]any, error) {
	if raw, ok := params["items"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, Validationf("param %q must be an array", "items")
		}
		return items, nil
	}
	path, ok := stringParam(params, "path")
	if !ok {
		return nil, Validationf("loop needs either %q or %q", "items", "path")
	}
	value, found := ec.Lookup(strings.TrimSpace(path))
	if !found {
		return nil, Validationf("loop path %q not found in context", path)
	}
	items, ok := value.([]any)
	if !ok {
		return nil, Validationf("loop path %q does not resolve to an array", path)
	}
	return items, nil
}

func loopOutput(iterations, failures int, results []map[string]any) map[string]any {
	return map[string]any{
		"iterations":       iterations,
		"failedIterations": failures,
		"results":          results,
	}
}
