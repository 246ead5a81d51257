package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// ParallelHandler implements the parallel action: run child actions
// concurrently and join. The action succeeds only if every child
// succeeds; partial failures report per-child results with an overall
// failure. Children share the run context but each gets its own
// shallow clone, so context.update writes do not race.
type ParallelHandler struct {
	runner rules.ActionRunner
}

func NewParallelHandler(runner rules.ActionRunner) *ParallelHandler {
	return &ParallelHandler{runner: runner}
}

func (h *ParallelHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	children, err := childActions(cfg.Params, "actions")
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, Validationf("param %q must list at least one action", "actions")
	}

	results := make([]rules.ActionResult, len(children))
	errs := make([]error, len(children))

	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(i int, child rules.ActionConfig) {
			defer wg.Done()
			// a panicking child must not take the process down; the
			// rule-level recover only covers the parent goroutine
			defer func() {
				if r := recover(); r != nil {
					results[i] = rules.ActionResult{
						ActionType: child.Type,
						Error:      fmt.Sprintf("action panicked: %v", r),
					}
					errs[i] = nil
				}
			}()
			results[i], errs[i] = h.runner.Run(ctx, child, ec.Clone())
		}(i, child)
	}
	wg.Wait()

	// a token auth failure in any child outranks ordinary failures
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	allOK := true
	childOutputs := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if !r.Success {
			allOK = false
		}
		childOutputs = append(childOutputs, map[string]any{
			"actionType": r.ActionType,
			"success":    r.Success,
			"output":     r.Output,
			"error":      r.Error,
			"durationMs": r.DurationMs,
		})
	}

	output := map[string]any{"children": childOutputs}
	if !allOK {
		return output, Validationf("%d of %d parallel actions failed", countFailures(results), len(results))
	}
	return output, nil
}

func countFailures(results []rules.ActionResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
