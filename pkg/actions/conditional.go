package actions

import (
	"context"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// ConditionHandler implements the condition action: inline if/else. The
// "if" param is a nested condition group evaluated against the run
// context; exactly one of the "then"/"else" branches executes, its
// actions sequentially with first-failure-stops semantics.
type ConditionHandler struct {
	runner rules.ActionRunner
}

func NewConditionHandler(runner rules.ActionRunner) *ConditionHandler {
	return &ConditionHandler{runner: runner}
}

func (h *ConditionHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	group, err := conditionGroupParam(cfg.Params, "if")
	if err != nil {
		return nil, err
	}

	matched := rules.Evaluate(*group, ec)
	branch := "then"
	if !matched {
		branch = "else"
	}
	children, err := childActions(cfg.Params, branch)
	if err != nil {
		return nil, err
	}

	executed, err := runSequence(ctx, h.runner, children, ec)
	output := map[string]any{
		"matched": matched,
		"branch":  branch,
		"results": executed,
	}
	if err != nil {
		return output, err
	}
	for _, r := range executed {
		if !r.Success {
			return output, Validationf("branch %q action %s failed: %s", branch, r.ActionType, r.Error)
		}
	}
	return output, nil
}

// runSequence executes actions in order, stopping on the first failure
// or propagating error. The results of every executed action are
// returned either way.
func runSequence(ctx context.Context, runner rules.ActionRunner, children []rules.ActionConfig, ec *rules.ExecutionContext) ([]rules.ActionResult, error) {
	results := make([]rules.ActionResult, 0, len(children))
	for _, child := range children {
		result, err := runner.Run(ctx, child, ec)
		results = append(results, result)
		if err != nil {
			return results, err
		}
		if !result.Success {
			break
		}
	}
	return results, nil
}
