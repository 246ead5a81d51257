package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/switchboard-io/switchboard/pkg/conversation"
)

// ActionRunner executes a single action against the execution context.
// Implemented by the action dispatcher. The error return is reserved for
// failures that must escape the rule engine (token auth); ordinary action
// failures are reported through ActionResult.Success.
type ActionRunner interface {
	Run(ctx context.Context, action ActionConfig, ec *ExecutionContext) (ActionResult, error)
}

// stateTransitionType matches the action handlers' registration tag. The
// executor special-cases it to advance the in-run conversation state.
const stateTransitionType = "state.transition"

// Executor runs rule sets against incoming events.
type Executor struct {
	runner ActionRunner
}

// NewExecutor creates a rule executor backed by the given action runner.
func NewExecutor(runner ActionRunner) *Executor {
	return &Executor{runner: runner}
}

// Execute evaluates the rule set for the context's trigger and executes
// the first matching rule's actions in declaration order. At most one rule
// matches per run. Errors during evaluation or execution of a rule are
// absorbed into that rule's result; only propagating errors from the
// action runner (token auth) escape.
func (e *Executor) Execute(ctx context.Context, ec *ExecutionContext, ruleSet *RuleSet) (*RunResult, error) {
	start := time.Now()
	runID := ec.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	result := &RunResult{
		RunID:          runID,
		OrgID:          ec.OrgID,
		ConversationID: ec.ConversationID,
		Trigger:        ec.Trigger,
		Timestamp:      start,
	}

	log := slog.With(
		"run_id", result.RunID,
		"conversation_id", ec.ConversationID,
		"assistant", ec.Assistant.Key,
		"trigger", ec.Trigger,
	)

	candidates := applicableRules(ruleSet, ec.Trigger)
	for _, rule := range candidates {
		ruleResult, err := e.executeRule(ctx, ec, rule)
		if err != nil {
			// Propagating error (token auth): surface partial results so the
			// coordinator can retry the whole event after a refresh.
			result.Results = append(result.Results, ruleResult)
			result.RulesEvaluated++
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}

		result.Results = append(result.Results, ruleResult)
		result.RulesEvaluated++

		if ruleResult.Matched {
			result.RulesMatched++
			if ns := extractNewState(ruleResult.ActionsExecuted); ns != "" {
				result.NewState = ns
			}
			// First-match-wins: later rules are never considered.
			break
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	log.Debug("Run complete",
		"rules_evaluated", result.RulesEvaluated,
		"rules_matched", result.RulesMatched,
		"new_state", result.NewState,
		"duration_ms", result.DurationMs)
	return result, nil
}

// executeRule evaluates one rule's conditions and, on match, runs its
// actions sequentially. The first failed action halts the rest; prior
// successes are preserved. Panics in handlers are recorded as the rule's
// error without failing the run.
func (e *Executor) executeRule(ctx context.Context, ec *ExecutionContext, rule Rule) (result RuleExecutionResult, propagate error) {
	start := time.Now()
	result = RuleExecutionResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Matched = false
			result.ConditionsEvaluated = false
			result.Error = fmt.Sprintf("rule panicked: %v", r)
			result.DurationMs = time.Since(start).Milliseconds()
			propagate = nil
		}
	}()

	result.ConditionsEvaluated = true
	if !Evaluate(rule.Conditions, ec) {
		result.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}
	result.Matched = true

	for _, action := range rule.Actions {
		actionResult, err := e.runner.Run(ctx, action, ec)
		if err != nil {
			result.ActionsExecuted = append(result.ActionsExecuted, actionResult)
			result.Error = err.Error()
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}
		result.ActionsExecuted = append(result.ActionsExecuted, actionResult)

		if actionResult.Success && action.Type == stateTransitionType {
			if ns := stateFromOutput(actionResult.Output); ns != "" {
				// Visible to subsequent actions of this run only; the
				// coordinator persists it after the run completes.
				ec.ConversationState = ns
			}
		}

		if !actionResult.Success {
			// Remaining actions of this rule are skipped.
			break
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// applicableRules filters to enabled rules for the trigger and orders them
// by priority descending. The sort is stable so declaration order breaks
// ties.
func applicableRules(ruleSet *RuleSet, trigger Trigger) []Rule {
	if ruleSet == nil {
		return nil
	}
	rules := make([]Rule, 0, len(ruleSet.Rules))
	for _, r := range ruleSet.Rules {
		if r.Enabled && r.Trigger == trigger {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}

// extractNewState returns the last successful state transition's target.
func extractNewState(actions []ActionResult) conversation.State {
	var newState conversation.State
	for _, a := range actions {
		if a.Success && a.ActionType == stateTransitionType {
			if ns := stateFromOutput(a.Output); ns != "" {
				newState = ns
			}
		}
	}
	return newState
}

func stateFromOutput(output map[string]any) conversation.State {
	if output == nil {
		return ""
	}
	if s, ok := output["newState"].(string); ok {
		return conversation.State(s)
	}
	if s, ok := output["newState"].(conversation.State); ok {
		return s
	}
	return ""
}
