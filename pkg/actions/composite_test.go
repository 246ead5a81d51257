package actions

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// compositeDispatcher builds a dispatcher with the composite handlers
// plus a few simple leaf actions for them to drive.
func compositeDispatcher(t *testing.T) (*Dispatcher, *atomic.Int32) {
	t.Helper()
	d := NewDispatcher(nil)
	var executed atomic.Int32

	require.NoError(t, d.Register("record", HandlerFunc(func(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
		executed.Add(1)
		return map[string]any{"item": ec.Context["item"], "idx": ec.Context["i"]}, nil
	})))
	require.NoError(t, d.Register("fail", HandlerFunc(func(context.Context, rules.ActionConfig, *rules.ExecutionContext) (map[string]any, error) {
		executed.Add(1)
		return nil, Validationf("always fails")
	})))
	require.NoError(t, d.Register("parallel", NewParallelHandler(d)))
	require.NoError(t, d.Register("condition", NewConditionHandler(d)))
	require.NoError(t, d.Register("loop", NewLoopHandler(d)))
	return d, &executed
}

func action(actionType string, params map[string]any) map[string]any {
	return map[string]any{"type": actionType, "params": params}
}

func TestParallel_AllChildrenSucceed(t *testing.T) {
	d, executed := compositeDispatcher(t)

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "parallel",
		Params: map[string]any{
			"actions": []any{action("record", nil), action("record", nil), action("record", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), executed.Load())

	children := result.Output["children"].([]map[string]any)
	assert.Len(t, children, 3)
}

func TestParallel_PartialFailureReportsPerChild(t *testing.T) {
	d, _ := compositeDispatcher(t)

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "parallel",
		Params: map[string]any{
			"actions": []any{action("record", nil), action("fail", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "1 of 2 parallel actions failed")

	children := result.Output["children"].([]map[string]any)
	require.Len(t, children, 2)
	assert.Equal(t, true, children[0]["success"])
	assert.Equal(t, false, children[1]["success"])
}

func TestParallel_ChildPanicBecomesFailedResult(t *testing.T) {
	d, _ := compositeDispatcher(t)
	require.NoError(t, d.Register("explode", HandlerFunc(func(context.Context, rules.ActionConfig, *rules.ExecutionContext) (map[string]any, error) {
		panic("boom")
	})))

	var result rules.ActionResult
	var err error
	require.NotPanics(t, func() {
		result, err = d.Run(context.Background(), rules.ActionConfig{
			Type: "parallel",
			Params: map[string]any{
				"actions": []any{action("record", nil), action("explode", nil)},
			},
		}, testContext())
	})
	require.NoError(t, err)
	assert.False(t, result.Success)

	children := result.Output["children"].([]map[string]any)
	require.Len(t, children, 2)
	assert.Equal(t, true, children[0]["success"])
	assert.Equal(t, false, children[1]["success"])
	assert.Contains(t, children[1]["error"], "panicked")
}

func TestCondition_PicksBranch(t *testing.T) {
	d, _ := compositeDispatcher(t)
	ec := testContext()
	ec.Context["tier"] = "pro"

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "condition",
		Params: map[string]any{
			"if": map[string]any{
				"logic": "and",
				"conditions": []any{
					map[string]any{"field": "context.tier", "operator": "eq", "value": "pro"},
				},
			},
			"then": []any{action("record", nil)},
			"else": []any{action("fail", nil)},
		},
	}, ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Output["matched"])
	assert.Equal(t, "then", result.Output["branch"])
}

func TestCondition_ElseBranchOnNoMatch(t *testing.T) {
	d, executed := compositeDispatcher(t)

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "condition",
		Params: map[string]any{
			"if": map[string]any{
				"logic": "and",
				"conditions": []any{
					map[string]any{"field": "context.missing", "operator": "exists"},
				},
			},
			"then": []any{action("fail", nil)},
			"else": []any{action("record", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "else", result.Output["branch"])
	assert.Equal(t, int32(1), executed.Load())
}

func TestLoop_BindsItemAndIndexInClonedContext(t *testing.T) {
	d, executed := compositeDispatcher(t)
	ec := testContext()

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "loop",
		Params: map[string]any{
			"items":   []any{"a", "b", "c"},
			"as":      "item",
			"index":   "i",
			"actions": []any{action("record", nil)},
		},
	}, ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Output["iterations"])
	assert.Equal(t, int32(3), executed.Load())

	// bindings never leak into the outer run context
	_, hasItem := ec.Context["item"]
	_, hasIndex := ec.Context["i"]
	assert.False(t, hasItem)
	assert.False(t, hasIndex)
}

func TestLoop_OutputCarriesChildResults(t *testing.T) {
	d, _ := compositeDispatcher(t)

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "loop",
		Params: map[string]any{
			"items":   []any{"a", "b"},
			"as":      "item",
			"actions": []any{action("record", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	require.True(t, result.Success)

	iterations := result.Output["results"].([]map[string]any)
	require.Len(t, iterations, 2)
	for i, iteration := range iterations {
		assert.Equal(t, i, iteration["index"])
		assert.Equal(t, true, iteration["success"])
		nested, ok := iteration["actions"].([]rules.ActionResult)
		require.True(t, ok)
		require.Len(t, nested, 1)
		assert.Equal(t, "record", nested[0].ActionType)
		assert.True(t, nested[0].Success)
	}
}

func TestLoop_ResolvesItemsFromContextPath(t *testing.T) {
	d, executed := compositeDispatcher(t)
	ec := testContext()
	ec.Context["pending"] = []any{"x", "y"}

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "loop",
		Params: map[string]any{
			"path":    "context.pending",
			"as":      "item",
			"actions": []any{action("record", nil)},
		},
	}, ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), executed.Load())
}

func TestLoop_MaxIterationsCap(t *testing.T) {
	d, executed := compositeDispatcher(t)

	items := make([]any, 10)
	for i := range items {
		items[i] = i
	}
	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "loop",
		Params: map[string]any{
			"items":         items,
			"as":            "item",
			"maxIterations": float64(4),
			"actions":       []any{action("record", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Output["iterations"])
	assert.Equal(t, int32(4), executed.Load())
}

func TestLoop_ContinueOnError(t *testing.T) {
	d, _ := compositeDispatcher(t)

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "loop",
		Params: map[string]any{
			"items":           []any{"a", "b"},
			"as":              "item",
			"continueOnError": true,
			"actions":         []any{action("fail", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	assert.False(t, result.Success, "all iterations failing fails the action")
	assert.Equal(t, 2, result.Output["iterations"])
	assert.Equal(t, 2, result.Output["failedIterations"])
}

func TestLoop_StopsOnFirstFailureByDefault(t *testing.T) {
	d, executed := compositeDispatcher(t)

	result, err := d.Run(context.Background(), rules.ActionConfig{
		Type: "loop",
		Params: map[string]any{
			"items":   []any{"a", "b", "c"},
			"as":      "item",
			"actions": []any{action("fail", nil)},
		},
	}, testContext())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, int32(1), executed.Load())
}
