package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/switchboard-io/switchboard/pkg/metrics"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Handler executes one action type. Output carries handler-specific
// results (e.g. newState, newContext, routed). An ordinary failure is
// returned as an *ActionError; a *TokenAuthError propagates past the rule
// engine. Handlers must respect ctx cancellation at every blocking point.
type Handler interface {
	Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error)

// Execute calls the wrapped function.
func (f HandlerFunc) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	return f(ctx, cfg, ec)
}

// Dispatcher routes actions to their registered handlers and measures
// every execution. It implements rules.ActionRunner.
type Dispatcher struct {
	handlers map[string]Handler
	metrics  *metrics.Set
	sealed   bool
}

// NewDispatcher creates an empty dispatcher. Metrics may be nil.
func NewDispatcher(m *metrics.Set) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		metrics:  m,
	}
}

// Register installs a handler for an action type. Duplicate registration
// is a programming error and refuses startup.
func (d *Dispatcher) Register(actionType string, h Handler) error {
	if d.sealed {
		return fmt.Errorf("dispatcher is sealed; cannot register %q", actionType)
	}
	if actionType == "" {
		return fmt.Errorf("action type must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", actionType)
	}
	if _, exists := d.handlers[actionType]; exists {
		return fmt.Errorf("handler for %q already registered", actionType)
	}
	d.handlers[actionType] = h
	return nil
}

// Seal freezes the handler table. Called once after startup registration
// so the hot path reads the map without synchronization.
func (d *Dispatcher) Seal() {
	d.sealed = true
}

// Types returns the registered action types, sorted.
func (d *Dispatcher) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Has reports whether a handler is registered for the action type.
func (d *Dispatcher) Has(actionType string) bool {
	_, ok := d.handlers[actionType]
	return ok
}

// Run executes one action and wraps the outcome in a uniform, timed
// ActionResult. Unknown action types yield a failure result, never an
// error. Only token-auth failures are returned as errors.
func (d *Dispatcher) Run(ctx context.Context, action rules.ActionConfig, ec *rules.ExecutionContext) (rules.ActionResult, error) {
	start := time.Now()
	result := rules.ActionResult{ActionType: action.Type}

	handler, ok := d.handlers[action.Type]
	if !ok {
		result.Error = fmt.Sprintf("unknown action type %q", action.Type)
		result.DurationMs = time.Since(start).Milliseconds()
		d.metrics.ObserveAction(action.Type, "unknown", time.Since(start).Seconds())
		return result, nil
	}

	output, err := handler.Execute(ctx, action, ec)
	result.DurationMs = time.Since(start).Milliseconds()
	result.Output = output

	if err != nil {
		if IsTokenAuth(err) {
			result.Error = err.Error()
			d.metrics.ObserveAction(action.Type, "token_auth", time.Since(start).Seconds())
			return result, err
		}
		result.Error = err.Error()
		d.metrics.ObserveAction(action.Type, "failure", time.Since(start).Seconds())
		slog.Debug("Action failed",
			"action", action.Type,
			"conversation_id", ec.ConversationID,
			"error", err)
		return result, nil
	}

	result.Success = true
	d.metrics.ObserveAction(action.Type, "success", time.Since(start).Seconds())
	return result, nil
}
