package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard/pkg/actions"
	"github.com/switchboard-io/switchboard/pkg/conversation"
	"github.com/switchboard-io/switchboard/pkg/metrics"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

const (
	defaultRunTimeout   = 45 * time.Second
	defaultMailboxDepth = 256
)

// TokenRefresher re-mints the agent credential after a mid-run auth
// failure. Implemented by clients.AgentTokenSource.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RunEventSink receives run lifecycle notifications for the operational
// event stream. Calls are best-effort; a sink failure never fails the
// run. Implemented by events.Stream.
type RunEventSink interface {
	RunStarted(ctx context.Context, conversationID, runID, trigger string)
	RunCompleted(ctx context.Context, conversationID, runID, outcome string, result *rules.RunResult, runErr error)
}

// Options configures a Coordinator. AssistantKey, RuleSets, Store, and
// Executor are required. Tokens is optional; without it an auth failure
// fails the run instead of triggering a refresh-and-retry.
type Options struct {
	AssistantKey      string
	AssistantEntityID string
	RuleSets          *rules.Registry
	Store             conversation.Store
	Executor          *rules.Executor
	Tokens            TokenRefresher
	RunTimeout        time.Duration
	MailboxDepth      int
	Metrics           *metrics.Set
	Events            RunEventSink
	Logger            *slog.Logger
}

// Coordinator drives engine runs for one assistant. It is the only
// writer of conversation state and context; per-conversation mailboxes
// guarantee that writes and outbound message order are serialized.
type Coordinator struct {
	assistant    rules.AssistantIdentity
	ruleSets     *rules.Registry
	store        conversation.Store
	executor     *rules.Executor
	tokens       TokenRefresher
	runTimeout   time.Duration
	mailboxDepth int
	metrics      *metrics.Set
	events       RunEventSink
	logger       *slog.Logger
	mailboxes    *mailboxSet
	cancels      *cancelRegistry
}

// New creates a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.AssistantKey == "" {
		return nil, fmt.Errorf("coordinator needs an assistant key")
	}
	if opts.RuleSets == nil || opts.Store == nil || opts.Executor == nil {
		return nil, fmt.Errorf("coordinator needs rule sets, a store, and an executor")
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.MailboxDepth <= 0 {
		opts.MailboxDepth = defaultMailboxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		assistant:    rules.AssistantIdentity{Key: opts.AssistantKey, EntityID: opts.AssistantEntityID},
		ruleSets:     opts.RuleSets,
		store:        opts.Store,
		executor:     opts.Executor,
		tokens:       opts.Tokens,
		runTimeout:   opts.RunTimeout,
		mailboxDepth: opts.MailboxDepth,
		metrics:      opts.Metrics,
		events:       opts.Events,
		logger:       logger.With("component", "coordinator", "assistant", opts.AssistantKey),
		cancels:      newCancelRegistry(),
	}
	c.mailboxes = newMailboxSet(opts.MailboxDepth, c.runEnqueued)
	return c, nil
}

// Enqueue hands an event to the conversation's mailbox. A full mailbox
// returns bus.ErrOverloaded so the event bus retries after backoff.
func (c *Coordinator) Enqueue(ctx context.Context, event Event) error {
	if event.ConversationID == "" {
		return fmt.Errorf("event has no conversation id")
	}
	err := c.mailboxes.enqueue(ctx, event)
	if err != nil {
		c.metrics.IncMailboxRejected()
		return err
	}
	c.metrics.SetMailboxDepth(c.assistant.Key, c.mailboxes.depthTotal())
	return nil
}

// CancelConversation aborts the in-flight run for a conversation, used
// when a control event preempts the assistant.
func (c *Coordinator) CancelConversation(conversationID string) {
	c.cancels.cancel(conversationID)
}

// Shutdown stops all mailbox workers and cancels in-flight runs.
func (c *Coordinator) Shutdown() {
	c.cancels.cancelAll()
	c.mailboxes.close()
}

// runEnqueued is the mailbox worker entry point: one run per dequeued
// event, bounded by the run timeout and registered for cancellation.
func (c *Coordinator) runEnqueued(event Event) {
	runCtx, cancel := context.WithTimeout(context.Background(), c.runTimeout)
	c.cancels.register(event.ConversationID, cancel)
	defer c.cancels.unregister(event.ConversationID)
	defer cancel()

	result, err := c.ProcessEvent(runCtx, event)
	if err != nil {
		c.logger.Error("Run failed",
			"conversation_id", event.ConversationID,
			"trigger", event.Trigger,
			"error", err)
		return
	}
	if result.RulesMatched > 0 {
		c.logger.Info("Run complete",
			"run_id", result.RunID,
			"conversation_id", event.ConversationID,
			"rules_matched", result.RulesMatched,
			"new_state", result.NewState,
			"duration_ms", result.DurationMs)
	}
}

// ProcessEvent runs the engine once for an event: rule set lookup with
// default-org fallback, conversation snapshot, execution, then
// persistence of state, merged context, and the run record. A mid-run
// token auth failure refreshes the credential and re-drives the event
// exactly once.
func (c *Coordinator) ProcessEvent(ctx context.Context, event Event) (*rules.RunResult, error) {
	start := time.Now()

	ruleSet, err := c.ruleSets.Get(c.assistant.Key, event.OrgID)
	if errors.Is(err, rules.ErrRuleSetNotFound) {
		// nothing to run; not an error
		return c.emptyResult(event), nil
	}
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	if c.events != nil {
		c.events.RunStarted(ctx, event.ConversationID, runID, string(event.Trigger))
	}

	result, err := c.executeOnce(ctx, event, ruleSet, runID)
	if err != nil && actions.IsTokenAuth(err) && c.tokens != nil {
		c.logger.Warn("Token rejected mid-run, refreshing credential",
			"conversation_id", event.ConversationID)
		if _, refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
			refreshErr = fmt.Errorf("refresh agent token: %w", refreshErr)
			c.finishRun(ctx, event, runID, "error", result, refreshErr, start)
			return result, refreshErr
		}
		result, err = c.executeOnce(ctx, event, ruleSet, runID)
	}
	if err != nil {
		c.finishRun(ctx, event, runID, "error", result, err, start)
		return result, err
	}

	if persistErr := c.persist(ctx, event, result); persistErr != nil {
		c.finishRun(ctx, event, runID, "error", result, persistErr, start)
		return result, persistErr
	}

	outcome := "no_match"
	if result.RulesMatched > 0 {
		outcome = "matched"
	}
	c.finishRun(ctx, event, runID, outcome, result, nil, start)
	return result, nil
}

// finishRun records the run metric and broadcasts the terminal lifecycle
// event.
func (c *Coordinator) finishRun(ctx context.Context, event Event, runID, outcome string, result *rules.RunResult, runErr error, start time.Time) {
	c.metrics.ObserveRun(c.assistant.Key, outcome, time.Since(start).Seconds())
	if c.events != nil {
		c.events.RunCompleted(ctx, event.ConversationID, runID, outcome, result, runErr)
	}
}

// executeOnce builds a fresh execution context from the current
// conversation snapshot and runs the executor. Rebuilding on each
// attempt keeps the retry after a token refresh free of partial
// mutations from the failed attempt.
func (c *Coordinator) executeOnce(ctx context.Context, event Event, ruleSet *rules.RuleSet, runID string) (*rules.RunResult, error) {
	snap, err := c.store.Snapshot(ctx, event.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", event.ConversationID, err)
	}

	ec := c.buildContext(event, snap)
	ec.RunID = runID
	return c.executor.Execute(ctx, ec, ruleSet)
}

func (c *Coordinator) buildContext(event Event, snap conversation.Snapshot) *rules.ExecutionContext {
	eventID := event.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	contextMap := make(map[string]any, len(snap.Context))
	for k, v := range snap.Context {
		contextMap[k] = v
	}
	metadata := map[string]any{}
	if event.TraceID != "" {
		metadata["traceId"] = event.TraceID
	}
	if event.RunID != "" {
		metadata["runId"] = event.RunID
	}

	return &rules.ExecutionContext{
		OrgID:             event.OrgID,
		ConversationID:    event.ConversationID,
		ConversationState: snap.State,
		Trigger:           event.Trigger,
		Event: rules.EventInfo{
			ID:        eventID,
			Type:      event.Type,
			Timestamp: timestamp,
			Data:      event.Data,
		},
		Message:   event.Message,
		User:      event.User,
		Context:   contextMap,
		Metadata:  metadata,
		Assistant: c.assistant,
	}
}

// persist writes the run's effects: the new conversation state when one
// was reached, merged context updates, and the run record.
func (c *Coordinator) persist(ctx context.Context, event Event, result *rules.RunResult) error {
	if result.NewState != "" {
		if err := c.store.SetState(ctx, event.ConversationID, result.NewState); err != nil {
			return fmt.Errorf("persist conversation state: %w", err)
		}
	}

	updates := map[string]any{}
	for _, ruleResult := range result.Results {
		collectContextUpdates(ruleResult.ActionsExecuted, updates)
	}
	if len(updates) > 0 {
		if err := c.store.MergeContext(ctx, event.ConversationID, updates); err != nil {
			return fmt.Errorf("persist conversation context: %w", err)
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	record := conversation.RunRecord{
		RunID:          result.RunID,
		ConversationID: event.ConversationID,
		OrgID:          event.OrgID,
		Trigger:        string(result.Trigger),
		RulesMatched:   result.RulesMatched,
		NewState:       result.NewState,
		DurationMs:     result.DurationMs,
		CreatedAt:      result.Timestamp,
		Payload:        payload,
	}
	if err := c.store.AppendRun(ctx, record); err != nil {
		return fmt.Errorf("append run record: %w", err)
	}
	return nil
}

func (c *Coordinator) emptyResult(event Event) *rules.RunResult {
	return &rules.RunResult{
		RunID:          uuid.NewString(),
		OrgID:          event.OrgID,
		ConversationID: event.ConversationID,
		Trigger:        event.Trigger,
		Timestamp:      time.Now().UTC(),
	}
}

// collectContextUpdates walks executed actions (including those nested
// in condition branches, parallel children, and loop iterations) and
// merges successful context.update outputs last-writer-wins per
// top-level key.
func collectContextUpdates(executed []rules.ActionResult, into map[string]any) {
	for _, a := range executed {
		if !a.Success || a.Output == nil {
			continue
		}
		switch a.ActionType {
		case actions.TypeContextUpdate:
			if values, ok := a.Output["newContext"].(map[string]any); ok {
				for k, v := range values {
					into[k] = v
				}
			}
		case actions.TypeCondition:
			if nested, ok := a.Output["results"].([]rules.ActionResult); ok {
				collectContextUpdates(nested, into)
			}
		case actions.TypeLoop:
			iterations, ok := a.Output["results"].([]map[string]any)
			if !ok {
				continue
			}
			for _, iteration := range iterations {
				if nested, ok := iteration["actions"].([]rules.ActionResult); ok {
					collectContextUpdates(nested, into)
				}
			}
		case actions.TypeParallel:
			children, ok := a.Output["children"].([]map[string]any)
			if !ok {
				continue
			}
			for _, child := range children {
				success, _ := child["success"].(bool)
				actionType, _ := child["actionType"].(string)
				if !success || actionType != actions.TypeContextUpdate {
					continue
				}
				output, _ := child["output"].(map[string]any)
				if values, ok := output["newContext"].(map[string]any); ok {
					for k, v := range values {
						into[k] = v
					}
				}
			}
		}
	}
}
