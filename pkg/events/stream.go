package events

import (
	"context"
	"log/slog"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Stream adapts the publisher to the lifecycle hooks the coordinator and
// router call. Publish failures are logged, never propagated; the
// operational stream must not fail runs.
type Stream struct {
	publisher *EventPublisher
	assistant string
}

func NewStream(publisher *EventPublisher, assistantKey string) *Stream {
	return &Stream{publisher: publisher, assistant: assistantKey}
}

func (s *Stream) RunStarted(ctx context.Context, conversationID, runID, trigger string) {
	err := s.publisher.PublishRunStarted(ctx, RunStartedPayload{
		RunID:          runID,
		ConversationID: conversationID,
		Trigger:        trigger,
		Assistant:      s.assistant,
	})
	if err != nil {
		slog.Warn("Failed to publish run.started", "run_id", runID, "error", err)
	}
}

func (s *Stream) RunCompleted(ctx context.Context, conversationID, runID, outcome string, result *rules.RunResult, runErr error) {
	payload := RunCompletedPayload{
		RunID:          runID,
		ConversationID: conversationID,
		Assistant:      s.assistant,
		Outcome:        outcome,
	}
	if result != nil {
		payload.MatchedRuleID = matchedRuleID(result)
		payload.NewState = string(result.NewState)
		payload.DurationMs = result.DurationMs
	}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	if err := s.publisher.PublishRunCompleted(ctx, payload); err != nil {
		slog.Warn("Failed to publish run.completed", "run_id", runID, "error", err)
	}
}

func (s *Stream) RouteForwarded(ctx context.Context, conversationID, toAssistant, reason string) {
	err := s.publisher.PublishRouteForwarded(ctx, RouteForwardedPayload{
		ConversationID: conversationID,
		FromAssistant:  s.assistant,
		ToAssistant:    toAssistant,
		Reason:         reason,
	})
	if err != nil {
		slog.Warn("Failed to publish route.forwarded", "conversation_id", conversationID, "error", err)
	}
}

func matchedRuleID(result *rules.RunResult) string {
	for _, r := range result.Results {
		if r.Matched {
			return r.RuleID
		}
	}
	return ""
}
