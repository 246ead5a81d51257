package actions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Handoff handlers build the handoff records for human escalation.
// They are pure record construction: Messaging persists the record when
// it processes the next control event, the core never stores it.

// HandoffCreateHandler implements handoff.create.
type HandoffCreateHandler struct{}

func NewHandoffCreateHandler() *HandoffCreateHandler { return &HandoffCreateHandler{} }

func (h *HandoffCreateHandler) Execute(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	reason, err := requiredString(cfg.Params, "reason")
	if err != nil {
		return nil, err
	}
	priority, ok := stringParam(cfg.Params, "priority")
	if !ok {
		priority = "normal"
	}

	record := map[string]any{
		"id":             uuid.NewString(),
		"conversationId": ec.ConversationID,
		"orgId":          ec.OrgID,
		"reason":         reason,
		"priority":       priority,
		"status":         "pending",
		"requestedBy":    "assistant:" + ec.Assistant.Key,
		"createdAt":      time.Now().UTC().Format(time.RFC3339),
	}
	if queue, ok := stringParam(cfg.Params, "queue"); ok {
		record["queue"] = queue
	}
	return map[string]any{"handoff": record}, nil
}

// HandoffAssignHandler implements handoff.assign.
type HandoffAssignHandler struct{}

func NewHandoffAssignHandler() *HandoffAssignHandler { return &HandoffAssignHandler{} }

func (h *HandoffAssignHandler) Execute(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	handoffID, err := requiredString(cfg.Params, "handoffId")
	if err != nil {
		return nil, err
	}
	agentID, err := requiredString(cfg.Params, "agentId")
	if err != nil {
		return nil, err
	}
	return map[string]any{"handoff": map[string]any{
		"id":             handoffID,
		"conversationId": ec.ConversationID,
		"status":         "assigned",
		"agentId":        agentID,
		"assignedAt":     time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

// HandoffResolveHandler implements handoff.resolve.
type HandoffResolveHandler struct{}

func NewHandoffResolveHandler() *HandoffResolveHandler { return &HandoffResolveHandler{} }

func (h *HandoffResolveHandler) Execute(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	handoffID, err := requiredString(cfg.Params, "handoffId")
	if err != nil {
		return nil, err
	}
	record := map[string]any{
		"id":             handoffID,
		"conversationId": ec.ConversationID,
		"status":         "resolved",
		"resolvedAt":     time.Now().UTC().Format(time.RFC3339),
	}
	if resolution, ok := stringParam(cfg.Params, "resolution"); ok {
		record["resolution"] = resolution
	}
	return map[string]any{"handoff": record}, nil
}
