package actions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Workspace handlers document the return shapes only; provisioning is
// owned by an external service and happens out of band.

// WorkspaceCreateHandler implements workspace.create.
type WorkspaceCreateHandler struct{}

func NewWorkspaceCreateHandler() *WorkspaceCreateHandler { return &WorkspaceCreateHandler{} }

func (h *WorkspaceCreateHandler) Execute(_ context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	template, ok := stringParam(cfg.Params, "template")
	if !ok {
		template = "default"
	}
	return map[string]any{"workspace": map[string]any{
		"id":             uuid.NewString(),
		"conversationId": ec.ConversationID,
		"orgId":          ec.OrgID,
		"template":       template,
		"status":         "requested",
		"requestedAt":    time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

// WorkspaceDestroyHandler implements workspace.destroy.
type WorkspaceDestroyHandler struct{}

func NewWorkspaceDestroyHandler() *WorkspaceDestroyHandler { return &WorkspaceDestroyHandler{} }

func (h *WorkspaceDestroyHandler) Execute(_ context.Context, cfg rules.ActionConfig, _ *rules.ExecutionContext) (map[string]any, error) {
	workspaceID, err := requiredString(cfg.Params, "workspaceId")
	if err != nil {
		return nil, err
	}
	return map[string]any{"workspace": map[string]any{
		"id":          workspaceID,
		"status":      "destroy_requested",
		"requestedAt": time.Now().UTC().Format(time.RFC3339),
	}}, nil
}
