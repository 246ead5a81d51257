package actions

import (
	"context"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// defaultRouteContextKey is where routing targets land in conversation
// context when a rule does not name its own key.
const defaultRouteContextKey = "routeTarget"

// AssistantRouter forwards the current message to another assistant.
// Route takes an explicit target key; RouteByEmbedding selects the
// target by comparing the message against indexed assistant
// descriptions, with LLM fallback per the routing profile.
type AssistantRouter interface {
	Route(ctx context.Context, target, reason string, ec *rules.ExecutionContext) (map[string]any, error)
	RouteByEmbedding(ctx context.Context, reason string, ec *rules.ExecutionContext) (map[string]any, error)
}

// AssistantRouteHandler implements the assistant.route action. The
// target comes from params.targetAssistant, or from conversation
// context when fromContext is set (as written there by a prior
// llm.invoke whose JSON answer chose the target).
type AssistantRouteHandler struct {
	router AssistantRouter
}

func NewAssistantRouteHandler(router AssistantRouter) *AssistantRouteHandler {
	return &AssistantRouteHandler{router: router}
}

func (h *AssistantRouteHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	target, err := h.resolveTarget(cfg.Params, ec)
	if err != nil {
		return nil, err
	}
	reason, _ := stringParam(cfg.Params, "reason")

	out, err := h.router.Route(ctx, target, reason, ec)
	if err != nil {
		return nil, err
	}
	// downstream message.send actions in this run become no-ops
	ec.SuppressResponse = true
	return out, nil
}

func (h *AssistantRouteHandler) resolveTarget(params map[string]any, ec *rules.ExecutionContext) (string, error) {
	if target, ok := stringParam(params, "targetAssistant"); ok {
		return target, nil
	}
	if !boolParam(params, "fromContext", false) {
		return "", Validationf("assistant.route needs %q or fromContext=true", "targetAssistant")
	}

	key, ok := stringParam(params, "contextKey")
	if !ok {
		key = defaultRouteContextKey
	}
	raw, ok := ec.Context[key]
	if !ok {
		return "", Validationf("no routing target at context key %q", key)
	}
	switch v := raw.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case map[string]any:
		for _, field := range []string{"assistant", "target", "key"} {
			if s, ok := v[field].(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", Validationf("context key %q does not hold a routing target", key)
}

// EmbeddingRouteHandler implements the embedding.route action.
type EmbeddingRouteHandler struct {
	router AssistantRouter
}

func NewEmbeddingRouteHandler(router AssistantRouter) *EmbeddingRouteHandler {
	return &EmbeddingRouteHandler{router: router}
}

func (h *EmbeddingRouteHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	reason, _ := stringParam(cfg.Params, "reason")
	out, err := h.router.RouteByEmbedding(ctx, reason, ec)
	if err != nil {
		return nil, err
	}
	if routed, _ := out["routed"].(bool); routed {
		ec.SuppressResponse = true
	}
	return out, nil
}
