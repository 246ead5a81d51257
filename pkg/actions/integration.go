package actions

import (
	"context"
	"strings"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// IntegrationInvokeHandler implements the integration.invoke action:
// dispatch an arbitrary provider operation by dotted namespace, e.g.
// "openai.chat.completions" or "github.issues.create".
type IntegrationInvokeHandler struct {
	integrations *clients.Integrations
}

func NewIntegrationInvokeHandler(integrations *clients.Integrations) *IntegrationInvokeHandler {
	return &IntegrationInvokeHandler{integrations: integrations}
}

func (h *IntegrationInvokeHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	operation, err := requiredString(cfg.Params, "operation")
	if err != nil {
		return nil, err
	}
	provider, _, found := strings.Cut(operation, ".")
	if !found || provider == "" {
		return nil, Validationf("operation %q is not a dotted namespace", operation)
	}

	params, _ := mapParam(cfg.Params, "params")
	req := clients.InvokeRequest{
		Provider:  provider,
		Operation: operation,
		Params:    params,
		TimeoutMs: intParam(cfg.Params, "timeoutMs", 0),
	}
	if model, ok := stringParam(cfg.Params, "model"); ok {
		req.Model = model
	}

	result, err := h.integrations.Invoke(ctx, req, callOptions(ec))
	if err != nil {
		if clients.IsAuthError(err) {
			return nil, &TokenAuthError{Err: err}
		}
		return nil, err
	}
	return map[string]any{
		"provider":     result.Provider,
		"model":        result.Model,
		"content":      result.Content,
		"finishReason": result.FinishReason,
		"metadata":     result.Metadata,
	}, nil
}
