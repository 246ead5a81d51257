package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Integrations is the client for the Integrations service, which fronts
// LLM and embedding providers behind one normalized invoke surface.
type Integrations struct {
	base  *baseClient
	retry RetryPolicy
}

// NewIntegrations creates an Integrations client.
func NewIntegrations(baseURL, serviceID string, tokens TokenProvider, timeout time.Duration) *Integrations {
	return &Integrations{
		base:  newBaseClient("integrations", baseURL, serviceID, tokens, timeout),
		retry: DefaultRetryPolicy(),
	}
}

// WithRetryPolicy returns a copy using the given policy. Actions derive
// the policy from their resolved reliability section.
func (c *Integrations) WithRetryPolicy(policy RetryPolicy) *Integrations {
	clone := *c
	clone.retry = policy
	return &clone
}

// Invoke performs a generic provider operation by dotted namespace.
func (c *Integrations) Invoke(ctx context.Context, req InvokeRequest, opts CallOptions) (*InvokeResult, error) {
	var out InvokeResult
	err := withRetry(ctx, c.retry, func() error {
		return c.base.doJSON(ctx, http.MethodPost, "/api/invoke", req, &out, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", req.Operation, err)
	}
	out.FinishReason = NormalizeFinishReason(out.FinishReason)
	return &out, nil
}

// ChatCompletion invokes the chat completion operation for a provider.
func (c *Integrations) ChatCompletion(ctx context.Context, provider, model string, params map[string]any, timeoutMs int, opts CallOptions) (*InvokeResult, error) {
	return c.Invoke(ctx, InvokeRequest{
		Provider:  provider,
		Model:     model,
		Operation: provider + ".chat.completions",
		Params:    params,
		TimeoutMs: timeoutMs,
	}, opts)
}

// CreateEmbeddings embeds the given inputs with the embedding profile's
// provider and model.
func (c *Integrations) CreateEmbeddings(ctx context.Context, provider, model string, inputs []string, opts CallOptions) (*EmbeddingResult, error) {
	var out EmbeddingResult
	req := InvokeRequest{
		Provider:  provider,
		Model:     model,
		Operation: provider + ".embeddings.create",
		Params:    map[string]any{"input": inputs, "model": model},
	}
	err := withRetry(ctx, c.retry, func() error {
		return c.base.doJSON(ctx, http.MethodPost, "/api/invoke", req, &out, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d inputs, got %d vectors", len(inputs), len(out.Embeddings))
	}
	return &out, nil
}
