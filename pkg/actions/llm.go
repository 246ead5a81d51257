package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/profile"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// ProfileSource yields the resolved LLM profile for an assistant. The
// assistant registry implements it; resolution is cheap and lock-free.
type ProfileSource interface {
	ResolvedProfile(assistantKey, orgID string) profile.Config
}

// LLMInvokeHandler implements the llm.invoke action. It overlays action
// params on the assistant's resolved profile, calls Integrations with
// the profile's deadline and retry policy, and normalizes failures:
// expired or invalid caller tokens surface as TokenAuthError so the
// coordinator can refresh and retry the run once; everything else
// becomes an ordinary action failure.
type LLMInvokeHandler struct {
	integrations *clients.Integrations
	profiles     ProfileSource
}

func NewLLMInvokeHandler(integrations *clients.Integrations, profiles ProfileSource) *LLMInvokeHandler {
	return &LLMInvokeHandler{integrations: integrations, profiles: profiles}
}

func (h *LLMInvokeHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	resolved := profile.ActionConfig(h.profiles.ResolvedProfile(ec.Assistant.Key, ec.OrgID), cfg.Params)

	messages, err := h.buildMessages(cfg.Params)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(resolved.Reliability.TimeoutMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	policy := clients.RetryPolicy{
		MaxRetries:      resolved.Reliability.MaxRetries,
		InitialInterval: time.Duration(resolved.Reliability.BackoffInitialMs) * time.Millisecond,
		Multiplier:      resolved.Reliability.BackoffFactor,
		JitterFraction:  float64(resolved.Reliability.BackoffJitterPct) / 100,
		MaxElapsed:      timeout,
	}

	params := map[string]any{
		"messages":    messages,
		"temperature": resolved.Generation.Temperature,
		"top_p":       resolved.Generation.TopP,
		"max_tokens":  resolved.Generation.MaxTokens,
	}
	if resolved.Generation.ResponseFormat == "json" {
		params["response_format"] = map[string]any{"type": "json_object"}
	}
	if len(resolved.Generation.StopSequences) > 0 {
		params["stop"] = resolved.Generation.StopSequences
	}

	result, err := h.integrations.WithRetryPolicy(policy).ChatCompletion(
		callCtx, resolved.Provider.Name, resolved.Provider.Model, params, resolved.Reliability.TimeoutMs, callOptions(ec))
	if err != nil {
		switch {
		case clients.IsAuthError(err):
			return nil, &TokenAuthError{Err: err}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, NewActionError(KindTimeout, fmt.Errorf("llm call exceeded %s: %w", timeout, err))
		case clients.IsRetryable(err):
			return nil, NewActionError(KindNetwork, err)
		default:
			return nil, err
		}
	}

	return map[string]any{
		"content":      result.Content,
		"provider":     result.Provider,
		"model":        result.Model,
		"finishReason": result.FinishReason,
		"usage": map[string]any{
			"promptTokens":     result.Usage.PromptTokens,
			"completionTokens": result.Usage.CompletionTokens,
			"totalTokens":      result.Usage.TotalTokens,
		},
	}, nil
}

// buildMessages accepts either a full messages array or a prompt string
// with an optional system preamble.
func (h *LLMInvokeHandler) buildMessages(params map[string]any) ([]map[string]any, error) {
	if raw, ok := params["messages"]; ok {
		items, ok := raw.([]any)
		if !ok || len(items) == 0 {
			return nil, Validationf("param %q must be a non-empty array", "messages")
		}
		messages := make([]map[string]any, 0, len(items))
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, Validationf("param %q[%d] must be a message object", "messages", i)
			}
			messages = append(messages, m)
		}
		return messages, nil
	}

	prompt, err := requiredString(params, "prompt")
	if err != nil {
		return nil, Validationf("llm.invoke needs either %q or %q", "messages", "prompt")
	}
	var messages []map[string]any
	if system, ok := stringParam(params, "system"); ok {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	return append(messages, map[string]any{"role": "user", "content": prompt}), nil
}
