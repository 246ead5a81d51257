// Package clients holds the HTTP clients for the collaborator services:
// Messaging (conversation membership, outbound messages, control
// events), Integrations (LLM and embedding invocation), and Identity
// (token introspection and agent token refresh). All calls propagate
// org/service/trace headers and retry transient failures with
// exponential backoff.
package clients

import "time"

// Headers propagated on every outbound service call.
const (
	HeaderOrgID    = "X-Org-Id"
	HeaderService  = "X-Service-Id"
	HeaderTraceID  = "X-Trace-Id"
	HeaderAPIKey   = "X-API-Key"
	HeaderAsUserID = "X-As-User-Id"
)

// CallOptions carries per-call identity and correlation values. Zero
// values are simply not sent.
type CallOptions struct {
	OrgID    string
	TraceID  string
	AsUserID string
	// Token overrides the client's ambient token source for this call.
	Token string
}

// OutboundMessage is the payload for Messaging's send-message endpoint.
// ID is optional; when set the server upserts on conflict, which makes
// retried sends idempotent.
type OutboundMessage struct {
	ID            string         `json:"id,omitempty"`
	Content       string         `json:"content"`
	ContentType   string         `json:"content_type,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Interruptible *bool          `json:"interruptible,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RunID         string         `json:"runId,omitempty"`
	TraceID       string         `json:"traceId,omitempty"`
}

// ControlEvent is the payload for Messaging's control endpoint.
type ControlEvent struct {
	Event          string    `json:"event"`
	ConversationID string    `json:"conversationId"`
	Target         string    `json:"target,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	PreemptedBy    string    `json:"preemptedBy,omitempty"`
	RunID          string    `json:"runId,omitempty"`
	TraceID        string    `json:"traceId,omitempty"`
	EffectiveAt    time.Time `json:"effectiveAt"`
}

// InvokeRequest is the generic Integrations invocation envelope.
// Operation is a dotted namespace such as "openai.chat.completions".
type InvokeRequest struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitempty"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
	TimeoutMs int            `json:"timeout,omitempty"`
}

// TokenUsage reports provider token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// InvokeResult is the normalized Integrations response.
type InvokeResult struct {
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Content      string         `json:"content"`
	Usage        TokenUsage     `json:"usage"`
	FinishReason string         `json:"finishReason"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EmbeddingResult is the normalized embedding response.
type EmbeddingResult struct {
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Embeddings [][]float32    `json:"embeddings"`
	Usage      TokenUsage     `json:"usage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Introspection is Identity's validated token envelope.
type Introspection struct {
	Active        bool     `json:"active"`
	Subject       string   `json:"sub"`
	Type          string   `json:"type"` // "user" or "agent"
	OrgID         string   `json:"orgId,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
	Entitlements  []string `json:"entitlements,omitempty"`
	IsSuperAdmin  bool     `json:"isSuperAdmin,omitempty"`
}

// Normalized finish reasons. Providers report a zoo of strings; the
// Integrations service maps them to this fixed set and NormalizeFinishReason
// guards against anything that slips through.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
	FinishToolCalls     = "tool_calls"
	FinishError         = "error"
	FinishIncomplete    = "incomplete"
)

// NormalizeFinishReason maps provider-specific finish reasons onto the
// normalized set. Unknown values become "incomplete".
func NormalizeFinishReason(reason string) string {
	switch reason {
	case FinishStop, FinishLength, FinishContentFilter, FinishToolCalls, FinishError, FinishIncomplete:
		return reason
	case "end_turn", "stop_sequence", "completed":
		return FinishStop
	case "max_tokens", "length_limit":
		return FinishLength
	case "tool_use", "function_call":
		return FinishToolCalls
	case "safety", "content_filtered":
		return FinishContentFilter
	default:
		return FinishIncomplete
	}
}
