package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard/pkg/assistant"
	"github.com/switchboard-io/switchboard/pkg/bus"
	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/metrics"
	"github.com/switchboard-io/switchboard/pkg/profile"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// ConversationJoiner adds a participant to a conversation.
type ConversationJoiner interface {
	JoinConversation(ctx context.Context, conversationID, asUserID string, opts clients.CallOptions) error
}

// MeshPublisher delivers a message envelope over the event mesh.
type MeshPublisher interface {
	PublishMessage(ctx context.Context, envelope bus.MessageEnvelope) error
}

// RouteNotifier broadcasts forwarded-route notices on the operational
// event stream. Best-effort; implemented by events.Stream.
type RouteNotifier interface {
	RouteForwarded(ctx context.Context, conversationID, toAssistant, reason string)
}

// Router implements inter-assistant routing: alias normalization,
// target validation, participant join, and event forwarding with a
// per-target circuit breaker around delivery.
type Router struct {
	assistants *assistant.Registry
	ruleSets   *rules.Registry
	messaging  ConversationJoiner
	mesh       MeshPublisher
	webhooks   *WebhookClient
	aliases    *AliasMap
	index      *Index
	breakers   *breakerSet
	notices    RouteNotifier
	metrics    *metrics.Set
	logger     *slog.Logger
}

// Options configures a Router. Mesh is required; Webhooks and Index are
// optional and disable the fallback and embedding routing respectively
// when nil.
type Options struct {
	Assistants *assistant.Registry
	RuleSets   *rules.Registry
	Messaging  ConversationJoiner
	Mesh       MeshPublisher
	Webhooks   *WebhookClient
	Aliases    *AliasMap
	Index      *Index
	Notices    RouteNotifier
	Metrics    *metrics.Set
	Logger     *slog.Logger
}

// New creates a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	aliases := opts.Aliases
	if aliases == nil {
		aliases = NewAliasMap(nil)
	}
	return &Router{
		assistants: opts.Assistants,
		ruleSets:   opts.RuleSets,
		messaging:  opts.Messaging,
		mesh:       opts.Mesh,
		webhooks:   opts.Webhooks,
		aliases:    aliases,
		index:      opts.Index,
		breakers:   newBreakerSet(),
		notices:    opts.Notices,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "router"),
	}
}

// RebuildIndex refreshes the description index from the currently
// loaded assistants. Called after registry reloads.
func (r *Router) RebuildIndex(ctx context.Context) error {
	if r.index == nil {
		return nil
	}
	return r.index.Rebuild(ctx, r.assistants.All())
}

// Route forwards the triggering message to the named assistant. On
// success the caller's run suppresses its own response; the target
// assistant picks the conversation up through its own event channel.
func (r *Router) Route(ctx context.Context, target, reason string, ec *rules.ExecutionContext) (map[string]any, error) {
	key := r.aliases.Normalize(target)
	if key == "" {
		return nil, fmt.Errorf("routing target is empty")
	}
	if ec.Message == nil {
		return nil, fmt.Errorf("routing needs a triggering message")
	}
	def, ok := r.assistants.Get(key)
	if !ok || !r.ruleSets.Has(key) {
		return nil, fmt.Errorf("assistant %q not found", key)
	}
	if key == strings.ToLower(ec.Assistant.Key) {
		return nil, fmt.Errorf("assistant %q cannot route to itself", key)
	}

	br := r.breakers.get(key)
	if !br.Allow() {
		r.metrics.SetCircuitState(key, br.State())
		return nil, fmt.Errorf("routing to %q suspended: circuit open", key)
	}

	opts := clients.CallOptions{OrgID: ec.OrgID}
	if traceID, ok := ec.Metadata["traceId"].(string); ok {
		opts.TraceID = traceID
	}
	if err := r.messaging.JoinConversation(ctx, ec.ConversationID, def.PrincipalID(), opts); err != nil {
		return nil, fmt.Errorf("join target to conversation: %w", err)
	}

	envelope := r.buildEnvelope(def, reason, ec, opts.TraceID)
	if err := r.deliver(ctx, key, def, envelope); err != nil {
		br.Failure()
		r.metrics.SetCircuitState(key, br.State())
		return nil, err
	}
	br.Success()
	r.metrics.SetCircuitState(key, br.State())
	r.metrics.IncEventPublished(bus.EventMessageNew)

	if r.notices != nil {
		r.notices.RouteForwarded(ctx, ec.ConversationID, key, reason)
	}
	r.logger.Info("Routed conversation",
		"conversation_id", ec.ConversationID,
		"from", ec.Assistant.Key,
		"to", key,
		"reason", reason)
	return map[string]any{
		"routed":           true,
		"targetAssistant":  key,
		"reason":           reason,
		"suppressResponse": true,
	}, nil
}

// RouteByEmbedding selects the routing target by similarity between the
// triggering message and indexed assistant descriptions. Below the
// similarity threshold no route happens; the result says whether the
// profile wants an LLM to decide instead, so rule authors can chain an
// llm.invoke + assistant.route pair behind it.
func (r *Router) RouteByEmbedding(ctx context.Context, reason string, ec *rules.ExecutionContext) (map[string]any, error) {
	if ec.Message == nil || strings.TrimSpace(ec.Message.Content) == "" {
		return nil, fmt.Errorf("embedding routing needs a triggering message")
	}
	cfg := r.assistants.ResolvedProfile(ec.Assistant.Key, ec.OrgID)
	if r.index == nil || !profile.ShouldUseEmbeddingRouting(cfg) {
		return map[string]any{
			"routed":      false,
			"llmFallback": profile.ShouldUseLLMFallback(cfg, nil),
		}, nil
	}

	match, found, err := r.index.Best(ctx, ec.Message.Content, ec.OrgID)
	if err != nil {
		return nil, fmt.Errorf("query description index: %w", err)
	}
	if !found {
		return map[string]any{
			"routed":      false,
			"llmFallback": profile.ShouldUseLLMFallback(cfg, nil),
		}, nil
	}

	if match.Similarity < cfg.Routing.SimilarityThreshold || match.Key == strings.ToLower(ec.Assistant.Key) {
		sim := match.Similarity
		return map[string]any{
			"routed":      false,
			"bestMatch":   match.Key,
			"similarity":  match.Similarity,
			"llmFallback": profile.ShouldUseLLMFallback(cfg, &sim),
		}, nil
	}

	if reason == "" {
		reason = fmt.Sprintf("description similarity %.3f", match.Similarity)
	}
	out, err := r.Route(ctx, match.Key, reason, ec)
	if err != nil {
		return nil, err
	}
	out["similarity"] = match.Similarity
	return out, nil
}

// buildEnvelope copies the triggering message into a forwarded
// message.new event addressed only to the target, stamped with the
// routing provenance.
func (r *Router) buildEnvelope(target assistant.Definition, reason string, ec *rules.ExecutionContext, traceID string) bus.MessageEnvelope {
	msg := bus.MessagePayload{
		ID:          ec.Message.ID,
		SenderID:    ec.Message.SenderID,
		SenderType:  ec.Message.SenderType,
		Content:     ec.Message.Content,
		ContentType: ec.Message.ContentType,
		CreatedAt:   ec.Message.CreatedAt,
	}
	msg.Metadata = make(map[string]any, len(ec.Message.Metadata)+2)
	for k, v := range ec.Message.Metadata {
		msg.Metadata[k] = v
	}
	msg.Metadata["routedFrom"] = ec.Assistant.Key
	if reason != "" {
		msg.Metadata["routeReason"] = reason
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return bus.MessageEnvelope{
		ConversationID:     ec.ConversationID,
		Message:            msg,
		SenderEntityID:     entityID(assistant.Definition{Key: ec.Assistant.Key, EntityID: ec.Assistant.EntityID}),
		RecipientEntityIDs: []string{entityID(target)},
		Assistants: []bus.AssistantRef{{
			UserID:   target.PrincipalID(),
			Key:      target.Key,
			EntityID: entityID(target),
		}},
		OrgID:   ec.OrgID,
		RunID:   runID(ec),
		TraceID: traceID,
	}
}

// deliver sends the envelope over the mesh, falling back to the
// target's direct webhook when the mesh publish fails. The fallback is
// a single attempt with its own bounded timeout.
func (r *Router) deliver(ctx context.Context, key string, target assistant.Definition, envelope bus.MessageEnvelope) error {
	meshErr := r.mesh.PublishMessage(ctx, envelope)
	if meshErr == nil {
		return nil
	}
	if r.webhooks == nil || target.WebhookURL == "" {
		return fmt.Errorf("forward to %q: %w", key, meshErr)
	}

	r.logger.Warn("Mesh publish failed, trying webhook fallback",
		"target", key, "error", meshErr)
	if err := r.webhooks.Deliver(ctx, target.WebhookURL, envelope); err != nil {
		return fmt.Errorf("forward to %q: mesh: %v; webhook: %w", key, meshErr, err)
	}
	r.metrics.IncWebhookFallback()
	return nil
}

func entityID(def assistant.Definition) string {
	if def.EntityID != "" {
		return def.EntityID
	}
	return def.PrincipalID()
}

func runID(ec *rules.ExecutionContext) string {
	if id, ok := ec.Metadata["runId"].(string); ok {
		return id
	}
	return ""
}
