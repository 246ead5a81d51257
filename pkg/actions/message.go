package actions

import (
	"context"
	"fmt"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// MessageSender is the slice of the Messaging client the send handler
// needs.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID string, msg clients.OutboundMessage, opts clients.CallOptions) (map[string]any, error)
}

// MessageSendHandler implements the message.send action: post an
// outbound message to the conversation via Messaging. When a routing
// action has set suppressResponse on the run, the send is skipped and
// recorded as a no-op success so the routed-to assistant speaks alone.
type MessageSendHandler struct {
	messaging MessageSender
}

func NewMessageSendHandler(messaging MessageSender) *MessageSendHandler {
	return &MessageSendHandler{messaging: messaging}
}

func (h *MessageSendHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	if ec.SuppressResponse {
		return map[string]any{"skipped": true, "reason": "response suppressed by routing"}, nil
	}

	content, err := requiredString(cfg.Params, "content")
	if err != nil {
		return nil, err
	}

	msg := clients.OutboundMessage{
		Content:     content,
		ContentType: "text",
	}
	if v, ok := stringParam(cfg.Params, "contentType"); ok {
		msg.ContentType = v
	}
	if v, ok := stringParam(cfg.Params, "priority"); ok {
		msg.Priority = v
	}
	if v, ok := cfg.Params["interruptible"].(bool); ok {
		msg.Interruptible = &v
	}
	if v, ok := mapParam(cfg.Params, "metadata"); ok {
		msg.Metadata = v
	}
	if v, ok := ec.Metadata["runId"].(string); ok {
		msg.RunID = v
	}

	opts := callOptions(ec)
	msg.TraceID = opts.TraceID
	opts.AsUserID = "assistant:" + ec.Assistant.Key

	out, err := h.messaging.SendMessage(ctx, ec.ConversationID, msg, opts)
	if err != nil {
		if clients.IsAuthError(err) {
			return nil, &TokenAuthError{Err: err}
		}
		return nil, fmt.Errorf("send message: %w", err)
	}

	result := map[string]any{"sent": true}
	if id, ok := out["id"]; ok {
		result["messageId"] = id
	}
	return result, nil
}
