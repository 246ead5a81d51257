package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Messaging is the client for the Messaging service: conversation
// membership, outbound messages, and control events.
type Messaging struct {
	base  *baseClient
	retry RetryPolicy
}

// NewMessaging creates a Messaging client. serviceID identifies this
// process in the X-Service-Id header.
func NewMessaging(baseURL, serviceID string, tokens TokenProvider, timeout time.Duration) *Messaging {
	return &Messaging{
		base:  newBaseClient("messaging", baseURL, serviceID, tokens, timeout),
		retry: DefaultRetryPolicy(),
	}
}

// JoinConversation adds a participant to a conversation, impersonating
// asUserID. An already-joined participant is a benign no-op.
func (m *Messaging) JoinConversation(ctx context.Context, conversationID, asUserID string, opts CallOptions) error {
	opts.AsUserID = asUserID
	path := fmt.Sprintf("/api/conversations/%s/join", url.PathEscape(conversationID))
	err := withRetry(ctx, m.retry, func() error {
		return m.base.doJSON(ctx, http.MethodPost, path, map[string]any{}, nil, opts)
	})
	if err != nil && IsConflict(err) {
		m.base.logger.Debug("Participant already joined", "conversation_id", conversationID, "as_user_id", asUserID)
		return nil
	}
	return err
}

// SendMessage posts an outbound message to a conversation.
func (m *Messaging) SendMessage(ctx context.Context, conversationID string, msg OutboundMessage, opts CallOptions) (map[string]any, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(conversationID))
	var out map[string]any
	err := withRetry(ctx, m.retry, func() error {
		return m.base.doJSON(ctx, http.MethodPost, path, msg, &out, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("send message to conversation %s: %w", conversationID, err)
	}
	return out, nil
}

// SendControl posts a control event to a conversation.
func (m *Messaging) SendControl(ctx context.Context, conversationID string, event ControlEvent, opts CallOptions) error {
	if event.EffectiveAt.IsZero() {
		event.EffectiveAt = time.Now().UTC()
	}
	event.ConversationID = conversationID
	path := fmt.Sprintf("/api/conversations/%s/control", url.PathEscape(conversationID))
	err := withRetry(ctx, m.retry, func() error {
		return m.base.doJSON(ctx, http.MethodPost, path, event, nil, opts)
	})
	if err != nil {
		return fmt.Errorf("send control event %q to conversation %s: %w", event.Event, conversationID, err)
	}
	return nil
}
