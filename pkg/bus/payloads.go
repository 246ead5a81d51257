// Package bus is the SDN mesh client: event fan-out between assistant
// processes over PostgreSQL NOTIFY/LISTEN. Publishers persist an event
// and notify in one transaction; each assistant server listens on its
// own entity channel, deduplicates by message id, and hands events to
// the run coordinator.
package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Event type discriminators on the wire.
const (
	EventMessageNew = "message.new"
	EventControl    = "conversation.control"
)

// Mesh addressing constants.
const (
	MeshTarget   = "assistants"
	MeshBoundary = "intra"
)

// AssistantRef identifies one assistant participant in an envelope.
type AssistantRef struct {
	UserID   string `json:"userId"`
	Key      string `json:"key"`
	EntityID string `json:"entityId,omitempty"`
}

// MessagePayload is the conversation message carried by a message.new
// event.
type MessagePayload struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"sender_id"`
	SenderType  string         `json:"sender_type"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AuthEnvelope carries the caller's token on ingress events.
type AuthEnvelope struct {
	Token string `json:"token"`
}

// MessageEnvelope is the message.new event, for both ingress and
// forwarded egress. Delivery is at-least-once; consumers deduplicate by
// Message.ID.
type MessageEnvelope struct {
	Type               string         `json:"type"`
	ConversationID     string         `json:"conversationId"`
	Message            MessagePayload `json:"message"`
	SenderEntityID     string         `json:"senderEntityId,omitempty"`
	RecipientEntityIDs []string       `json:"recipientEntityIds,omitempty"`
	Assistants         []AssistantRef `json:"assistants,omitempty"`
	OrgID              string         `json:"orgId,omitempty"`
	RunID              string         `json:"runId,omitempty"`
	TraceID            string         `json:"traceId,omitempty"`
	Auth               *AuthEnvelope  `json:"_auth,omitempty"`

	// DBEventID and Truncated are set on the NOTIFY copy when the
	// payload exceeds the NOTIFY size limit; the full event is then
	// fetched from the events table by id.
	DBEventID int64 `json:"db_event_id,omitempty"`
	Truncated bool  `json:"truncated,omitempty"`
}

// ControlEnvelope is a conversation control event.
type ControlEnvelope struct {
	Type           string    `json:"type"`
	Event          string    `json:"event"`
	ConversationID string    `json:"conversationId"`
	Target         string    `json:"target,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	PreemptedBy    string    `json:"preemptedBy,omitempty"`
	RunID          string    `json:"runId,omitempty"`
	TraceID        string    `json:"traceId,omitempty"`
	EffectiveAt    time.Time `json:"effectiveAt"`
}

// EntityChannel derives the NOTIFY channel for one assistant entity.
// Postgres identifiers cap at 63 bytes, so long or odd entity ids are
// hashed rather than embedded.
func EntityChannel(entityID string) string {
	const prefix = "assistant_events_"
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '-' || r == ':' || r == '.':
			return '_'
		default:
			return -1
		}
	}, entityID)
	if safe == "" || len(prefix)+len(safe) > 63 {
		sum := sha256.Sum256([]byte(entityID))
		safe = hex.EncodeToString(sum[:16])
	}
	return prefix + safe
}
