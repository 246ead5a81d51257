// Package coordinator is the ingress point for incoming events. Each
// event resolves to one engine run: load the assistant's rule set and
// the conversation snapshot, execute rules, then persist the resulting
// state, context updates, and run record. Runs for the same
// conversation are serialized through a bounded per-conversation
// mailbox; distinct conversations proceed in parallel.
package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-io/switchboard/pkg/bus"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// Event is one inbound occurrence to run the engine for.
type Event struct {
	ID             string
	Type           string
	Trigger        rules.Trigger
	ConversationID string
	OrgID          string
	RunID          string
	TraceID        string
	Message        *rules.MessageInfo
	User           *rules.UserInfo
	Data           map[string]any
	Timestamp      time.Time
}

// EventFromEnvelope converts a mesh message envelope into an engine
// event.
func EventFromEnvelope(env bus.MessageEnvelope) Event {
	msg := &rules.MessageInfo{
		ID:          env.Message.ID,
		SenderID:    env.Message.SenderID,
		SenderType:  env.Message.SenderType,
		Content:     env.Message.Content,
		ContentType: env.Message.ContentType,
		Metadata:    env.Message.Metadata,
		CreatedAt:   env.Message.CreatedAt,
	}
	return Event{
		ID:             uuid.NewString(),
		Type:           env.Type,
		Trigger:        rules.TriggerMessageReceived,
		ConversationID: env.ConversationID,
		OrgID:          env.OrgID,
		RunID:          env.RunID,
		TraceID:        env.TraceID,
		Message:        msg,
		Timestamp:      time.Now().UTC(),
	}
}
