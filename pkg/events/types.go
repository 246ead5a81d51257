// Package events is the operational event stream: run lifecycle and
// routing notices delivered to WebSocket clients, fanned out across
// replicas over PostgreSQL NOTIFY/LISTEN.
//
// Two delivery classes exist. Persistent events are written to the
// events table and notified in one transaction; late subscribers replay
// them through catchup by last event id. Transient events are
// notify-only and lost on reconnect.
package events

// Persistent event types (stored + NOTIFY).
const (
	EventTypeRunStarted   = "run.started"
	EventTypeRunCompleted = "run.completed"
)

// Transient event types (NOTIFY only).
const (
	EventTypeRouteForwarded = "route.forwarded"
)

// GlobalConversationsChannel carries run.completed copies for dashboards
// that watch every conversation. Transient only.
const GlobalConversationsChannel = "conversations"

// ConversationChannel returns the subscriber channel for one
// conversation: "conversation:<id>".
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// ClientMessage is the client → server WebSocket frame.
type ClientMessage struct {
	Action      string `json:"action"`                  // subscribe, unsubscribe, catchup, ping
	Channel     string `json:"channel,omitempty"`       // e.g. "conversation:abc-123"
	LastEventID *int   `json:"last_event_id,omitempty"` // catchup position
}
