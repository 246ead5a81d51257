package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// notifyLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte cap
// with headroom for the enrichment fields.
const notifyLimit = 7900

// EventPublisher publishes operational events for WebSocket delivery.
// Persistent events are stored in the events table and notified in one
// transaction; transient events are notify-only.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher wraps the shared database handle.
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishRunStarted persists and broadcasts a run.started event on the
// conversation channel.
func (p *EventPublisher) PublishRunStarted(ctx context.Context, payload RunStartedPayload) error {
	payload.Type = EventTypeRunStarted
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal run.started: %w", err)
	}
	return p.persistAndNotify(ctx, payload.ConversationID, EventTypeRunStarted,
		ConversationChannel(payload.ConversationID), encoded)
}

// PublishRunCompleted persists a run.completed event on the conversation
// channel and broadcasts a transient copy to the global channel. Both
// sends are attempted; the first error wins.
func (p *EventPublisher) PublishRunCompleted(ctx context.Context, payload RunCompletedPayload) error {
	payload.Type = EventTypeRunCompleted
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal run.completed: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, payload.ConversationID, EventTypeRunCompleted,
		ConversationChannel(payload.ConversationID), encoded); err != nil {
		slog.Warn("Failed to publish run.completed to conversation channel",
			"conversation_id", payload.ConversationID, "run_id", payload.RunID, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalConversationsChannel, encoded); err != nil {
		slog.Warn("Failed to publish run.completed to global channel",
			"conversation_id", payload.ConversationID, "run_id", payload.RunID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishRouteForwarded broadcasts a transient route.forwarded notice on
// the conversation channel.
func (p *EventPublisher) PublishRouteForwarded(ctx context.Context, payload RouteForwardedPayload) error {
	payload.Type = EventTypeRouteForwarded
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal route.forwarded: %w", err)
	}
	return p.notifyOnly(ctx, ConversationChannel(payload.ConversationID), encoded)
}

// persistAndNotify writes the event row and fires NOTIFY in a single
// transaction, so the notification never outruns the durable row.
func (p *EventPublisher) persistAndNotify(ctx context.Context, conversationID, eventType, channel string, payload []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (conversation_id, event_type, channel, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		conversationID, eventType, channel, payload, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	notifyPayload, err := injectEventID(payload, eventID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return tx.Commit()
}

// notifyOnly broadcasts without persistence.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payload []byte) error {
	body, err := truncateIfNeeded(payload)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, body); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

// injectEventID adds db_event_id so subscribers can track their catchup
// position, then applies the NOTIFY size cap.
func injectEventID(payload []byte, eventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", fmt.Errorf("decode payload for event id injection: %w", err)
	}
	m["db_event_id"] = eventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal enriched payload: %w", err)
	}
	return truncateIfNeeded(enriched)
}

// truncateIfNeeded returns the payload unchanged when it fits, otherwise
// a minimal envelope carrying only the fields needed to refetch.
func truncateIfNeeded(payload []byte) (string, error) {
	if len(payload) <= notifyLimit {
		return string(payload), nil
	}
	var routing struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
		RunID          string `json:"run_id"`
		DBEventID      *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payload, &routing); err != nil {
		return "", fmt.Errorf("extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":            routing.Type,
		"conversation_id": routing.ConversationID,
		"run_id":          routing.RunID,
		"truncated":       true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}
	body, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("marshal truncated payload: %w", err)
	}
	return string(body), nil
}
