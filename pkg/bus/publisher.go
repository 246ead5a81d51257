package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// notifyLimit keeps payloads under PostgreSQL's 8000-byte NOTIFY cap
// with headroom for the enrichment fields.
const notifyLimit = 7900

// Publisher sends mesh events. Message events are persisted to the
// events table and notified in a single transaction, so a notification
// never fires for an event that was not durably stored. Control events
// are transient and notify-only.
type Publisher struct {
	db *sql.DB
}

// NewPublisher wraps an open database handle.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishMessage delivers a message.new envelope to each recipient
// entity's channel. The event row is written once; one NOTIFY fires per
// recipient.
func (p *Publisher) PublishMessage(ctx context.Context, envelope MessageEnvelope) error {
	envelope.Type = EventMessageNew
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal message envelope: %w", err)
	}
	if len(envelope.RecipientEntityIDs) == 0 {
		return fmt.Errorf("message envelope has no recipients")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (conversation_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		envelope.ConversationID, EventMessageNew, payload, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	notifyPayload, err := notifyBody(envelope, payload, eventID)
	if err != nil {
		return err
	}
	// pg_notify is transactional: all notifications fire at COMMIT or
	// not at all
	for _, entityID := range envelope.RecipientEntityIDs {
		if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", EntityChannel(entityID), notifyPayload); err != nil {
			return fmt.Errorf("pg_notify %s: %w", EntityChannel(entityID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event transaction: %w", err)
	}
	return nil
}

// PublishControl broadcasts a transient control event to the given
// entities. Nothing is persisted.
func (p *Publisher) PublishControl(ctx context.Context, envelope ControlEnvelope, entityIDs []string) error {
	envelope.Type = EventControl
	if envelope.EffectiveAt.IsZero() {
		envelope.EffectiveAt = time.Now().UTC()
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal control envelope: %w", err)
	}
	for _, entityID := range entityIDs {
		if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", EntityChannel(entityID), payload); err != nil {
			return fmt.Errorf("pg_notify %s: %w", EntityChannel(entityID), err)
		}
	}
	return nil
}

// FetchEvent loads a persisted event row by id, for consumers that
// received a truncated notification.
func (p *Publisher) FetchEvent(ctx context.Context, eventID int64) (MessageEnvelope, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM events WHERE id = $1`, eventID).Scan(&payload)
	if err != nil {
		return MessageEnvelope{}, fmt.Errorf("fetch event %d: %w", eventID, err)
	}
	var envelope MessageEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return MessageEnvelope{}, fmt.Errorf("decode event %d: %w", eventID, err)
	}
	return envelope, nil
}

// notifyBody enriches the payload with the row id; oversized payloads
// collapse to a routing stub the consumer resolves via FetchEvent.
func notifyBody(envelope MessageEnvelope, payload []byte, eventID int64) (string, error) {
	envelope.DBEventID = eventID
	enriched, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal enriched envelope: %w", err)
	}
	if len(enriched) <= notifyLimit {
		return string(enriched), nil
	}

	stub := MessageEnvelope{
		Type:           EventMessageNew,
		ConversationID: envelope.ConversationID,
		Message:        MessagePayload{ID: envelope.Message.ID},
		OrgID:          envelope.OrgID,
		DBEventID:      eventID,
		Truncated:      true,
	}
	stubJSON, err := json.Marshal(stub)
	if err != nil {
		return "", fmt.Errorf("marshal truncated envelope: %w", err)
	}
	return string(stubJSON), nil
}
