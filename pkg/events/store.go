package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CatchupEvent is one replayed event row.
type CatchupEvent struct {
	ID      int
	Payload map[string]any
}

// CatchupQuerier replays persisted events for late subscribers.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error)
}

// CatchupStore reads the events table directly.
type CatchupStore struct {
	db *sql.DB
}

func NewCatchupStore(db *sql.DB) *CatchupStore {
	return &CatchupStore{db: db}
}

// GetCatchupEvents returns events on the channel with id > sinceID, in
// id order, capped at limit.
func (s *CatchupStore) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query catchup events for %s: %w", channel, err)
	}
	defer rows.Close()

	var out []CatchupEvent
	for rows.Next() {
		var evt CatchupEvent
		var payload []byte
		if err := rows.Scan(&evt.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan catchup event: %w", err)
		}
		if err := json.Unmarshal(payload, &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode catchup event %d: %w", evt.ID, err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
