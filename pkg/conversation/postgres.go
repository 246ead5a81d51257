package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists conversation state and the run log through the
// pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. Migrations must have
// run already.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Snapshot(ctx context.Context, conversationID string) (Snapshot, error) {
	var state string
	var rawContext []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state, context FROM conversations WHERE id = $1`,
		conversationID,
	).Scan(&state, &rawContext)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{State: StateIdle, Context: map[string]any{}}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	snapshot := Snapshot{State: State(state), Context: map[string]any{}}
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &snapshot.Context); err != nil {
			return Snapshot{}, fmt.Errorf("decode context for conversation %s: %w", conversationID, err)
		}
	}
	return snapshot, nil
}

func (s *PostgresStore) SetState(ctx context.Context, conversationID string, state State) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid conversation state %q", state)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, state, context, updated_at)
		 VALUES ($1, $2, '{}'::jsonb, NOW())
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		conversationID, string(state),
	)
	if err != nil {
		return fmt.Errorf("set state for conversation %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) MergeContext(ctx context.Context, conversationID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	payload, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("encode context updates: %w", err)
	}
	// jsonb || is last-writer-wins per top-level key
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, state, context, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT (id) DO UPDATE SET context = conversations.context || EXCLUDED.context, updated_at = NOW()`,
		conversationID, string(StateIdle), payload,
	)
	if err != nil {
		return fmt.Errorf("merge context for conversation %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) AppendRun(ctx context.Context, record RunRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	var newState sql.NullString
	if record.NewState != "" {
		newState = sql.NullString{String: string(record.NewState), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, conversation_id, org_id, trigger, rules_matched, new_state, duration_ms, created_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id) DO NOTHING`,
		record.RunID, record.ConversationID, record.OrgID, record.Trigger,
		record.RulesMatched, newState, record.DurationMs, record.CreatedAt, record.Payload,
	)
	if err != nil {
		return fmt.Errorf("append run %s: %w", record.RunID, err)
	}
	return nil
}

func (s *PostgresStore) Runs(ctx context.Context, conversationID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, conversation_id, org_id, trigger, rules_matched, new_state, duration_ms, created_at, payload
		 FROM runs WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Run(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, conversation_id, org_id, trigger, rules_matched, new_state, duration_ms, created_at, payload
		 FROM runs WHERE run_id = $1`,
		runID,
	)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return record, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var record RunRecord
	var newState sql.NullString
	err := row.Scan(&record.RunID, &record.ConversationID, &record.OrgID, &record.Trigger,
		&record.RulesMatched, &newState, &record.DurationMs, &record.CreatedAt, &record.Payload)
	if err != nil {
		return RunRecord{}, err
	}
	if newState.Valid {
		record.NewState = State(newState.String)
	}
	return record, nil
}
