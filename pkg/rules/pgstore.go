package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists rule sets installed through the admin API so
// they survive restarts. File-based rule sets are not stored here; the
// configuration layer re-reads them on boot.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts a rule set keyed by "<assistant>:<org>".
func (s *PostgresStore) Save(ctx context.Context, rs *RuleSet) error {
	definition, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode rule set %s: %w", rs.Key(), err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rule_sets (key, version, definition, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT (key) DO UPDATE SET
		   version = EXCLUDED.version, definition = EXCLUDED.definition, updated_at = NOW()`,
		rs.Key(), rs.Version, definition,
	)
	if err != nil {
		return fmt.Errorf("save rule set %s: %w", rs.Key(), err)
	}
	return nil
}

// Delete removes a persisted rule set. Missing keys are not an error.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rule_sets WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete rule set %s: %w", key, err)
	}
	return nil
}

// LoadAll returns every persisted rule set, validated. Invalid rows are
// returned as an error rather than silently skipped; a bad row means the
// schema and the code disagree.
func (s *PostgresStore) LoadAll(ctx context.Context) (map[string]*RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, definition FROM rule_sets`)
	if err != nil {
		return nil, fmt.Errorf("load rule sets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*RuleSet)
	for rows.Next() {
		var key string
		var definition []byte
		if err := rows.Scan(&key, &definition); err != nil {
			return nil, fmt.Errorf("scan rule set row: %w", err)
		}
		rs := &RuleSet{}
		if err := json.Unmarshal(definition, rs); err != nil {
			return nil, fmt.Errorf("decode rule set %s: %w", key, err)
		}
		if err := ValidateRuleSet(rs); err != nil {
			return nil, fmt.Errorf("stored rule set %s is invalid: %w", key, err)
		}
		out[rs.Key()] = rs
	}
	return out, rows.Err()
}
