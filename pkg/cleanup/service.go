// Package cleanup provides data retention and crash recovery.
package cleanup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Config tunes the retention sweeper and orphan recovery.
type Config struct {
	// EventTTL bounds how long event rows are kept.
	EventTTL time.Duration
	// SweepInterval is the period between retention sweeps.
	SweepInterval time.Duration
	// OrphanRunAge is how old a started-but-unfinished run must be
	// before recovery marks it failed.
	OrphanRunAge time.Duration
}

// Service periodically prunes expired event rows and, at startup,
// resolves runs a crashed replica left unfinished. All operations are
// idempotent and safe to run from multiple replicas.
type Service struct {
	db     *sql.DB
	config Config
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(db *sql.DB, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		config: cfg,
		logger: logger.With("component", "cleanup"),
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention sweeper started",
		"event_ttl", s.config.EventTTL,
		"interval", s.config.SweepInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.PruneExpiredEvents(ctx)
	if err != nil {
		s.logger.Error("Retention: event prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned expired events", "count", count)
	}
}

// PruneExpiredEvents deletes event rows older than EventTTL. Both mesh
// delivery rows and operational stream rows expire; consumers that need
// an event fetch it long before the TTL.
func (s *Service) PruneExpiredEvents(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < $1`,
		time.Now().UTC().Add(-s.config.EventTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return result.RowsAffected()
}

// orphanedRun is one run.started event with no matching run record.
type orphanedRun struct {
	EventID        int64
	RunID          string
	ConversationID string
	Trigger        string
}

// RecoverOrphanedRuns finds run.started events older than OrphanRunAge
// whose run never produced a run record, writes a failed run record for
// each, and moves conversations still marked busy back to
// waiting_for_user. Called once at startup; a run that is genuinely
// still executing on another replica is younger than OrphanRunAge and
// is left alone.
func (s *Service) RecoverOrphanedRuns(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.payload->>'run_id', e.conversation_id, COALESCE(e.payload->>'trigger', '')
		FROM events e
		WHERE e.event_type = 'run.started'
		  AND e.created_at < $1
		  AND e.payload->>'run_id' IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM runs r WHERE r.run_id = e.payload->>'run_id')`,
		time.Now().UTC().Add(-s.config.OrphanRunAge))
	if err != nil {
		return 0, fmt.Errorf("failed to scan for orphaned runs: %w", err)
	}
	defer rows.Close()

	var orphans []orphanedRun
	for rows.Next() {
		var o orphanedRun
		if err := rows.Scan(&o.EventID, &o.RunID, &o.ConversationID, &o.Trigger); err != nil {
			return 0, fmt.Errorf("failed to scan orphaned run row: %w", err)
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read orphaned run rows: %w", err)
	}

	recovered := 0
	for _, o := range orphans {
		if err := s.failOrphan(ctx, o); err != nil {
			s.logger.Error("Failed to recover orphaned run",
				"run_id", o.RunID, "conversation_id", o.ConversationID, "error", err)
			continue
		}
		s.logger.Warn("Recovered orphaned run",
			"run_id", o.RunID, "conversation_id", o.ConversationID)
		recovered++
	}
	return recovered, nil
}

func (s *Service) failOrphan(ctx context.Context, o orphanedRun) error {
	payload, err := json.Marshal(map[string]any{
		"run_id":          o.RunID,
		"conversation_id": o.ConversationID,
		"matched":         false,
		"error":           "run abandoned by crashed replica",
	})
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// ON CONFLICT DO NOTHING keeps concurrent recovery from multiple
	// replicas idempotent.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, conversation_id, org_id, trigger, rules_matched, new_state, duration_ms, payload)
		VALUES ($1, $2, '', $3, 0, NULL, 0, $4)
		ON CONFLICT (run_id) DO NOTHING`,
		o.RunID, o.ConversationID, o.Trigger, payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET state = 'waiting_for_user', updated_at = now()
		WHERE id = $1 AND state = 'ai_active'`,
		o.ConversationID)
	if err != nil {
		return err
	}
	return tx.Commit()
}
