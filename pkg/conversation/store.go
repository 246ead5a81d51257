package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by run lookups for unknown run ids.
var ErrNotFound = errors.New("not found")

// Snapshot is a consistent read of a conversation's engine-visible
// state. Unknown conversations snapshot as idle with an empty context.
type Snapshot struct {
	State   State
	Context map[string]any
}

// RunRecord is one append-only run log entry. Payload holds the full
// serialized RunResult; the indexed columns cover inspection queries
// without decoding it.
type RunRecord struct {
	RunID          string
	ConversationID string
	OrgID          string
	Trigger        string
	RulesMatched   int
	NewState       State
	DurationMs     int64
	CreatedAt      time.Time
	Payload        []byte
}

// Store persists per-conversation state, the rule-visible context map,
// and the run log. The coordinator is the only writer and serializes
// writes per conversation; implementations only need to be safe for
// concurrent access across conversations.
type Store interface {
	Snapshot(ctx context.Context, conversationID string) (Snapshot, error)
	SetState(ctx context.Context, conversationID string, state State) error
	// MergeContext applies updates last-writer-wins per top-level key.
	MergeContext(ctx context.Context, conversationID string, updates map[string]any) error
	AppendRun(ctx context.Context, record RunRecord) error
	Runs(ctx context.Context, conversationID string, limit int) ([]RunRecord, error)
	Run(ctx context.Context, runID string) (RunRecord, error)
}

// MemoryStore is the in-process Store used by tests and single-node
// deployments without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	states        map[string]State
	contexts      map[string]map[string]any
	runs          map[string][]RunRecord
	runsByID      map[string]RunRecord
	maxRunsPerKey int
}

// NewMemoryStore creates an empty in-memory store. Run logs are capped
// per conversation; the oldest entries fall off first.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:        map[string]State{},
		contexts:      map[string]map[string]any{},
		runs:          map[string][]RunRecord{},
		runsByID:      map[string]RunRecord{},
		maxRunsPerKey: 1000,
	}
}

func (s *MemoryStore) Snapshot(_ context.Context, conversationID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[conversationID]
	if !ok {
		state = StateIdle
	}
	snapshot := Snapshot{State: state, Context: map[string]any{}}
	for k, v := range s.contexts[conversationID] {
		snapshot.Context[k] = v
	}
	return snapshot, nil
}

func (s *MemoryStore) SetState(_ context.Context, conversationID string, state State) error {
	if !state.IsValid() {
		return errors.New("invalid conversation state " + string(state))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[conversationID] = state
	return nil
}

func (s *MemoryStore) MergeContext(_ context.Context, conversationID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.contexts[conversationID]
	if !ok {
		current = map[string]any{}
		s.contexts[conversationID] = current
	}
	for k, v := range updates {
		current[k] = v
	}
	return nil
}

func (s *MemoryStore) AppendRun(_ context.Context, record RunRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.runs[record.ConversationID], record)
	if len(log) > s.maxRunsPerKey {
		evicted := log[0]
		delete(s.runsByID, evicted.RunID)
		log = log[1:]
	}
	s.runs[record.ConversationID] = log
	s.runsByID[record.RunID] = record
	return nil
}

func (s *MemoryStore) Runs(_ context.Context, conversationID string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.runs[conversationID]
	out := make([]RunRecord, len(log))
	copy(out, log)
	// newest first
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Run(_ context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runsByID[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return record, nil
}
