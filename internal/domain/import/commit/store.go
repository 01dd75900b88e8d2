package commit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

// DefaultDedupWindowSlack widens the lookup window on both sides of a
// batch's date range.
const DefaultDedupWindowSlack = 72 * time.Hour

// DateWindow bounds the occurred_at range searched for duplicates.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// WindowFor covers every draft plus slack on either side.
func WindowFor(drafts []model.UnifiedTransactionDraft, slack time.Duration) DateWindow {
	var w DateWindow
	for i, d := range drafts {
		t := d.OccurredAt.UTC()
		if i == 0 || t.Before(w.From) {
			w.From = t
		}
		if i == 0 || t.After(w.To) {
			w.To = t
		}
	}
	w.From = w.From.Add(-slack)
	w.To = w.To.Add(slack)
	return w
}

func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Record is a draft ready to be stored.
type Record struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Fingerprint string
	ImportedAt  time.Time
	model.UnifiedTransactionDraft
}

// TransactionStore is the persistence contract the gate relies on.
type TransactionStore interface {
	// FindExistingFingerprints returns the subset of fingerprints already
	// stored for the workspace within the window.
	FindExistingFingerprints(ctx context.Context, workspaceID uuid.UUID, fingerprints []string, window DateWindow) (map[string]struct{}, error)
	// InsertBatch stores records and returns how many were written. Records
	// whose fingerprint already exists are skipped, not failed.
	InsertBatch(ctx context.Context, workspaceID uuid.UUID, records []Record) (int, error)
}

// PartialInsertError reports a batch that failed after some rows were
// durably written.
type PartialInsertError struct {
	Inserted int
	Err      error
}

func (e *PartialInsertError) Error() string {
	return fmt.Sprintf("insert failed after %d rows: %v", e.Inserted, e.Err)
}

func (e *PartialInsertError) Unwrap() error {
	return e.Err
}

// MemoryStore keeps records in process. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]map[string]Record

	findErr     error
	insertErr   error
	insertAfter int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]map[string]Record)}
}

// FailFinds makes every lookup return err until cleared with nil.
func (m *MemoryStore) FailFinds(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
}

// FailInserts makes the next InsertBatch write at most after records and
// then fail with err. With after > 0 the failure is reported as partial.
func (m *MemoryStore) FailInserts(after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
	m.insertAfter = after
}

func (m *MemoryStore) FindExistingFingerprints(ctx context.Context, workspaceID uuid.UUID, fingerprints []string, window DateWindow) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}

	found := make(map[string]struct{})
	stored := m.records[workspaceID]
	for _, fp := range fingerprints {
		if r, ok := stored[fp]; ok && window.Contains(r.OccurredAt) {
			found[fp] = struct{}{}
		}
	}
	return found, nil
}

func (m *MemoryStore) InsertBatch(ctx context.Context, workspaceID uuid.UUID, records []Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[workspaceID]
	if !ok {
		stored = make(map[string]Record)
		m.records[workspaceID] = stored
	}

	failErr, limit := m.insertErr, len(records)
	if failErr != nil {
		limit = m.insertAfter
		m.insertErr = nil
	}

	inserted := 0
	for _, r := range records {
		if inserted >= limit {
			break
		}
		if _, exists := stored[r.Fingerprint]; exists {
			continue
		}
		stored[r.Fingerprint] = r
		inserted++
	}

	if failErr != nil {
		if inserted > 0 {
			return inserted, &PartialInsertError{Inserted: inserted, Err: failErr}
		}
		return 0, failErr
	}
	return inserted, nil
}

// Records returns a workspace's records ordered by occurrence.
func (m *MemoryStore) Records(workspaceID uuid.UUID) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records[workspaceID]))
	for _, r := range m.records[workspaceID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

func (m *MemoryStore) Count(workspaceID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[workspaceID])
}
