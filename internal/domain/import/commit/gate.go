package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

// Gate checks drafts against the store and inserts only the new ones.
type Gate struct {
	store         TransactionStore
	fingerprinter *Fingerprinter
	slack         time.Duration
	logger        *slog.Logger
	locks         *workspaceLocks
	now           func() time.Time
}

func NewGate(store TransactionStore, fingerprinter *Fingerprinter, logger *slog.Logger) *Gate {
	if fingerprinter == nil {
		fingerprinter = NewFingerprinter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:         store,
		fingerprinter: fingerprinter,
		slack:         DefaultDedupWindowSlack,
		logger:        logger,
		locks:         newWorkspaceLocks(),
		now:           time.Now,
	}
}

// WithWindowSlack sets how far outside the batch's date range stored
// records are compared.
func (g *Gate) WithWindowSlack(slack time.Duration) *Gate {
	if slack >= 0 {
		g.slack = slack
	}
	return g
}

// Commit persists the drafts of a parse result that are not already stored
// for the workspace. Warnings are never persisted.
func (g *Gate) Commit(ctx context.Context, workspaceID uuid.UUID, result *model.ParseResult) (*model.CommitOutcome, error) {
	if result == nil || len(result.Drafts) == 0 {
		return &model.CommitOutcome{}, nil
	}

	unlock := g.locks.lock(workspaceID)
	defer unlock()

	fingerprints := g.fingerprinter.FingerprintAll(result.Drafts)
	window := WindowFor(result.Drafts, g.slack)

	existing, err := g.store.FindExistingFingerprints(ctx, workspaceID, fingerprints, window)
	if err != nil {
		g.logger.Error("failed to look up existing fingerprints", "error", err, "workspace_id", workspaceID)
		return nil, &model.CommitError{Err: fmt.Errorf("failed to look up existing fingerprints: %w", err)}
	}

	importedAt := g.now().UTC()
	fresh := make([]Record, 0, len(result.Drafts))
	for i, d := range result.Drafts {
		if _, dup := existing[fingerprints[i]]; dup {
			continue
		}
		fresh = append(fresh, Record{
			ID:                      uuid.New(),
			WorkspaceID:             workspaceID,
			Fingerprint:             fingerprints[i],
			ImportedAt:              importedAt,
			UnifiedTransactionDraft: d,
		})
	}
	known := len(result.Drafts) - len(fresh)

	inserted := 0
	if len(fresh) > 0 {
		inserted, err = g.store.InsertBatch(ctx, workspaceID, fresh)
		if err != nil {
			g.logger.Error("failed to insert transactions", "error", err, "workspace_id", workspaceID, "pending", len(fresh))

			var partial *PartialInsertError
			if errors.As(err, &partial) {
				return nil, &model.CommitError{Inserted: partial.Inserted, Skipped: known, Partial: true, Err: err}
			}
			return nil, &model.CommitError{Skipped: known, Err: err}
		}
	}

	outcome := &model.CommitOutcome{
		InsertedCount:         inserted,
		SkippedDuplicateCount: len(result.Drafts) - inserted,
	}
	if conflicts := len(fresh) - inserted; conflicts > 0 {
		g.logger.Warn("store skipped conflicting rows", "workspace_id", workspaceID, "count", conflicts)
	}
	g.logger.Info("committed statement",
		slog.String("workspace_id", workspaceID.String()),
		slog.String("source_id", result.SourceID),
		slog.Int("inserted", outcome.InsertedCount),
		slog.Int("skipped", outcome.SkippedDuplicateCount),
	)
	return outcome, nil
}

// workspaceLocks hands out one mutex per workspace and forgets it once no
// commit holds or waits on it.
type workspaceLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*workspaceLock
}

type workspaceLock struct {
	mu   sync.Mutex
	refs int
}

func newWorkspaceLocks() *workspaceLocks {
	return &workspaceLocks{locks: make(map[uuid.UUID]*workspaceLock)}
}

func (w *workspaceLocks) lock(id uuid.UUID) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &workspaceLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}
