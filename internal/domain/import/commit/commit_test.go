package commit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/testutil"
)

func strPtr(s string) *string { return &s }

func draftOf(day int, amount string, dir model.Direction, counterparty string) model.UnifiedTransactionDraft {
	return model.UnifiedTransactionDraft{
		OccurredAt:   time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.RequireFromString(amount),
		Direction:    dir,
		Currency:     "CNY",
		Counterparty: strPtr(counterparty),
		SourceID:     "generic",
		RawRowIndex:  day,
	}
}

// scenarioA mirrors the two valid rows of the mixed statement.
func scenarioA() *model.ParseResult {
	return &model.ParseResult{
		SourceID:   "generic",
		SourceType: model.Tabular,
		Drafts: []model.UnifiedTransactionDraft{
			draftOf(5, "120.50", model.Outbound, "Coffee Shop"),
			draftOf(6, "3000.00", model.Inbound, "Employer"),
		},
		RowCount: 3,
	}
}

// =============================================================================
// Fingerprints
// =============================================================================

func TestFingerprinter_Fingerprint(t *testing.T) {
	fp := NewFingerprinter(nil)
	base := draftOf(5, "120.50", model.Outbound, "Coffee Shop")

	t.Run("stable and hex encoded", func(t *testing.T) {
		got := fp.Fingerprint(base)
		assert.Len(t, got, 64)
		assert.Equal(t, got, fp.Fingerprint(base))
	})

	t.Run("canonical forms collapse", func(t *testing.T) {
		same := base
		same.Amount = decimal.RequireFromString("120.5")
		same.Counterparty = strPtr("  coffee shop ")
		same.Currency = "cny"
		same.OccurredAt = time.Date(2024, 1, 5, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
		same.RawRowIndex = 99
		assert.Equal(t, fp.Fingerprint(base), fp.Fingerprint(same))
	})

	t.Run("each default field matters", func(t *testing.T) {
		variants := map[string]func(d *model.UnifiedTransactionDraft){
			"date":         func(d *model.UnifiedTransactionDraft) { d.OccurredAt = d.OccurredAt.Add(time.Second) },
			"amount":       func(d *model.UnifiedTransactionDraft) { d.Amount = decimal.RequireFromString("120.51") },
			"direction":    func(d *model.UnifiedTransactionDraft) { d.Direction = model.Inbound },
			"currency":     func(d *model.UnifiedTransactionDraft) { d.Currency = "EUR" },
			"counterparty": func(d *model.UnifiedTransactionDraft) { d.Counterparty = nil },
			"source":       func(d *model.UnifiedTransactionDraft) { d.SourceID = "alipay" },
		}
		for name, mutate := range variants {
			d := base
			mutate(&d)
			assert.NotEqual(t, fp.Fingerprint(base), fp.Fingerprint(d), name)
		}

		d := base
		d.Description = strPtr("latte")
		assert.Equal(t, fp.Fingerprint(base), fp.Fingerprint(d), "description is not a default field")
	})

	t.Run("configured fields", func(t *testing.T) {
		narrow := NewFingerprinter([]FingerprintField{FingerprintOccurredAt, FingerprintAmount})
		d := base
		d.Counterparty = strPtr("Someone Else")
		assert.Equal(t, narrow.Fingerprint(base), narrow.Fingerprint(d))
	})
}

func TestFingerprinter_FingerprintAll(t *testing.T) {
	fp := NewFingerprinter(nil)
	coffee := draftOf(5, "4.50", model.Outbound, "Coffee Shop")
	other := draftOf(5, "9.00", model.Outbound, "Bakery")

	got := fp.FingerprintAll([]model.UnifiedTransactionDraft{coffee, other, coffee, coffee})
	require.Len(t, got, 4)

	base := fp.Fingerprint(coffee)
	assert.Equal(t, base, got[0])
	assert.Equal(t, fp.Fingerprint(other), got[1])
	assert.Equal(t, base+"#2", got[2])
	assert.Equal(t, base+"#3", got[3])
}

func TestParseFingerprintFields(t *testing.T) {
	fields, err := ParseFingerprintFields(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFingerprintFields, fields)

	fields, err = ParseFingerprintFields([]string{" Occurred_At ", "amount", "amount", ""})
	require.NoError(t, err)
	assert.Equal(t, []FingerprintField{FingerprintOccurredAt, FingerprintAmount}, fields)

	_, err = ParseFingerprintFields([]string{"amount", "colour"})
	assert.ErrorIs(t, err, ErrUnknownFingerprintField)
}

func TestWindowFor(t *testing.T) {
	drafts := []model.UnifiedTransactionDraft{
		draftOf(10, "1", model.Inbound, "a"),
		draftOf(3, "1", model.Inbound, "b"),
		draftOf(7, "1", model.Inbound, "c"),
	}
	w := WindowFor(drafts, 72*time.Hour)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC), w.To)
	assert.True(t, w.Contains(w.From))
	assert.False(t, w.Contains(w.To.Add(time.Nanosecond)))
}

// =============================================================================
// Gate
// =============================================================================

func TestGate_Commit_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gate := NewGate(store, nil, nil)
	workspace := uuid.New()

	first, err := gate.Commit(ctx, workspace, scenarioA())
	require.NoError(t, err)
	assert.Equal(t, model.CommitOutcome{InsertedCount: 2, SkippedDuplicateCount: 0}, *first)

	second, err := gate.Commit(ctx, workspace, scenarioA())
	require.NoError(t, err)
	assert.Equal(t, model.CommitOutcome{InsertedCount: 0, SkippedDuplicateCount: 2}, *second)
	assert.Equal(t, 2, store.Count(workspace))

	other, err := gate.Commit(ctx, uuid.New(), scenarioA())
	require.NoError(t, err)
	assert.Equal(t, 2, other.InsertedCount, "workspaces are isolated")
}

func TestGate_Commit_GeneratedStatements(t *testing.T) {
	ctx := context.Background()
	gen := testutil.NewStatementGeneratorWithSeed(11)

	result := &model.ParseResult{SourceID: "generic"}
	for i, r := range gen.Rows(300) {
		dir, amount := model.Inbound, r.Amount
		if amount.IsNegative() {
			dir, amount = model.Outbound, amount.Neg()
		}
		result.Drafts = append(result.Drafts, model.UnifiedTransactionDraft{
			OccurredAt:   r.Date,
			Amount:       amount,
			Direction:    dir,
			Currency:     "CNY",
			Counterparty: strPtr(r.Counterparty),
			SourceID:     "generic",
			RawRowIndex:  i + 1,
		})
	}
	// a genuine same-day repeat must survive
	result.Drafts = append(result.Drafts, result.Drafts[0])

	store := NewMemoryStore()
	gate := NewGate(store, nil, nil)
	workspace := uuid.New()

	first, err := gate.Commit(ctx, workspace, result)
	require.NoError(t, err)
	assert.Equal(t, len(result.Drafts), first.InsertedCount)
	assert.Zero(t, first.SkippedDuplicateCount)

	second, err := gate.Commit(ctx, workspace, result)
	require.NoError(t, err)
	assert.Zero(t, second.InsertedCount)
	assert.Equal(t, len(result.Drafts), second.SkippedDuplicateCount)
}

func TestGate_Commit_OverlappingStatements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gate := NewGate(store, nil, nil)
	workspace := uuid.New()

	_, err := gate.Commit(ctx, workspace, scenarioA())
	require.NoError(t, err)

	next := scenarioA()
	next.Drafts = append(next.Drafts, draftOf(7, "15.00", model.Outbound, "Bakery"))

	outcome, err := gate.Commit(ctx, workspace, next)
	require.NoError(t, err)
	assert.Equal(t, model.CommitOutcome{InsertedCount: 1, SkippedDuplicateCount: 2}, *outcome)

	records := store.Records(workspace)
	require.Len(t, records, 3)
	assert.Equal(t, "Bakery", *records[2].Counterparty)
	assert.Equal(t, workspace, records[2].WorkspaceID)
	assert.NotEqual(t, uuid.Nil, records[2].ID)
}

func TestGate_Commit_Empty(t *testing.T) {
	gate := NewGate(NewMemoryStore(), nil, nil)

	outcome, err := gate.Commit(context.Background(), uuid.New(), &model.ParseResult{})
	require.NoError(t, err)
	assert.Equal(t, model.CommitOutcome{}, *outcome)

	outcome, err = gate.Commit(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Zero(t, outcome.InsertedCount)
}

func TestGate_Commit_Failures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	t.Run("lookup failure inserts nothing", func(t *testing.T) {
		store := NewMemoryStore()
		store.FailFinds(boom)
		workspace := uuid.New()

		outcome, err := NewGate(store, nil, nil).Commit(ctx, workspace, scenarioA())
		assert.Nil(t, outcome)
		require.ErrorIs(t, err, model.ErrCommitFailed)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, store.Count(workspace))
	})

	t.Run("total insert failure", func(t *testing.T) {
		store := NewMemoryStore()
		store.FailInserts(0, boom)
		workspace := uuid.New()

		_, err := NewGate(store, nil, nil).Commit(ctx, workspace, scenarioA())
		var ce *model.CommitError
		require.True(t, errors.As(err, &ce))
		assert.False(t, ce.Partial)
		assert.Zero(t, ce.Inserted)
		assert.Zero(t, store.Count(workspace))
	})

	t.Run("partial insert failure reports exact progress", func(t *testing.T) {
		store := NewMemoryStore()
		workspace := uuid.New()
		gate := NewGate(store, nil, nil)

		seed := scenarioA()
		seed.Drafts = seed.Drafts[:1]
		_, err := gate.Commit(ctx, workspace, seed)
		require.NoError(t, err)

		next := scenarioA()
		next.Drafts = append(next.Drafts,
			draftOf(7, "1.00", model.Outbound, "Bakery"),
			draftOf(8, "2.00", model.Outbound, "Cinema"),
		)
		store.FailInserts(1, boom)

		_, err = gate.Commit(ctx, workspace, next)
		var ce *model.CommitError
		require.True(t, errors.As(err, &ce))
		assert.True(t, ce.Partial)
		assert.Equal(t, 1, ce.Inserted)
		assert.Equal(t, 1, ce.Skipped)
		assert.Equal(t, 2, store.Count(workspace))

		var partial *PartialInsertError
		assert.True(t, errors.As(err, &partial))

		outcome, err := gate.Commit(ctx, workspace, next)
		require.NoError(t, err, "a retry completes the batch")
		assert.Equal(t, model.CommitOutcome{InsertedCount: 2, SkippedDuplicateCount: 2}, *outcome)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewGate(NewMemoryStore(), nil, nil).Commit(cctx, uuid.New(), scenarioA())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGate_Commit_ConcurrentSameWorkspace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gate := NewGate(store, nil, nil)
	workspace := uuid.New()

	const callers = 8
	outcomes := make([]*model.CommitOutcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := gate.Commit(ctx, workspace, scenarioA())
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, o := range outcomes {
		require.NotNil(t, o)
		inserted += o.InsertedCount
		assert.Equal(t, 2, o.InsertedCount+o.SkippedDuplicateCount)
	}
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 2, store.Count(workspace))
	assert.Empty(t, gate.locks.locks, "locks are released")
}
