package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-import/internal/domain/import/commit"
	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

func testRecords(n int) []commit.Record {
	records := make([]commit.Record, n)
	for i := range records {
		name := "Coffee Shop"
		records[i] = commit.Record{
			ID:          uuid.New(),
			Fingerprint: strings.Repeat("a", 63) + string(rune('a'+i%26)),
			ImportedAt:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			UnifiedTransactionDraft: model.UnifiedTransactionDraft{
				OccurredAt:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
				Amount:       decimal.RequireFromString("120.50"),
				Direction:    model.Outbound,
				Currency:     "CNY",
				Counterparty: &name,
				SourceID:     "generic",
				RawRowIndex:  i + 1,
			},
		}
	}
	return records
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// ============================================================================
// Postgres store
// ============================================================================

func TestPostgresTransactionStore_FindExistingFingerprints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	workspace := uuid.New()
	window := commit.DateWindow{
		From: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	fingerprints := []string{"fp-1", "fp-2", "fp-3"}

	mock.ExpectQuery(`SELECT fingerprint\s+FROM imported_transactions`).
		WithArgs(workspace, fingerprints, window.From, window.To).
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint"}).AddRow("fp-1").AddRow("fp-3"))

	store := NewPostgresTransactionStore(mock)
	found, err := store.FindExistingFingerprints(context.Background(), workspace, fingerprints, window)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"fp-1": {}, "fp-3": {}}, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransactionStore_FindExistingFingerprints_Errors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresTransactionStore(mock)

	found, err := store.FindExistingFingerprints(context.Background(), uuid.New(), nil, commit.DateWindow{})
	require.NoError(t, err)
	assert.Empty(t, found, "no query for an empty batch")

	boom := errors.New("connection refused")
	mock.ExpectQuery(`SELECT fingerprint`).
		WithArgs(anyArgs(4)...).
		WillReturnError(boom)

	_, err = store.FindExistingFingerprints(context.Background(), uuid.New(), []string{"fp"}, commit.DateWindow{})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransactionStore_InsertBatch(t *testing.T) {
	t.Run("one transaction, conflicts skipped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		records := testRecords(3)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO imported_transactions .* ON CONFLICT \(workspace_id, fingerprint\) DO NOTHING`).
			WithArgs(anyArgs(3 * transactionColumns)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 2))
		mock.ExpectCommit()

		inserted, err := NewPostgresTransactionStore(mock).InsertBatch(context.Background(), uuid.New(), records)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("large batches are chunked", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		records := testRecords(insertBatchSize + 20)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO imported_transactions`).
			WithArgs(anyArgs(insertBatchSize * transactionColumns)...).
			WillReturnResult(pgxmock.NewResult("INSERT", int64(insertBatchSize)))
		mock.ExpectExec(`INSERT INTO imported_transactions`).
			WithArgs(anyArgs(20 * transactionColumns)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 20))
		mock.ExpectCommit()

		inserted, err := NewPostgresTransactionStore(mock).InsertBatch(context.Background(), uuid.New(), records)
		require.NoError(t, err)
		assert.Equal(t, insertBatchSize+20, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure rolls back everything", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		boom := errors.New("disk full")
		records := testRecords(insertBatchSize + 1)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO imported_transactions`).
			WithArgs(anyArgs(insertBatchSize * transactionColumns)...).
			WillReturnResult(pgxmock.NewResult("INSERT", int64(insertBatchSize)))
		mock.ExpectExec(`INSERT INTO imported_transactions`).
			WithArgs(anyArgs(transactionColumns)...).
			WillReturnError(boom)
		mock.ExpectRollback()

		inserted, err := NewPostgresTransactionStore(mock).InsertBatch(context.Background(), uuid.New(), records)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, inserted)

		var partial *commit.PartialInsertError
		assert.False(t, errors.As(err, &partial), "postgres batches are all-or-nothing")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("too many clients"))
		_, err = NewPostgresTransactionStore(mock).InsertBatch(context.Background(), uuid.New(), testRecords(1))
		assert.ErrorContains(t, err, "failed to begin transaction")
	})
}

func TestPostgresTransactionStore_WithGate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	workspace := uuid.New()
	gate := commit.NewGate(NewPostgresTransactionStore(mock), nil, nil)

	name := "Employer"
	result := &model.ParseResult{
		SourceID: "generic",
		Drafts: []model.UnifiedTransactionDraft{
			{OccurredAt: time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(3000), Direction: model.Inbound, Currency: "CNY", Counterparty: &name, SourceID: "generic", RawRowIndex: 2},
		},
	}
	fp := commit.NewFingerprinter(nil).Fingerprint(result.Drafts[0])

	mock.ExpectQuery(`SELECT fingerprint`).
		WithArgs(workspace, []string{fp}, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"fingerprint"}).AddRow(fp))

	outcome, err := gate.Commit(context.Background(), workspace, result)
	require.NoError(t, err)
	assert.Equal(t, model.CommitOutcome{InsertedCount: 0, SkippedDuplicateCount: 1}, *outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransactionStore_DeleteWorkspace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	workspace := uuid.New()
	store := NewPostgresTransactionStore(mock)

	mock.ExpectExec(`DELETE FROM imported_transactions WHERE workspace_id = \$1`).
		WithArgs(workspace).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	deleted, err := store.DeleteWorkspace(context.Background(), workspace)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)

	boom := errors.New("permission denied")
	mock.ExpectExec(`DELETE FROM imported_transactions`).
		WithArgs(workspace).
		WillReturnError(boom)

	_, err = store.DeleteWorkspace(context.Background(), workspace)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildInsert(t *testing.T) {
	records := testRecords(2)
	balance := decimal.RequireFromString("1964.00")
	records[1].BalanceAfter = &balance
	workspace := uuid.New()

	query, args := buildInsert(workspace, records)
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15), ($16,")
	assert.True(t, strings.HasSuffix(query, "($16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30) ON CONFLICT (workspace_id, fingerprint) DO NOTHING"))
	require.Len(t, args, 2*transactionColumns)

	assert.Equal(t, workspace, args[1])
	assert.Equal(t, "outbound", args[5])
	assert.Nil(t, args[10])
	assert.Equal(t, balance, args[transactionColumns+10])
	assert.Equal(t, int64(12050), args[14], "amount in fen")
}

func TestBuildInsert_MinorUnitsNullWhenCurrencyUnknown(t *testing.T) {
	records := testRecords(1)
	records[0].Currency = "QQQ"

	_, args := buildInsert(uuid.New(), records)
	assert.Nil(t, args[14])
}

// ============================================================================
// BigQuery store
// ============================================================================

func TestToRow(t *testing.T) {
	rec := testRecords(1)[0]
	balance := decimal.RequireFromString("-5.25")
	rec.BalanceAfter = &balance
	workspace := uuid.New()

	row := toRow(workspace, rec)
	assert.Equal(t, workspace.String(), row.WorkspaceID)
	assert.Equal(t, rec.ID.String(), row.ID)
	assert.Equal(t, "241/2", row.Amount.RatString())
	assert.Equal(t, "-21/4", row.BalanceAfter.RatString())
	assert.Equal(t, bigquery.NullString{StringVal: "Coffee Shop", Valid: true}, row.Counterparty)
	assert.False(t, row.Description.Valid)
	assert.Equal(t, int64(1), row.RawRowIndex)
	assert.Equal(t, "outbound", row.Direction)
	assert.Equal(t, bigquery.NullInt64{Int64: 12050, Valid: true}, row.AmountMinor)

	rec.Currency = "JPY"
	rec.Amount = decimal.RequireFromString("1500")
	assert.Equal(t, int64(1500), toRow(workspace, rec).AmountMinor.Int64)
}

func TestPutFailure(t *testing.T) {
	boom := errors.New("quota exceeded")

	t.Run("row errors in the first chunk", func(t *testing.T) {
		multi := bigquery.PutMultiError{
			{RowIndex: 1, Errors: bigquery.MultiError{boom}},
			{RowIndex: 1, Errors: bigquery.MultiError{boom}},
			{RowIndex: 3, Errors: bigquery.MultiError{boom}},
		}
		err := putFailure(0, 5, multi)

		var partial *commit.PartialInsertError
		require.True(t, errors.As(err, &partial))
		assert.Equal(t, 3, partial.Inserted)
	})

	t.Run("every row rejected", func(t *testing.T) {
		multi := bigquery.PutMultiError{{RowIndex: 0}, {RowIndex: 1}}
		err := putFailure(0, 2, multi)

		var partial *commit.PartialInsertError
		assert.False(t, errors.As(err, &partial))
		assert.Error(t, err)
	})

	t.Run("request failure after earlier chunks", func(t *testing.T) {
		err := putFailure(500, 500, boom)

		var partial *commit.PartialInsertError
		require.True(t, errors.As(err, &partial))
		assert.Equal(t, 500, partial.Inserted)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("request failure on the first chunk", func(t *testing.T) {
		err := putFailure(0, 10, boom)
		assert.ErrorIs(t, err, boom)

		var partial *commit.PartialInsertError
		assert.False(t, errors.As(err, &partial))
	})
}
