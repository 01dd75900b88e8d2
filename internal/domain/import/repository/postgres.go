// Package repository holds the durable TransactionStore implementations.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import/internal/domain/import/commit"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

const (
	// insertBatchSize keeps each INSERT well below the Postgres bind limit.
	insertBatchSize = 500

	transactionColumns = 15
)

// DBTX is the slice of pgxpool.Pool the store needs.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresTransactionStore implements commit.TransactionStore on the
// imported_transactions table.
type PostgresTransactionStore struct {
	db DBTX
}

func NewPostgresTransactionStore(db DBTX) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

// FindExistingFingerprints returns the fingerprints already stored for the
// workspace inside the window.
func (r *PostgresTransactionStore) FindExistingFingerprints(ctx context.Context, workspaceID uuid.UUID, fingerprints []string, window commit.DateWindow) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return found, nil
	}

	query := `
		SELECT fingerprint
		FROM imported_transactions
		WHERE workspace_id = $1
		  AND fingerprint = ANY($2)
		  AND occurred_at BETWEEN $3 AND $4`

	rows, err := r.db.Query(ctx, query, workspaceID, fingerprints, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		found[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fingerprints: %w", err)
	}
	return found, nil
}

// InsertBatch writes every record in one transaction. Rows that collide on
// (workspace_id, fingerprint) are skipped; any error rolls back the lot.
func (r *PostgresTransactionStore) InsertBatch(ctx context.Context, workspaceID uuid.UUID, records []commit.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		query, args := buildInsert(workspaceID, records[start:end])

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert transactions %d-%d: %w", start+1, end, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// DeleteWorkspace removes every imported row of a workspace.
func (r *PostgresTransactionStore) DeleteWorkspace(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM imported_transactions WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workspace transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func buildInsert(workspaceID uuid.UUID, records []commit.Record) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO imported_transactions (
		id, workspace_id, fingerprint, occurred_at, amount, direction, currency,
		counterparty, description, category, balance_after, source_id, raw_row_index, imported_at,
		amount_minor
	) VALUES `)

	args := make([]any, 0, len(records)*transactionColumns)
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < transactionColumns; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*transactionColumns+c+1)
		}
		b.WriteByte(')')

		args = append(args,
			rec.ID,
			workspaceID,
			rec.Fingerprint,
			rec.OccurredAt.UTC(),
			rec.Amount,
			string(rec.Direction),
			rec.Currency,
			rec.Counterparty,
			rec.Description,
			rec.Category,
			nullableDecimal(rec.BalanceAfter),
			rec.SourceID,
			rec.RawRowIndex,
			rec.ImportedAt,
			nullableMinorUnits(rec),
		)
	}
	b.WriteString(" ON CONFLICT (workspace_id, fingerprint) DO NOTHING")
	return b.String(), args
}

// nullableMinorUnits stores NULL when the amount has no exact minor-unit
// form for its currency.
func nullableMinorUnits(rec commit.Record) any {
	minor, err := money.MinorUnits(rec.Amount, rec.Currency)
	if err != nil {
		return nil
	}
	return minor
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}
