package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/FACorreiaa/statement-import/internal/domain/import/commit"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

// TransactionRow is the BigQuery shape of an imported transaction.
type TransactionRow struct {
	ID           string              `bigquery:"id"`
	WorkspaceID  string              `bigquery:"workspace_id"`
	Fingerprint  string              `bigquery:"fingerprint"`
	OccurredAt   time.Time           `bigquery:"occurred_at"`
	Amount       *big.Rat            `bigquery:"amount"`
	Direction    string              `bigquery:"direction"`
	Currency     string              `bigquery:"currency"`
	Counterparty bigquery.NullString `bigquery:"counterparty"`
	Description  bigquery.NullString `bigquery:"description"`
	Category     bigquery.NullString `bigquery:"category"`
	BalanceAfter *big.Rat            `bigquery:"balance_after"`
	SourceID     string              `bigquery:"source_id"`
	RawRowIndex  int64               `bigquery:"raw_row_index"`
	ImportedAt   time.Time           `bigquery:"imported_at"`
	AmountMinor  bigquery.NullInt64  `bigquery:"amount_minor"`
}

// BigQueryTransactionStore implements commit.TransactionStore on a
// BigQuery table. Streaming inserts carry the fingerprint as insert ID, so
// retried batches are deduplicated on a best-effort basis by BigQuery too.
type BigQueryTransactionStore struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQueryTransactionStore opens a client for the project.
func NewBigQueryTransactionStore(ctx context.Context, projectID, dataset, table string) (*BigQueryTransactionStore, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return NewBigQueryTransactionStoreWithClient(client, dataset, table), nil
}

func NewBigQueryTransactionStoreWithClient(client *bigquery.Client, dataset, table string) *BigQueryTransactionStore {
	return &BigQueryTransactionStore{client: client, dataset: dataset, table: table}
}

// Close closes the BigQuery client connection.
func (s *BigQueryTransactionStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *BigQueryTransactionStore) FindExistingFingerprints(ctx context.Context, workspaceID uuid.UUID, fingerprints []string, window commit.DateWindow) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return found, nil
	}

	q := s.client.Query(fmt.Sprintf(`
		SELECT DISTINCT fingerprint
		FROM `+"`%s.%s.%s`"+`
		WHERE workspace_id = @workspace_id
		  AND fingerprint IN UNNEST(@fingerprints)
		  AND occurred_at BETWEEN @from AND @to
	`, s.client.Project(), s.dataset, s.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "workspace_id", Value: workspaceID.String()},
		{Name: "fingerprints", Value: fingerprints},
		{Name: "from", Value: window.From},
		{Name: "to", Value: window.To},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	for {
		var row struct {
			Fingerprint string `bigquery:"fingerprint"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read fingerprint: %w", err)
		}
		found[row.Fingerprint] = struct{}{}
	}
	return found, nil
}

// InsertBatch streams the records in chunks. A chunk that fails part-way is
// reported as a PartialInsertError counting every row that made it.
func (s *BigQueryTransactionStore) InsertBatch(ctx context.Context, workspaceID uuid.UUID, records []commit.Record) (int, error) {
	inserter := s.client.Dataset(s.dataset).Table(s.table).Inserter()

	inserted := 0
	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		savers := make([]*bigquery.StructSaver, 0, end-start)
		for _, rec := range records[start:end] {
			savers = append(savers, &bigquery.StructSaver{
				Struct:   toRow(workspaceID, rec),
				InsertID: rec.Fingerprint,
			})
		}

		if err := inserter.Put(ctx, savers); err != nil {
			return inserted, putFailure(inserted, len(savers), err)
		}
		inserted += len(savers)
	}
	return inserted, nil
}

// putFailure turns a failed Put into the error the commit gate expects,
// given how many rows earlier chunks already wrote.
func putFailure(before, attempted int, err error) error {
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		failed := make(map[int]struct{}, len(multi))
		for _, rowErr := range multi {
			failed[rowErr.RowIndex] = struct{}{}
		}
		if written := before + attempted - len(failed); written > 0 {
			return &commit.PartialInsertError{Inserted: written, Err: err}
		}
		return fmt.Errorf("failed to insert rows: %w", err)
	}
	if before > 0 {
		return &commit.PartialInsertError{Inserted: before, Err: err}
	}
	return fmt.Errorf("failed to insert rows: %w", err)
}

func toRow(workspaceID uuid.UUID, rec commit.Record) TransactionRow {
	row := TransactionRow{
		ID:           rec.ID.String(),
		WorkspaceID:  workspaceID.String(),
		Fingerprint:  rec.Fingerprint,
		OccurredAt:   rec.OccurredAt.UTC(),
		Amount:       rec.Amount.Rat(),
		Direction:    string(rec.Direction),
		Currency:     rec.Currency,
		Counterparty: nullString(rec.Counterparty),
		Description:  nullString(rec.Description),
		Category:     nullString(rec.Category),
		SourceID:     rec.SourceID,
		RawRowIndex:  int64(rec.RawRowIndex),
		ImportedAt:   rec.ImportedAt.UTC(),
	}
	if rec.BalanceAfter != nil {
		row.BalanceAfter = rec.BalanceAfter.Rat()
	}
	if minor, err := money.MinorUnits(rec.Amount, rec.Currency); err == nil {
		row.AmountMinor = bigquery.NullInt64{Int64: minor, Valid: true}
	}
	return row
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}
