// Package e2etest provides end-to-end integration tests for import flows.
package e2etest

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-import/internal/domain/import/commit"
	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/internal/domain/import/service"
	"github.com/FACorreiaa/statement-import/internal/testutil"
)

const scenarioA = "date,amount,counterparty\n" +
	"2024-01-05,-120.50,Coffee Shop\n" +
	"2024-01-06,3000.00,Employer\n" +
	"not-a-date,50,Unknown\n"

type pipeline struct {
	svc   *service.ImportService
	store *commit.MemoryStore
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	reg, err := profile.Default()
	require.NoError(t, err)

	store := commit.NewMemoryStore()
	svc := service.NewImportService(
		parser.NewParser(reg, parser.DefaultConfig(), nil),
		commit.NewGate(store, commit.NewFingerprinter(commit.DefaultFingerprintFields), nil),
		nil,
	)
	return &pipeline{svc: svc, store: store}
}

// TestMixedStatement_ParseThenCommitTwice parses a statement with one bad
// row, then commits it twice to the same workspace.
func TestMixedStatement_ParseThenCommitTwice(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	workspace := uuid.New()

	t.Run("Parse", func(t *testing.T) {
		preview, err := p.svc.Parse(ctx, service.Upload{Data: []byte(scenarioA), FileName: "statement.csv"})
		require.NoError(t, err)
		res := preview.Result

		assert.Equal(t, "generic", res.SourceID)
		assert.Equal(t, model.Tabular, res.SourceType)
		assert.Equal(t, 3, res.RowCount)
		require.Len(t, res.Drafts, 2)

		assert.Equal(t, model.Outbound, res.Drafts[0].Direction)
		assert.True(t, decimal.RequireFromString("120.50").Equal(res.Drafts[0].Amount))
		assert.Equal(t, "CNY", res.Drafts[0].Currency)
		assert.Equal(t, model.Inbound, res.Drafts[1].Direction)
		assert.True(t, decimal.RequireFromString("3000").Equal(res.Drafts[1].Amount))

		require.Len(t, res.Warnings, 1)
		assert.Equal(t, 3, res.Warnings[0].RowIndex)
		require.NotNil(t, res.Warnings[0].Field)
		assert.Equal(t, model.FieldDate, *res.Warnings[0].Field)
		assert.Equal(t, len(res.Drafts)+len(res.Warnings), res.RowCount)
	})

	t.Run("CommitIsIdempotent", func(t *testing.T) {
		first, err := p.svc.Parse(ctx, service.Upload{Data: []byte(scenarioA)})
		require.NoError(t, err)
		outcome, err := p.svc.CommitPreview(ctx, workspace, first.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CommitOutcome{InsertedCount: 2, SkippedDuplicateCount: 0}, *outcome)

		second, err := p.svc.Parse(ctx, service.Upload{Data: []byte(scenarioA)})
		require.NoError(t, err)
		outcome, err = p.svc.CommitPreview(ctx, workspace, second.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CommitOutcome{InsertedCount: 0, SkippedDuplicateCount: 2}, *outcome)

		assert.Equal(t, 2, p.store.Count(workspace))
	})

	t.Run("WorkspacesAreIndependent", func(t *testing.T) {
		preview, err := p.svc.Parse(ctx, service.Upload{Data: []byte(scenarioA)})
		require.NoError(t, err)
		outcome, err := p.svc.CommitPreview(ctx, uuid.New(), preview.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, outcome.InsertedCount)
	})
}

// TestUnrecognizedUpload rejects random bytes before any result exists.
func TestUnrecognizedUpload(t *testing.T) {
	p := newPipeline(t)

	noise := make([]byte, 4096)
	_, err := rand.Read(noise)
	require.NoError(t, err)

	preview, err := p.svc.Parse(context.Background(), service.Upload{Data: noise})
	assert.Nil(t, preview)
	require.ErrorIs(t, err, model.ErrUnrecognizedFormat)

	var ufe *model.UnrecognizedFormatError
	require.ErrorAs(t, err, &ufe)
	assert.Contains(t, ufe.Known, "generic")
	assert.Contains(t, ufe.Known, "alipay")
}

// TestOverlappingExports commits two wallet exports that share a month and
// checks only the new rows land.
func TestOverlappingExports(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	workspace := uuid.New()

	gen := testutil.NewStatementGeneratorWithSeed(42)
	rows := gen.Rows(120)
	older := testutil.AlipayCSV(rows[:80])
	newer := testutil.AlipayCSV(rows[40:])

	first, err := p.svc.Parse(ctx, service.Upload{Data: []byte(older), FileName: "alipay_2024_q1.csv"})
	require.NoError(t, err)
	assert.Equal(t, "alipay", first.Result.SourceID)
	require.Len(t, first.Result.Drafts, 80)
	outcome, err := p.svc.CommitPreview(ctx, workspace, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, outcome.InsertedCount)

	second, err := p.svc.Parse(ctx, service.Upload{Data: []byte(newer), FileName: "alipay_2024_q2.csv"})
	require.NoError(t, err)
	require.Len(t, second.Result.Drafts, 80)
	outcome, err = p.svc.CommitPreview(ctx, workspace, second.ID)
	require.NoError(t, err)

	assert.Equal(t, 80, outcome.InsertedCount+outcome.SkippedDuplicateCount)
	assert.Equal(t, 40, outcome.InsertedCount)
	assert.Equal(t, 120, p.store.Count(workspace))
}

// TestGeneratedStatement_SignsSurvive checks every generated amount comes back
// with the same signed value and date.
func TestGeneratedStatement_SignsSurvive(t *testing.T) {
	p := newPipeline(t)
	rows := testutil.NewStatementGeneratorWithSeed(7).Rows(250)

	preview, err := p.svc.Parse(context.Background(), service.Upload{Data: []byte(testutil.GenericCSV(rows))})
	require.NoError(t, err)
	require.Len(t, preview.Result.Drafts, len(rows))
	assert.Empty(t, preview.Result.Warnings)

	for i, d := range preview.Result.Drafts {
		assert.Truef(t, rows[i].Amount.Equal(d.SignedAmount()), "row %d: want %s got %s", i+1, rows[i].Amount, d.SignedAmount())
		assert.True(t, d.Amount.Sign() > 0, "amounts are never negative")
		assert.Equal(t, rows[i].Date.Format("2006-01-02"), d.OccurredAt.Format("2006-01-02"))
		assert.Equal(t, i+1, d.RawRowIndex)
	}
}
