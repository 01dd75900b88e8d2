// Package testutil generates realistic statement uploads for tests.
package testutil

import (
	"bytes"
	"encoding/csv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// StatementGenerator produces statement rows and renders them in the
// layouts the default profiles read.
type StatementGenerator struct {
	faker *gofakeit.Faker
}

// NewStatementGenerator creates a generator with a random seed.
func NewStatementGenerator() *StatementGenerator {
	return &StatementGenerator{faker: gofakeit.New(0)}
}

// NewStatementGeneratorWithSeed creates a generator with a specific seed for reproducibility.
func NewStatementGeneratorWithSeed(seed int64) *StatementGenerator {
	return &StatementGenerator{faker: gofakeit.New(seed)}
}

// ============================================================================
// Rows
// ============================================================================

// StatementRow is one generated transaction with its signed amount.
type StatementRow struct {
	Date         time.Time
	Amount       decimal.Decimal
	Counterparty string
	Description  string
}

var counterparties = []string{
	"Starbucks", "Tesco", "Amazon", "Employer Ltd", "City Water",
	"星巴克", "美团外卖", "滴滴出行", "Landlord", "Gym Club",
	"Book Store", "Pharmacy", "Electric Co", "Bakery", "Cinema",
}

var descriptions = []string{
	"Coffee and pastry", "Weekly groceries", "Online order", "Monthly salary",
	"Water bill", "Lunch", "Ride", "Rent", "Membership", "Refund",
}

// Row generates a single transaction. Amounts are whole cents between
// -5000.00 and 5000.00, never zero.
func (g *StatementGenerator) Row() StatementRow {
	cents := int64(g.faker.Number(1, 500000))
	if g.faker.Bool() {
		cents = -cents
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	date := g.faker.DateRange(start, start.AddDate(2, 0, 0)).UTC().Truncate(24 * time.Hour)

	return StatementRow{
		Date:         date,
		Amount:       decimal.New(cents, -2),
		Counterparty: counterparties[g.faker.Number(0, len(counterparties)-1)],
		Description:  descriptions[g.faker.Number(0, len(descriptions)-1)],
	}
}

// Rows generates count transactions.
func (g *StatementGenerator) Rows(count int) []StatementRow {
	rows := make([]StatementRow, count)
	for i := range rows {
		rows[i] = g.Row()
	}
	return rows
}

// garbageLetters cannot spell an ISO currency code or a CR/DR suffix, so
// mixing them with digits never yields a valid amount.
const garbageLetters = "jkqwz"

// Garbage returns a value that never parses as an amount: letters only,
// or digits with letters before, after or inside them.
func (g *StatementGenerator) Garbage() string {
	digits := g.faker.Numerify(strings.Repeat("#", g.faker.Number(1, 6)))
	letters := g.letters(g.faker.Number(1, 4))
	switch g.faker.Number(0, 3) {
	case 0:
		return g.faker.LetterN(uint(g.faker.Number(1, 12)))
	case 1:
		return digits + letters
	case 2:
		return letters + digits
	default:
		return digits + letters + digits
	}
}

func (g *StatementGenerator) letters(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = garbageLetters[g.faker.Number(0, len(garbageLetters)-1)]
	}
	return string(b)
}

// ============================================================================
// Rendering
// ============================================================================

// GenericCSV renders rows with the generic date,amount,counterparty,description header.
func GenericCSV(rows []StatementRow) string {
	return renderCSV([]string{"date", "amount", "counterparty", "description"}, rows, func(r StatementRow) []string {
		return []string{r.Date.Format("2006-01-02"), r.Amount.StringFixed(2), r.Counterparty, r.Description}
	})
}

// AlipayCSV renders rows the way the Alipay bill export lays them out, with
// unsigned amounts and a 收/支 indicator column.
func AlipayCSV(rows []StatementRow) string {
	header := []string{"交易时间", "交易分类", "交易对方", "商品说明", "收/支", "金额", "交易状态"}
	body := renderCSV(header, rows, func(r StatementRow) []string {
		indicator := "收入"
		if r.Amount.IsNegative() {
			indicator = "支出"
		}
		return []string{
			r.Date.Add(12*time.Hour + 30*time.Minute).Format("2006-01-02 15:04:05"),
			"日常消费", r.Counterparty, r.Description, indicator,
			r.Amount.Abs().StringFixed(2), "交易成功",
		}
	})
	return "支付宝交易记录明细查询\n账号:[zhang@example.com]\n" + body
}

func renderCSV(header []string, rows []StatementRow, record func(StatementRow) []string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, r := range rows {
		_ = w.Write(record(r))
	}
	w.Flush()
	return buf.String()
}
