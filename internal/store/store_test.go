package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

var now = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func sampleInvoice(id string) model.Invoice {
	return model.Invoice{
		ID:              id,
		UploadID:        "UP-1",
		CompanyID:       "ACME",
		Number:          "2026-" + id,
		Date:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		NetAmount:       decimal.NewFromInt(1000),
		VATRate:         decimal.NewFromInt(21),
		VATAmount:       decimal.RequireFromString("190.00"),
		SupplierCountry: "DE",
		CustomerCountry: "DE",
		CustomerType:    model.CustomerConsumer,
		ProductType:     model.ProductGoods,
		Status:          model.InvoiceStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func sampleFinding(id, invoiceID string, t model.FindingType) model.Finding {
	return model.Finding{
		ID:          id,
		InvoiceID:   invoiceID,
		UploadID:    "UP-1",
		CompanyID:   "ACME",
		Type:        t,
		Severity:    model.SeverityCritical,
		PenaltyRisk: decimal.NewFromInt(500),
		AutoFixable: true,
		Status:      model.FindingOpen,
		Message:     "rate",
		DetectedAt:  now,
	}
}

func TestInvoiceRepo_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	undated := sampleInvoice("INV-2")
	undated.Date = time.Time{}

	n, err := s.Invoices.BulkInsert(ctx, []model.Invoice{sampleInvoice("INV-1"), undated})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Invoices.BulkInsert(ctx, []model.Invoice{sampleInvoice("INV-1")})
	require.NoError(t, err)
	assert.Zero(t, n, "existing invoices are never overwritten")

	got, err := s.Invoices.Get(ctx, "INV-1")
	require.NoError(t, err)
	assert.True(t, got.VATAmount.Equal(decimal.NewFromInt(190)))
	assert.Equal(t, "2026-03-01", got.Date.Format("2006-01-02"))
	assert.Equal(t, model.ProductGoods, got.ProductType)

	got, err = s.Invoices.Get(ctx, "INV-2")
	require.NoError(t, err)
	assert.False(t, got.HasDate())

	_, err = s.Invoices.Get(ctx, "missing")
	assert.Equal(t, model.KindNotFound, model.Kind(err))

	list, err := s.Invoices.ListByUpload(ctx, "UP-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	inPeriod, err := s.Invoices.ListForPeriod(ctx, "ACME",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, inPeriod, 1, "undated invoices are not part of any period")

	count, err := s.Invoices.CountByCompany(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInvoiceRepo_UpdateAmountsCompareAndSwap(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inv := sampleInvoice("INV-1")
	_, err := s.Invoices.BulkInsert(ctx, []model.Invoice{inv})
	require.NoError(t, err)

	before := inv.Amounts()
	after := model.Amounts{NetAmount: before.NetAmount, VATRate: decimal.NewFromInt(19), VATAmount: decimal.RequireFromString("190.00")}

	ok, err := s.Invoices.UpdateAmounts(ctx, "INV-1", before, after, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Invoices.UpdateAmounts(ctx, "INV-1", before, after, now)
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation must not apply")

	got, err := s.Invoices.Get(ctx, "INV-1")
	require.NoError(t, err)
	assert.True(t, got.Amounts().Equal(after))

	_, err = s.Invoices.UpdateAmounts(ctx, "nope", before, after, now)
	assert.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestFindingRepo_UniquePerInvoiceAndType(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Invoices.BulkInsert(ctx, []model.Invoice{sampleInvoice("INV-1")})
	require.NoError(t, err)

	inserted, err := s.Findings.InsertNew(ctx, []model.Finding{
		sampleFinding("F-1", "INV-1", model.FindingWrongRate),
		sampleFinding("F-2", "INV-1", model.FindingCalculationMismatch),
	})
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	inserted, err = s.Findings.InsertNew(ctx, []model.Finding{sampleFinding("F-3", "INV-1", model.FindingWrongRate)})
	require.NoError(t, err)
	assert.Empty(t, inserted)

	all, err := s.Findings.List(ctx, store.FindingFilter{UploadID: "UP-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFindingRepo_ResolveAndReopen(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Invoices.BulkInsert(ctx, []model.Invoice{sampleInvoice("INV-1"), sampleInvoice("INV-2")})
	require.NoError(t, err)
	_, err = s.Findings.InsertNew(ctx, []model.Finding{
		sampleFinding("F-1", "INV-1", model.FindingWrongRate),
		sampleFinding("F-2", "INV-1", model.FindingCalculationMismatch),
		sampleFinding("F-3", "INV-2", model.FindingWrongRate),
	})
	require.NoError(t, err)

	open, penalty, err := s.Findings.OpenRisk(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 3, open, "every open finding counts, not every invoice")
	assert.True(t, penalty.Equal(decimal.NewFromInt(1500)))

	ok, err := s.Findings.Resolve(ctx, "F-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Findings.Resolve(ctx, "F-1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	f, err := s.Findings.Get(ctx, "F-1")
	require.NoError(t, err)
	assert.Equal(t, model.FindingResolved, f.Status)
	require.NotNil(t, f.ResolvedAt)

	open, err = s.Findings.CountOpenForInvoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	left, err := s.Findings.OpenForInvoice(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "F-2", left[0].ID)

	ok, err = s.Findings.Reopen(ctx, "F-1")
	require.NoError(t, err)
	assert.True(t, ok)

	f, err = s.Findings.Get(ctx, "F-1")
	require.NoError(t, err)
	assert.True(t, f.IsOpen())
	assert.Nil(t, f.ResolvedAt)

	ok, err = s.Findings.Reopen(ctx, "F-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFixRepo_SupersedeAndUndo(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	inv := sampleInvoice("INV-1")
	_, err := s.Invoices.BulkInsert(ctx, []model.Invoice{inv})
	require.NoError(t, err)
	_, err = s.Findings.InsertNew(ctx, []model.Finding{sampleFinding("F-1", "INV-1", model.FindingWrongRate)})
	require.NoError(t, err)

	rec := &model.FixRecord{
		ID:             "FX-1",
		FindingID:      "F-1",
		InvoiceID:      "INV-1",
		CompanyID:      "ACME",
		Strategy:       model.StrategyRecalculateVAT,
		Before:         inv.Amounts(),
		After:          model.Amounts{NetAmount: decimal.NewFromInt(1000), VATRate: decimal.NewFromInt(19), VATAmount: decimal.NewFromInt(190)},
		Changes:        []string{"VAT rate: 21% → 19%"},
		PenaltyAvoided: decimal.NewFromInt(500),
		ActorID:        "alice",
		Undoable:       true,
		CreatedAt:      now,
	}
	require.NoError(t, s.Fixes.Insert(ctx, rec))

	got, err := s.Fixes.Get(ctx, "FX-1")
	require.NoError(t, err)
	assert.True(t, got.Before.Equal(rec.Before))
	assert.Equal(t, rec.Changes, got.Changes)
	assert.True(t, got.Undoable)

	ok, err := s.Fixes.MarkUndone(ctx, "FX-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Fixes.MarkUndone(ctx, "FX-1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	rec2 := *rec
	rec2.ID = "FX-2"
	require.NoError(t, s.Fixes.Insert(ctx, &rec2))
	rec3 := *rec
	rec3.ID = "FX-3"
	require.NoError(t, s.Fixes.Insert(ctx, &rec3))
	n, err := s.Fixes.Supersede(ctx, "INV-1", "FX-3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err = s.Fixes.MarkUndone(ctx, "FX-2", now)
	require.NoError(t, err)
	assert.False(t, ok, "superseded records cannot be undone")

	latest, err := s.Fixes.Get(ctx, "FX-3")
	require.NoError(t, err)
	assert.True(t, latest.Undoable)

	history, err := s.Fixes.ListByInvoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestLedgerRepo_Accumulates(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ledger.Add(ctx, "ACME", "2026-03", 1, decimal.NewFromInt(500), now))
	require.NoError(t, s.Ledger.Add(ctx, "ACME", "2026-03", 1, decimal.NewFromInt(150), now))
	require.NoError(t, s.Ledger.Add(ctx, "ACME", "2026-03", -1, decimal.NewFromInt(-150), now))
	require.NoError(t, s.Ledger.Add(ctx, "ACME", "2026-02", 1, decimal.NewFromInt(250), now))

	entries, err := s.Ledger.List(ctx, "ACME")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-03", entries[0].Period)
	assert.Equal(t, 1, entries[0].FixedCount)
	assert.True(t, entries[0].PenaltyAvoided.Equal(decimal.NewFromInt(500)))
}

func TestSubmissionRepo(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	sub := &model.Submission{
		ID:          "S-1",
		CompanyID:   "ACME",
		Country:     "DE",
		Period:      "2026-03",
		TaxID:       "DE123456789",
		PayloadHash: "abc",
		Status:      model.SubmissionSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.Submissions.Insert(ctx, sub))

	latest, err := s.Submissions.Latest(ctx, "DE", "2026-03", "DE123456789", "abc")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "S-1", latest.ID)

	latest, err = s.Submissions.Latest(ctx, "DE", "2026-03", "DE123456789", "other")
	require.NoError(t, err)
	assert.Nil(t, latest)

	sub.Status = model.SubmissionRejected
	sub.AuthorityRef = "ELS-1"
	sub.Errors = []string{"Kz81 missing"}
	sub.Attempts = 1
	require.NoError(t, s.Submissions.Update(ctx, sub))

	got, err := s.Submissions.FindByAuthorityRef(ctx, "DE", "ELS-1")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionRejected, got.Status)
	assert.Equal(t, []string{"Kz81 missing"}, got.Errors)

	_, err = s.Submissions.Get(ctx, "S-404")
	assert.Equal(t, model.KindNotFound, model.Kind(err))

	all, err := s.Submissions.ListByCompany(ctx, "ACME")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
