package compliance_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/compliance"
	"github.com/rezonia/vat-compliance/internal/config"
	"github.com/rezonia/vat-compliance/internal/detector"
	"github.com/rezonia/vat-compliance/internal/filing"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/remediation"
	"github.com/rezonia/vat-compliance/internal/rules"
	"github.com/rezonia/vat-compliance/internal/store"
	"github.com/rezonia/vat-compliance/internal/strategy"
)

const upload = `id,company_id,number,date,net_amount,vat_rate,vat_amount,supplier_country,customer_country,customer_vat_id,customer_type,product_type,description
INV-1,ACME,2026-001,2026-03-01,1000,21,210,DE,DE,,consumer,goods,Office chairs
INV-2,ACME,2026-002,2026-03-02,100,19,19,DE,DE,,business,goods,Paper
INV-3,ACME,2026-003,2026-03-03,200,19,38,DE,DE,,consumer,goods,Desk lamp
INV-4,ACME,2026-004,2026-03-04,nope,19,38,DE,DE,,consumer,goods,Broken row
`

func clock() time.Time {
	return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
}

func newService(t *testing.T, adapters ...filing.Adapter) (*compliance.Service, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)

	catalog := rules.DefaultCatalog()
	policy := rules.DefaultPolicy()
	strategies, err := strategy.NewRegistry(catalog)
	require.NoError(t, err)

	det := detector.New(catalog, policy, strategies, detector.WithLogger(logger.Nop()), detector.WithClock(clock))
	fixes := remediation.New(st.Invoices, st.Findings, st.Fixes, st.Ledger, strategies, policy,
		remediation.WithLogger(logger.Nop()), remediation.WithClock(clock))
	gw := filing.NewGateway(filing.NewRegistry(adapters...), catalog, st.Invoices, st.Submissions,
		filing.WithGatewayLogger(logger.Nop()), filing.WithGatewayClock(clock))

	svc := compliance.New(st, det, fixes, gw, compliance.WithLogger(logger.Nop()), compliance.WithClock(clock))
	return svc, st
}

func ingestAndDetect(t *testing.T, svc *compliance.Service) *compliance.DetectionResult {
	t.Helper()
	ctx := context.Background()

	res, err := svc.Ingest(ctx, "UP-1", strings.NewReader(upload))
	require.NoError(t, err)
	require.Equal(t, 3, res.Imported)

	det, err := svc.DetectErrors(ctx, "UP-1")
	require.NoError(t, err)
	return det
}

func findingOf(t *testing.T, findings []model.Finding, typ model.FindingType) model.Finding {
	t.Helper()
	for _, f := range findings {
		if f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s finding", typ)
	return model.Finding{}
}

func TestIngest_ReportsRowErrorsAndDuplicates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, "UP-1", strings.NewReader(upload))
	require.NoError(t, err)
	assert.Equal(t, "UP-1", res.UploadID)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 3, res.Imported)
	assert.Zero(t, res.Duplicates)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 5, res.Errors[0].Row)
	assert.Equal(t, "net_amount", res.Errors[0].Field)

	again, err := svc.Ingest(ctx, "", strings.NewReader(upload))
	require.NoError(t, err)
	assert.NotEmpty(t, again.UploadID)
	assert.Zero(t, again.Imported)
	assert.Equal(t, 3, again.Duplicates)
}

func TestDetectErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	det := ingestAndDetect(t, svc)
	assert.Equal(t, 3, det.Invoices)
	assert.Equal(t, 2, det.NewFindings)
	require.Len(t, det.Findings, 2)
	findingOf(t, det.Findings, model.FindingWrongRate)
	findingOf(t, det.Findings, model.FindingMissingVATID)

	require.Len(t, det.Health, 1)
	assert.Equal(t, 57, det.Health[0].Score)

	statuses := map[string]model.InvoiceStatus{}
	for _, id := range []string{"INV-1", "INV-2", "INV-3"} {
		inv, err := svc.Invoice(ctx, id)
		require.NoError(t, err)
		statuses[id] = inv.Status
	}
	assert.Equal(t, map[string]model.InvoiceStatus{
		"INV-1": model.InvoiceStatusError,
		"INV-2": model.InvoiceStatusError,
		"INV-3": model.InvoiceStatusValid,
	}, statuses)

	again, err := svc.DetectErrors(ctx, "UP-1")
	require.NoError(t, err)
	assert.Zero(t, again.NewFindings)
	assert.Len(t, again.Findings, 2)
}

func TestDetectErrors_UnknownUpload(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.DetectErrors(context.Background(), "nope")
	assert.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestFixLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	wrongRate := findingOf(t, ingestAndDetect(t, svc).Findings, model.FindingWrongRate)

	diff, err := svc.PreviewFix(ctx, wrongRate.ID)
	require.NoError(t, err)
	assert.True(t, diff.After.VATRate.Equal(decimal.NewFromInt(19)))

	res, err := svc.ExecuteFix(ctx, wrongRate.ID, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.Fix.ActorID)
	require.NotNil(t, res.Health)
	assert.Equal(t, 79, res.Health.Score)

	inv, err := svc.Invoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, "190.00", inv.VATAmount.StringFixed(2))
	assert.Equal(t, model.InvoiceStatusFixed, inv.Status)

	ledger, err := svc.Ledger(ctx, "ACME", "2026-03")
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, 1, ledger[0].FixedCount)
	assert.Equal(t, "405.05", ledger[0].ROIPercent.StringFixed(2))

	other, err := svc.Ledger(ctx, "ACME", "2026-04")
	require.NoError(t, err)
	assert.Empty(t, other)

	history, err := svc.FixHistory(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, history, 1)

	undone, err := svc.UndoFix(ctx, res.Fix.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, undone.Fix.Undone)
	assert.Equal(t, 57, undone.Health.Score)

	_, err = svc.UndoFix(ctx, res.Fix.ID, "user-1")
	assert.Equal(t, model.KindConflict, model.Kind(err))

	open, err := svc.Findings(ctx, store.FindingFilter{InvoiceID: "INV-1", Status: model.FindingOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestBulkFix(t *testing.T) {
	svc, _ := newService(t)
	det := ingestAndDetect(t, svc)

	ids := []string{
		findingOf(t, det.Findings, model.FindingWrongRate).ID,
		findingOf(t, det.Findings, model.FindingMissingVATID).ID,
		"missing",
	}
	res := svc.BulkFix(context.Background(), ids, "user-1", false)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.True(t, res.TotalSavings.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, model.KindNoStrategy, res.Outcomes[1].ErrorKind)
	assert.Equal(t, model.KindNotFound, res.Outcomes[2].ErrorKind)
}

func TestSubmitReturn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<Kz81>")
		_, _ = io.WriteString(w, `<ElsterAntwort><Ticket>ELS-7</Ticket><Status>ANGENOMMEN</Status></ElsterAntwort>`)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, filing.WithBackoffUnit(0), filing.WithTransportLogger(logger.Nop()))
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "k"}))

	svc, _ := newService(t, de)
	ctx := context.Background()
	ingestAndDetect(t, svc)

	ret, _, err := svc.PrepareReturn(ctx, "ACME", "DE", "2026-03", "DE123456789")
	require.NoError(t, err)
	assert.Equal(t, 3, ret.InvoiceCount)

	sub, err := svc.SubmitReturn(ctx, "ACME", "DE", "2026-03", "DE123456789")
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, sub.Status)
	assert.Equal(t, "ELS-7", sub.AuthorityRef)

	checked, err := svc.CheckSubmissionStatus(ctx, "DE", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, checked.Status)

	all, err := svc.Submissions(ctx, "ACME")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.SubmitReturn(ctx, "ACME", "IT", "2026-03", "IT1")
	assert.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestBuild(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.Config{
		DBPath:          ":memory:",
		BulkConcurrency: 2,
		FilingTimeout:   time.Second,
		Elster:          config.AuthorityConfig{BaseURL: "http://elster.invalid", APIKey: "k"},
		DGFiP:           config.AuthorityConfig{BaseURL: "http://dgfip.invalid"},
		HMRC:            config.AuthorityConfig{BaseURL: "http://hmrc.invalid", AccessToken: "t"},
	}

	svc, err := compliance.Build(cfg, store.New(db))
	require.NoError(t, err)
	assert.Equal(t, []string{"DE", "FR", "GB"}, svc.Countries())
	assert.NoError(t, svc.Ping(context.Background()))
}
