package filing_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/filing"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
	"github.com/rezonia/vat-compliance/internal/store"
)

const elsterAccepted = `<ElsterAntwort><Ticket>ELS-42</Ticket><Status>ANGENOMMEN</Status></ElsterAntwort>`

func fastTransport() []filing.TransportOption {
	return []filing.TransportOption{
		filing.WithBackoffUnit(0),
		filing.WithTransportLogger(logger.Nop()),
	}
}

type env struct {
	store   *store.Store
	gateway *filing.Gateway
}

func newEnv(t *testing.T, adapters ...filing.Adapter) *env {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.New(db)

	invoices := []model.Invoice{
		sale("INV-1", "DE", "DE", 1000, 19, 190, model.CustomerConsumer, ""),
		sale("INV-2", "DE", "DE", 200, 7, 14, model.CustomerConsumer, ""),
		sale("INV-3", "DE", "FR", 500, 0, 0, model.CustomerBusiness, "FR12345678901"),
		sale("INV-4", "FR", "FR", 100, 20, 20, model.CustomerConsumer, ""),
		sale("INV-5", "FR", "BE", 300, 21, 63, model.CustomerConsumer, ""),
		sale("INV-6", "GB", "GB", 1000, 20, 200, model.CustomerConsumer, ""),
	}
	_, err = s.Invoices.BulkInsert(context.Background(), invoices)
	require.NoError(t, err)

	g := filing.NewGateway(filing.NewRegistry(adapters...), rules.DefaultCatalog(), s.Invoices, s.Submissions,
		filing.WithGatewayLogger(logger.Nop()))
	return &env{store: s, gateway: g}
}

func sale(id, from, to string, net, rate, vat int64, ct model.CustomerType, vatID string) model.Invoice {
	return model.Invoice{
		ID:              id,
		UploadID:        "UP-1",
		CompanyID:       "ACME",
		Date:            time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		NetAmount:       decimal.NewFromInt(net),
		VATRate:         decimal.NewFromInt(rate),
		VATAmount:       decimal.NewFromInt(vat),
		SupplierCountry: from,
		CustomerCountry: to,
		CustomerType:    ct,
		CustomerVATID:   vatID,
		ProductType:     model.ProductGoods,
		Status:          model.InvoiceStatusValid,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func request(country string) filing.SubmitRequest {
	return filing.SubmitRequest{CompanyID: "ACME", Country: country, Period: "2026-03", TaxID: "DE123456789"}
}

func TestSubmit_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("X-Elster-Api-Key"))
		_, _ = io.WriteString(w, elsterAccepted)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, fastTransport()...)
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "secret"}))
	e := newEnv(t, de)

	sub, err := e.gateway.Submit(context.Background(), request("DE"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "one attempt plus exactly three retries")
	assert.Equal(t, 4, sub.Attempts)
	assert.Equal(t, model.SubmissionAccepted, sub.Status)
	assert.Equal(t, "ELS-42", sub.AuthorityRef)

	all, err := e.store.Submissions.ListByCompany(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Len(t, all, 1, "retries reuse one submission")
}

func TestSubmit_ClientErrorIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `<ElsterAntwort><Status>ABGELEHNT</Status><Fehler><Text>Steuernummer ungueltig</Text></Fehler></ElsterAntwort>`)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, fastTransport()...)
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "secret"}))
	e := newEnv(t, de)

	sub, err := e.gateway.Submit(context.Background(), request("DE"))
	var fve *model.FilingValidationError
	require.ErrorAs(t, err, &fve)
	assert.Equal(t, http.StatusBadRequest, fve.StatusCode)
	assert.Equal(t, []string{"Steuernummer ungueltig"}, fve.Details)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is never retried")
	require.NotNil(t, sub)
	assert.Equal(t, model.SubmissionRejected, sub.Status)

	stored, err := e.store.Submissions.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionRejected, stored.Status)
}

func TestSubmit_ExhaustedRetriesFailThenResubmit(t *testing.T) {
	var (
		calls   int32
		healthy atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, elsterAccepted)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, fastTransport()...)
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "secret"}))
	e := newEnv(t, de)
	ctx := context.Background()

	failed, err := e.gateway.Submit(ctx, request("DE"))
	var te *model.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 4, te.Attempts)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, model.SubmissionFailed, failed.Status)
	assert.Equal(t, model.KindTransient, model.Kind(err))

	healthy.Store(true)
	retried, err := e.gateway.Submit(ctx, request("DE"))
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retried.ID, "a failed submission is replaced")
	assert.Equal(t, model.SubmissionAccepted, retried.Status)
}

func TestSubmit_IdenticalPayloadIsIdempotent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, `<ElsterAntwort><Ticket>ELS-7</Ticket><Status>IN_BEARBEITUNG</Status></ElsterAntwort>`)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, fastTransport()...)
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "secret"}))
	e := newEnv(t, de)
	ctx := context.Background()

	first, err := e.gateway.Submit(ctx, request("DE"))
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionPending, first.Status)

	second, err := e.gateway.Submit(ctx, request("DE"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCheckStatus_PendingToAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `<ElsterAntwort><Ticket>ELS-9</Ticket><Status>IN_BEARBEITUNG</Status></ElsterAntwort>`)
			return
		}
		assert.Equal(t, "/ustva/ELS-9", r.URL.Path)
		_, _ = io.WriteString(w, `<ElsterAntwort><Ticket>ELS-9</Ticket><Status>ANGENOMMEN</Status></ElsterAntwort>`)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, fastTransport()...)
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "secret"}))
	e := newEnv(t, de)
	ctx := context.Background()

	sub, err := e.gateway.Submit(ctx, request("DE"))
	require.NoError(t, err)
	require.Equal(t, model.SubmissionPending, sub.Status)

	sub, err = e.gateway.CheckStatus(ctx, "de", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, sub.Status)

	_, err = e.gateway.CheckStatus(ctx, "FR", sub.ID)
	assert.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestCheckStatus_ClientErrorOnPollKeepsSubmissionOpen(t *testing.T) {
	tests := []struct {
		country string
		taxID   string
		pending string
		adapter func(url string) filing.Adapter
	}{
		{
			country: "DE",
			taxID:   "DE123456789",
			pending: `<ElsterAntwort><Ticket>ELS-9</Ticket><Status>IN_BEARBEITUNG</Status></ElsterAntwort>`,
			adapter: func(url string) filing.Adapter { return filing.NewElsterAdapter(url, fastTransport()...) },
		},
		{
			country: "FR",
			taxID:   "FR12345678901",
			pending: `<AccuseReception xmlns="urn:dgfip:tva:ca3:v1"><Etat>EN_COURS</Etat><NumeroDepot>FR-9</NumeroDepot></AccuseReception>`,
			adapter: func(url string) filing.Adapter { return filing.NewDGFiPAdapter(url, fastTransport()...) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.country, func(t *testing.T) {
			pollStatus := int32(http.StatusUnauthorized)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					_, _ = io.WriteString(w, tt.pending)
					return
				}
				w.WriteHeader(int(atomic.LoadInt32(&pollStatus)))
				_, _ = io.WriteString(w, "invalid api key")
			}))
			defer srv.Close()

			a := tt.adapter(srv.URL)
			require.NoError(t, a.SetupAuth(filing.Credentials{APIKey: "expired"}))
			e := newEnv(t, a)
			ctx := context.Background()

			req := request(tt.country)
			req.TaxID = tt.taxID
			sub, err := e.gateway.Submit(ctx, req)
			require.NoError(t, err)
			require.Equal(t, model.SubmissionPending, sub.Status)

			_, err = e.gateway.CheckStatus(ctx, tt.country, sub.ID)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "401")

			stored, err := e.store.Submissions.Get(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, model.SubmissionPending, stored.Status, "a failed poll is not a rejection")

			atomic.StoreInt32(&pollStatus, http.StatusNotFound)
			sub, err = e.gateway.CheckStatus(ctx, tt.country, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, model.SubmissionPending, sub.Status, "not visible yet")
		})
	}
}

func TestSubmit_UnknownCountry(t *testing.T) {
	e := newEnv(t)
	_, err := e.gateway.Submit(context.Background(), request("IT"))
	assert.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestElster_Payload(t *testing.T) {
	e := newEnv(t, filing.NewElsterAdapter("http://unused", fastTransport()...))

	ret, payload, err := e.gateway.Prepare(context.Background(), request("DE"))
	require.NoError(t, err)
	assert.Equal(t, 3, ret.InvoiceCount)
	assert.True(t, ret.StandardNet.Equal(decimal.NewFromInt(1000)))
	assert.True(t, ret.ReducedNet.Equal(decimal.NewFromInt(200)))
	assert.True(t, ret.IntraEUNet.Equal(decimal.NewFromInt(500)))
	require.Len(t, ret.MemberStates, 1)
	assert.Equal(t, "FR", ret.MemberStates[0].Country)

	body := string(payload.Body)
	assert.Contains(t, body, `<Elster xmlns="http://www.elster.de/elsterxml/schema/v11">`)
	assert.Contains(t, body, "<Zeitraum>03</Zeitraum>")
	assert.Contains(t, body, "<Kz81>1000</Kz81>")
	assert.Contains(t, body, "<Kz86>200</Kz86>")
	assert.Contains(t, body, "<Kz41>500</Kz41>")
	assert.Contains(t, body, "<Kz83>204.00</Kz83>")
	assert.NotContains(t, body, "<Kz66>")

	_, again, err := e.gateway.Prepare(context.Background(), request("DE"))
	require.NoError(t, err)
	assert.Equal(t, payload.Body, again.Body, "payload is deterministic")
}

func TestDGFiP_PayloadHasMemberStateBlocks(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ca3/depots", r.URL.Path)
		assert.Equal(t, "cle", r.Header.Get("X-DGFiP-Cle-Api"))
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		_, _ = io.WriteString(w, `<AccuseReception xmlns="urn:dgfip:tva:ca3:v1"><Etat>DEPOSE</Etat><NumeroDepot>FR-1</NumeroDepot></AccuseReception>`)
	}))
	defer srv.Close()

	fr := filing.NewDGFiPAdapter(srv.URL, fastTransport()...)
	require.NoError(t, fr.SetupAuth(filing.Credentials{APIKey: "cle"}))
	e := newEnv(t, fr)

	req := request("FR")
	req.TaxID = "FR12345678901"
	sub, err := e.gateway.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionSubmitted, sub.Status)
	assert.Equal(t, "FR-1", sub.AuthorityRef)

	assert.Contains(t, got, `<DeclarationCA3 xmlns="urn:dgfip:tva:ca3:v1">`)
	assert.Contains(t, got, `<EtatMembre code="BE">`)
	assert.Contains(t, got, "<Base>300.00</Base>")
	assert.Contains(t, got, "<Debut>2026-03-01</Debut>")
	assert.Contains(t, got, "<Fin>2026-03-31</Fin>")
	assert.Contains(t, got, "<TVANetteDue>83.00</TVANetteDue>")
}

func TestHMRC_StaticBearerAndBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/organisations/vat/123456789/returns", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.hmrc.1.0+json", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"processingDate":"2026-04-07T10:00:00Z","formBundleNumber":"256660290587","chargeRefNumber":"aCxFaNx0FZsCvyWF"}`)
	}))
	defer srv.Close()

	gb := filing.NewHMRCAdapter(srv.URL, fastTransport()...)
	require.NoError(t, gb.SetupAuth(filing.Credentials{AccessToken: "tok-1"}))
	e := newEnv(t, gb)

	req := request("GB")
	req.TaxID = "GB 123456789"
	sub, err := e.gateway.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, sub.Status)
	assert.Equal(t, "256660290587", sub.AuthorityRef)

	assert.Equal(t, "26AC", body["periodKey"])
	assert.Equal(t, 200.0, body["vatDueSales"])
	assert.Equal(t, 200.0, body["netVatDue"])
	assert.Equal(t, 1000.0, body["totalValueSalesExVAT"])
	assert.Equal(t, true, body["finalised"])
	for _, key := range []string{"vatDueAcquisitions", "totalVatDue", "vatReclaimedCurrPeriod",
		"totalValuePurchasesExVAT", "totalValueGoodsSuppliedExVAT", "totalAcquisitionsExVAT"} {
		assert.Contains(t, body, key)
	}
}

func TestHMRC_ClientCredentials(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/organisations/vat/123456789/returns", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cc-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":"CLIENT_OR_AGENT_NOT_AUTHORISED","message":"The client and/or agent is not authorised"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gb := filing.NewHMRCAdapter(srv.URL, fastTransport()...)
	require.NoError(t, gb.SetupAuth(filing.Credentials{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/oauth/token",
	}))
	e := newEnv(t, gb)

	req := request("GB")
	req.TaxID = "123456789"
	sub, err := e.gateway.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.Kind(err))
	assert.Equal(t, model.SubmissionRejected, sub.Status)
	assert.Equal(t, []string{"CLIENT_OR_AGENT_NOT_AUTHORISED: The client and/or agent is not authorised"}, sub.Errors)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestHMRC_SetupAuthRequiresCredentials(t *testing.T) {
	gb := filing.NewHMRCAdapter("http://unused")
	assert.Error(t, gb.SetupAuth(filing.Credentials{}))
	assert.Error(t, filing.NewElsterAdapter("http://unused").SetupAuth(filing.Credentials{}))
	assert.Error(t, filing.NewDGFiPAdapter("http://unused").SetupAuth(filing.Credentials{}))
}

func TestTransport_ContextCancelStopsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	de := filing.NewElsterAdapter(srv.URL, filing.WithBackoffUnit(time.Hour), filing.WithTransportLogger(logger.Nop()))
	require.NoError(t, de.SetupAuth(filing.Credentials{APIKey: "secret"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := de.Submit(ctx, &model.VATReturn{Country: "DE", Period: "2026-03", TaxID: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestParsePeriod(t *testing.T) {
	p, err := filing.ParsePeriod("2026-03")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Month)
	assert.Equal(t, "2026-04-01", p.End.Format("2006-01-02"))

	p, err = filing.ParsePeriod("2026-q4")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Quarter)
	assert.Equal(t, "2026-10-01", p.Start.Format("2006-01-02"))
	assert.Equal(t, "2026-12-31", p.LastDay().Format("2006-01-02"))
	assert.Equal(t, "2026-Q4", p.String())

	for _, bad := range []string{"", "2026", "2026-13", "2026-Q5", "26-01"} {
		_, err := filing.ParsePeriod(bad)
		assert.Error(t, err, bad)
	}

	key, err := filing.PeriodKey("2026-Q1")
	require.NoError(t, err)
	assert.Equal(t, "26A1", key)
}

func TestRegistry(t *testing.T) {
	r := filing.NewRegistry(
		filing.NewElsterAdapter("http://de"),
		filing.NewDGFiPAdapter("http://fr"),
		filing.NewHMRCAdapter("http://gb"),
	)
	assert.Equal(t, []string{"DE", "FR", "GB"}, r.Countries())

	a, err := r.Get("gb")
	require.NoError(t, err)
	assert.Equal(t, "GB", a.Country())

	_, err = r.Get("XX")
	assert.True(t, strings.Contains(err.Error(), "XX"))
}
