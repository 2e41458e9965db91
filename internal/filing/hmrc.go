package filing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rezonia/vat-compliance/internal/model"
)

const hmrcAccept = "application/vnd.hmrc.1.0+json"

// hmrcReturn is the MTD VAT return body. Box 6-9 values are whole pounds.
type hmrcReturn struct {
	PeriodKey                    string      `json:"periodKey"`
	VATDueSales                  json.Number `json:"vatDueSales"`
	VATDueAcquisitions           json.Number `json:"vatDueAcquisitions"`
	TotalVATDue                  json.Number `json:"totalVatDue"`
	VATReclaimedCurrPeriod       json.Number `json:"vatReclaimedCurrPeriod"`
	NetVATDue                    json.Number `json:"netVatDue"`
	TotalValueSalesExVAT         int64       `json:"totalValueSalesExVAT"`
	TotalValuePurchasesExVAT     int64       `json:"totalValuePurchasesExVAT"`
	TotalValueGoodsSuppliedExVAT int64       `json:"totalValueGoodsSuppliedExVAT"`
	TotalAcquisitionsExVAT       int64       `json:"totalAcquisitionsExVAT"`
	Finalised                    bool        `json:"finalised"`
}

type hmrcReceipt struct {
	ProcessingDate   string `json:"processingDate"`
	FormBundleNumber string `json:"formBundleNumber"`
	ChargeRefNumber  string `json:"chargeRefNumber"`
	PeriodKey        string `json:"periodKey"`
}

type hmrcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
	Errors  []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Path    string `json:"path"`
	} `json:"errors"`
}

// HMRCAdapter files UK returns through Making Tax Digital
type HMRCAdapter struct {
	baseURL string
	t       *Transport
}

// NewHMRCAdapter creates the GB adapter
func NewHMRCAdapter(baseURL string, opts ...TransportOption) *HMRCAdapter {
	return &HMRCAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       NewTransport("GB", opts...),
	}
}

// Country returns GB
func (a *HMRCAdapter) Country() string {
	return "GB"
}

// SetupAuth installs an OAuth2 bearer token source on the transport: client
// credentials when a token URL is configured, otherwise a static access token.
func (a *HMRCAdapter) SetupAuth(creds Credentials) error {
	var src oauth2.TokenSource
	switch {
	case creds.ClientID != "" && creds.ClientSecret != "" && creds.TokenURL != "":
		cfg := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       creds.Scopes,
		}
		if len(cfg.Scopes) == 0 {
			cfg.Scopes = []string{"read:vat", "write:vat"}
		}
		src = cfg.TokenSource(context.Background())
	case creds.AccessToken != "":
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	default:
		return fmt.Errorf("hmrc: client credentials or access token required")
	}

	a.t.wrapRoundTripper(func(base http.RoundTripper) http.RoundTripper {
		return &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, src), Base: base}
	})
	return nil
}

// GeneratePayload renders the MTD JSON body
func (a *HMRCAdapter) GeneratePayload(ret *model.VATReturn) (*Payload, error) {
	key, err := PeriodKey(ret.Period)
	if err != nil {
		return nil, err
	}

	totalDue := ret.SalesVAT.Add(ret.AcquisitionsVAT)
	body := hmrcReturn{
		PeriodKey:                    key,
		VATDueSales:                  money(ret.SalesVAT),
		VATDueAcquisitions:           money(ret.AcquisitionsVAT),
		TotalVATDue:                  money(totalDue),
		VATReclaimedCurrPeriod:       money(ret.DeductibleVAT),
		NetVATDue:                    money(totalDue.Sub(ret.DeductibleVAT).Abs()),
		TotalValueSalesExVAT:         ret.SalesNet.Truncate(0).IntPart(),
		TotalValuePurchasesExVAT:     ret.PurchasesNet.Truncate(0).IntPart(),
		TotalValueGoodsSuppliedExVAT: ret.IntraEUNet.Truncate(0).IntPart(),
		TotalAcquisitionsExVAT:       0,
		Finalised:                    true,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal hmrc return: %w", err)
	}
	return &Payload{ContentType: "application/json", Body: data}, nil
}

// ParseResponse maps the MTD answer. A receipt means the return was accepted.
func (a *HMRCAdapter) ParseResponse(raw *RawResponse) (*model.FilingResult, error) {
	if raw.StatusCode >= 400 {
		var e hmrcError
		_ = json.Unmarshal(raw.Body, &e)

		var details []string
		if e.Code != "" {
			details = append(details, fmt.Sprintf("%s: %s", e.Code, e.Message))
		}
		for _, sub := range e.Errors {
			details = append(details, fmt.Sprintf("%s: %s (%s)", sub.Code, sub.Message, sub.Path))
		}
		if len(details) == 0 {
			details = []string{fmt.Sprintf("HTTP %d: %s", raw.StatusCode, truncate(string(raw.Body), 200))}
		}
		return rejectedResult(details), nil
	}

	var receipt hmrcReceipt
	if err := json.Unmarshal(raw.Body, &receipt); err != nil {
		return nil, fmt.Errorf("parse hmrc receipt: %w", err)
	}

	res := &model.FilingResult{
		Status:       model.SubmissionAccepted,
		AuthorityRef: receipt.FormBundleNumber,
		ReceivedAt:   time.Now().UTC(),
	}
	if receipt.FormBundleNumber == "" {
		// a viewed return carries its period key but no bundle number
		res.AuthorityRef = receipt.PeriodKey
	}
	if t, err := time.Parse(time.RFC3339, receipt.ProcessingDate); err == nil {
		res.ReceivedAt = t.UTC()
	}
	return res, nil
}

// Submit posts the return for the VRN in ret.TaxID
func (a *HMRCAdapter) Submit(ctx context.Context, ret *model.VATReturn) (*model.FilingResult, error) {
	vrn := normalizeVRN(ret.TaxID)
	return submitWith(ctx, a, a.t, ret, func(p *Payload) request {
		return request{
			method: http.MethodPost,
			url:    fmt.Sprintf("%s/organisations/vat/%s/returns", a.baseURL, url.PathEscape(vrn)),
			body:   p.Body,
			headers: map[string]string{
				"Accept":       hmrcAccept,
				"Content-Type": p.ContentType,
			},
		}
	})
}

// CheckStatus views the submitted return. MTD has no pending state: a 404
// means the return is not visible yet.
func (a *HMRCAdapter) CheckStatus(ctx context.Context, ref StatusRef) (*model.FilingResult, error) {
	key, err := PeriodKey(ref.Period)
	if err != nil {
		return nil, err
	}

	res, err := statusWith(ctx, a, a.t, ref, request{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/organisations/vat/%s/returns/%s", a.baseURL, url.PathEscape(normalizeVRN(ref.TaxID)), url.PathEscape(key)),
		headers: map[string]string{"Accept": hmrcAccept},
	})
	if err != nil {
		return nil, err
	}
	if res.Status == model.SubmissionAccepted {
		res.AuthorityRef = ref.AuthorityRef
	}
	return res, nil
}

// PeriodKey derives the MTD period key: "26A1" for 2026-Q1 and "26AC" for
// 2026-03 (A + month letter).
func PeriodKey(period string) (string, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return "", err
	}
	yy := p.Year % 100
	if p.Quarter > 0 {
		return fmt.Sprintf("%02dA%d", yy, p.Quarter), nil
	}
	return fmt.Sprintf("%02dA%c", yy, 'A'+rune(p.Month-1)), nil
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func normalizeVRN(taxID string) string {
	return strings.TrimPrefix(strings.ToUpper(strings.ReplaceAll(taxID, " ", "")), "GB")
}
