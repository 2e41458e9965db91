package filing

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rezonia/vat-compliance/internal/model"
)

const dgfipNamespace = "urn:dgfip:tva:ca3:v1"

// CA3 structures. Line codes follow the paper form.
type ca3Declaration struct {
	XMLName      xml.Name        `xml:"DeclarationCA3"`
	Xmlns        string          `xml:"xmlns,attr"`
	Entete       ca3Entete       `xml:"Entete"`
	Lignes       []ca3Ligne      `xml:"Operations>Ligne"`
	EtatsMembres []ca3EtatMembre `xml:"EtatsMembres>EtatMembre,omitempty"`
	Resultat     ca3Resultat     `xml:"Resultat"`
}

type ca3Entete struct {
	NumeroTVA  string `xml:"NumeroTVA"`
	Debut      string `xml:"Periode>Debut"`
	Fin        string `xml:"Periode>Fin"`
	NbFactures int    `xml:"NombreFactures"`
}

type ca3Ligne struct {
	Code string `xml:"code,attr"`
	Base string `xml:"Base,omitempty"`
	Taxe string `xml:"Taxe,omitempty"`
}

type ca3EtatMembre struct {
	Code string `xml:"code,attr"`
	Base string `xml:"Base"`
	Taxe string `xml:"Taxe"`
}

type ca3Resultat struct {
	TVABrute      string `xml:"TVABrute"`
	TVADeductible string `xml:"TVADeductible"`
	TVANette      string `xml:"TVANetteDue"`
}

type ca3Accuse struct {
	XMLName     xml.Name `xml:"AccuseReception"`
	Etat        string   `xml:"Etat"`
	NumeroDepot string   `xml:"NumeroDepot"`
	Anomalies   []string `xml:"Anomalies>Anomalie"`
}

// DGFiPAdapter files French CA3 returns
type DGFiPAdapter struct {
	baseURL string
	apiKey  string
	t       *Transport
}

// NewDGFiPAdapter creates the FR adapter
func NewDGFiPAdapter(baseURL string, opts ...TransportOption) *DGFiPAdapter {
	return &DGFiPAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       NewTransport("FR", opts...),
	}
}

// Country returns FR
func (a *DGFiPAdapter) Country() string {
	return "FR"
}

// SetupAuth stores the API key
func (a *DGFiPAdapter) SetupAuth(creds Credentials) error {
	if creds.APIKey == "" {
		return fmt.Errorf("dgfip: api key is required")
	}
	a.apiKey = creds.APIKey
	return nil
}

// GeneratePayload renders the CA3 XML with one EtatMembre block per
// destination member state.
func (a *DGFiPAdapter) GeneratePayload(ret *model.VATReturn) (*Payload, error) {
	p, err := ParsePeriod(ret.Period)
	if err != nil {
		return nil, err
	}

	standardVAT := ret.SalesVAT.Sub(ret.ReducedVAT)
	decl := ca3Declaration{
		Xmlns: dgfipNamespace,
		Entete: ca3Entete{
			NumeroTVA:  ret.TaxID,
			Debut:      p.Start.Format("2006-01-02"),
			Fin:        p.LastDay().Format("2006-01-02"),
			NbFactures: ret.InvoiceCount,
		},
		Lignes: []ca3Ligne{
			{Code: "A1", Base: ret.SalesNet.StringFixed(2)},
			{Code: "08", Base: ret.StandardNet.StringFixed(2), Taxe: standardVAT.StringFixed(2)},
			{Code: "09", Base: ret.ReducedNet.StringFixed(2), Taxe: ret.ReducedVAT.StringFixed(2)},
			{Code: "F2", Base: ret.IntraEUNet.StringFixed(2)},
			{Code: "20", Taxe: ret.DeductibleVAT.StringFixed(2)},
		},
		Resultat: ca3Resultat{
			TVABrute:      ret.SalesVAT.Add(ret.AcquisitionsVAT).StringFixed(2),
			TVADeductible: ret.DeductibleVAT.StringFixed(2),
			TVANette:      ret.NetVATDue().StringFixed(2),
		},
	}
	for _, ms := range ret.MemberStates {
		decl.EtatsMembres = append(decl.EtatsMembres, ca3EtatMembre{
			Code: ms.Country,
			Base: ms.NetAmount.StringFixed(2),
			Taxe: ms.VATAmount.StringFixed(2),
		})
	}

	body, err := xml.MarshalIndent(decl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal ca3 xml: %w", err)
	}
	return &Payload{
		ContentType: "application/xml; charset=utf-8",
		Body:        append([]byte(xml.Header), body...),
	}, nil
}

// ParseResponse maps the DGFiP acknowledgement onto the submission states
func (a *DGFiPAdapter) ParseResponse(raw *RawResponse) (*model.FilingResult, error) {
	var acc ca3Accuse
	if len(raw.Body) > 0 {
		if err := xml.Unmarshal(raw.Body, &acc); err != nil && raw.StatusCode < 400 {
			return nil, fmt.Errorf("parse dgfip acknowledgement: %w", err)
		}
	}

	if raw.StatusCode >= 400 {
		details := acc.Anomalies
		if len(details) == 0 {
			details = []string{fmt.Sprintf("HTTP %d: %s", raw.StatusCode, truncate(string(raw.Body), 200))}
		}
		return rejectedResult(details), nil
	}

	res := &model.FilingResult{
		AuthorityRef: acc.NumeroDepot,
		Errors:       acc.Anomalies,
		ReceivedAt:   time.Now().UTC(),
	}
	switch strings.ToUpper(acc.Etat) {
	case "ACCEPTE":
		res.Status = model.SubmissionAccepted
	case "REJETE":
		res.Status = model.SubmissionRejected
	case "EN_COURS":
		res.Status = model.SubmissionPending
	case "", "DEPOSE":
		res.Status = model.SubmissionSubmitted
	default:
		return nil, fmt.Errorf("unknown dgfip state %q", acc.Etat)
	}
	return res, nil
}

// Submit deposits the return
func (a *DGFiPAdapter) Submit(ctx context.Context, ret *model.VATReturn) (*model.FilingResult, error) {
	return submitWith(ctx, a, a.t, ret, func(p *Payload) request {
		return request{
			method:  http.MethodPost,
			url:     a.baseURL + "/ca3/depots",
			body:    p.Body,
			headers: a.headers(p.ContentType),
		}
	})
}

// CheckStatus polls a deposit
func (a *DGFiPAdapter) CheckStatus(ctx context.Context, ref StatusRef) (*model.FilingResult, error) {
	return statusWith(ctx, a, a.t, ref, request{
		method:  http.MethodGet,
		url:     a.baseURL + "/ca3/depots/" + url.PathEscape(ref.AuthorityRef),
		headers: a.headers(""),
	})
}

func (a *DGFiPAdapter) headers(contentType string) map[string]string {
	h := map[string]string{
		"Accept":          "application/xml",
		"X-DGFiP-Cle-Api": a.apiKey,
	}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}
