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

const elsterNamespace = "http://www.elster.de/elsterxml/schema/v11"

// ELSTER UStVA structures. Kz fields carry the form's line codes.
type elsterDocument struct {
	XMLName xml.Name       `xml:"Elster"`
	Xmlns   string         `xml:"xmlns,attr"`
	Header  elsterHeader   `xml:"TransferHeader"`
	Data    elsterDataPart `xml:"DatenTeil>Nutzdatenblock>Nutzdaten>Anmeldungssteuern"`
}

type elsterHeader struct {
	Verfahren string `xml:"Verfahren"`
	DatenArt  string `xml:"DatenArt"`
	Vorgang   string `xml:"Vorgang"`
}

type elsterDataPart struct {
	Art     string      `xml:"art,attr"`
	Version string      `xml:"version,attr"`
	Return  elsterUStVA `xml:"Steuerfall>Umsatzsteuervoranmeldung"`
}

type elsterUStVA struct {
	Jahr     string `xml:"Jahr"`
	Zeitraum string `xml:"Zeitraum"`
	Steuernr string `xml:"Steuernummer"`
	Kz81     string `xml:"Kz81,omitempty"`
	Kz86     string `xml:"Kz86,omitempty"`
	Kz41     string `xml:"Kz41,omitempty"`
	Kz66     string `xml:"Kz66,omitempty"`
	Kz83     string `xml:"Kz83"`
	Anzahl   int    `xml:"AnzahlRechnungen"`
}

type elsterAnswer struct {
	XMLName xml.Name `xml:"ElsterAntwort"`
	Ticket  string   `xml:"Ticket"`
	Status  string   `xml:"Status"`
	Fehler  []string `xml:"Fehler>Text"`
}

// ElsterAdapter files German UStVA returns
type ElsterAdapter struct {
	baseURL string
	apiKey  string
	t       *Transport
}

// NewElsterAdapter creates the DE adapter
func NewElsterAdapter(baseURL string, opts ...TransportOption) *ElsterAdapter {
	return &ElsterAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       NewTransport("DE", opts...),
	}
}

// Country returns DE
func (a *ElsterAdapter) Country() string {
	return "DE"
}

// SetupAuth stores the API key sent with every call
func (a *ElsterAdapter) SetupAuth(creds Credentials) error {
	if creds.APIKey == "" {
		return fmt.Errorf("elster: api key is required")
	}
	a.apiKey = creds.APIKey
	return nil
}

// GeneratePayload renders the UStVA XML. Tax bases are whole euros, tax
// amounts keep cents.
func (a *ElsterAdapter) GeneratePayload(ret *model.VATReturn) (*Payload, error) {
	p, err := ParsePeriod(ret.Period)
	if err != nil {
		return nil, err
	}

	zeitraum := fmt.Sprintf("%02d", p.Month)
	if p.Quarter > 0 {
		zeitraum = fmt.Sprintf("%d", 40+p.Quarter)
	}

	doc := elsterDocument{
		Xmlns: elsterNamespace,
		Header: elsterHeader{
			Verfahren: "ElsterAnmeldung",
			DatenArt:  "UStVA",
			Vorgang:   "send-Auth",
		},
		Data: elsterDataPart{
			Art:     "UStVA",
			Version: fmt.Sprintf("%d01", p.Year),
			Return: elsterUStVA{
				Jahr:     fmt.Sprintf("%d", p.Year),
				Zeitraum: zeitraum,
				Steuernr: ret.TaxID,
				Kz81:     wholeEuros(ret.StandardNet),
				Kz86:     wholeEuros(ret.ReducedNet),
				Kz41:     wholeEuros(ret.IntraEUNet),
				Kz66:     cents(ret.DeductibleVAT),
				Kz83:     ret.NetVATDue().StringFixed(2),
				Anzahl:   ret.InvoiceCount,
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal elster xml: %w", err)
	}
	return &Payload{
		ContentType: "application/xml",
		Body:        append([]byte(xml.Header), body...),
	}, nil
}

// ParseResponse maps the ELSTER answer onto the submission states
func (a *ElsterAdapter) ParseResponse(raw *RawResponse) (*model.FilingResult, error) {
	var ans elsterAnswer
	if len(raw.Body) > 0 {
		if err := xml.Unmarshal(raw.Body, &ans); err != nil && raw.StatusCode < 400 {
			return nil, fmt.Errorf("parse elster answer: %w", err)
		}
	}

	if raw.StatusCode >= 400 {
		details := ans.Fehler
		if len(details) == 0 {
			details = []string{fmt.Sprintf("HTTP %d: %s", raw.StatusCode, truncate(string(raw.Body), 200))}
		}
		return rejectedResult(details), nil
	}

	res := &model.FilingResult{
		AuthorityRef: ans.Ticket,
		Errors:       ans.Fehler,
		ReceivedAt:   time.Now().UTC(),
	}
	switch strings.ToUpper(ans.Status) {
	case "ANGENOMMEN":
		res.Status = model.SubmissionAccepted
	case "ABGELEHNT":
		res.Status = model.SubmissionRejected
	case "IN_BEARBEITUNG":
		res.Status = model.SubmissionPending
	case "", "EINGEGANGEN":
		res.Status = model.SubmissionSubmitted
	default:
		return nil, fmt.Errorf("unknown elster status %q", ans.Status)
	}
	return res, nil
}

// Submit sends the return
func (a *ElsterAdapter) Submit(ctx context.Context, ret *model.VATReturn) (*model.FilingResult, error) {
	return submitWith(ctx, a, a.t, ret, func(p *Payload) request {
		return request{
			method:  http.MethodPost,
			url:     a.baseURL + "/ustva",
			body:    p.Body,
			headers: a.headers(p.ContentType),
		}
	})
}

// CheckStatus polls the ticket
func (a *ElsterAdapter) CheckStatus(ctx context.Context, ref StatusRef) (*model.FilingResult, error) {
	return statusWith(ctx, a, a.t, ref, request{
		method:  http.MethodGet,
		url:     a.baseURL + "/ustva/" + url.PathEscape(ref.AuthorityRef),
		headers: a.headers(""),
	})
}

func (a *ElsterAdapter) headers(contentType string) map[string]string {
	h := map[string]string{
		"Accept":           "application/xml",
		"X-Elster-Api-Key": a.apiKey,
	}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}
