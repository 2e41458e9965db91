// Package filing submits VAT returns to national tax authorities.
//
// Each authority is an Adapter that turns a model.VATReturn into its own wire
// format. Adapters share a Transport for HTTP, retries and rate limiting.
package filing

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/rezonia/vat-compliance/internal/model"
)

// Adapter talks to one tax authority
type Adapter interface {
	// Country returns the ISO code of the authority
	Country() string

	// SetupAuth installs credentials on the adapter's transport
	SetupAuth(creds Credentials) error

	// GeneratePayload renders the return in the authority's format.
	// The output must be deterministic for equal returns.
	GeneratePayload(ret *model.VATReturn) (*Payload, error)

	// ParseResponse normalizes an authority response
	ParseResponse(raw *RawResponse) (*model.FilingResult, error)

	// Submit sends the return, retrying transient failures
	Submit(ctx context.Context, ret *model.VATReturn) (*model.FilingResult, error)

	// CheckStatus polls the authority for a previously accepted submission
	CheckStatus(ctx context.Context, ref StatusRef) (*model.FilingResult, error)
}

// Credentials for an authority. API-key authorities use APIKey; OAuth
// authorities use either the client-credentials fields or AccessToken.
type Credentials struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	AccessToken  string
}

// Payload is a rendered return
type Payload struct {
	ContentType string
	Body        []byte
}

// RawResponse is an authority answer before normalization
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusRef identifies a submission at the authority
type StatusRef struct {
	AuthorityRef string
	TaxID        string
	Period       string
}

// Registry maps country codes to adapters
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from adapters. A later adapter for the same
// country replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter of a's country
func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToUpper(a.Country())] = a
}

// Get returns the adapter for country or a *model.NotFoundError
func (r *Registry) Get(country string) (Adapter, error) {
	if a, ok := r.adapters[strings.ToUpper(country)]; ok {
		return a, nil
	}
	return nil, model.NewNotFoundError("filing adapter", country)
}

// Countries returns the supported country codes, sorted
func (r *Registry) Countries() []string {
	out := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// rejectedResult builds the terminal result for a 4xx answer
func rejectedResult(details []string) *model.FilingResult {
	return &model.FilingResult{
		Status: model.SubmissionRejected,
		Errors: details,
	}
}
