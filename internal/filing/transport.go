package filing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/metrics"
	"github.com/rezonia/vat-compliance/internal/model"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBackoffUnit = time.Second
	maxResponseBytes   = 1 << 20
)

// Transport performs authority HTTP calls with bounded retries.
//
// Transport errors and 5xx answers are retried up to maxRetries times after the
// first attempt, waiting attempt × backoffUnit before each retry. Every other
// status is returned to the adapter unchanged.
type Transport struct {
	country     string
	client      *http.Client
	maxRetries  int
	backoffUnit time.Duration
	limiter     *rate.Limiter
	log         zerolog.Logger
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.client = c
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithMaxRetries sets how many retries follow the first attempt
func WithMaxRetries(n int) TransportOption {
	return func(t *Transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithBackoffUnit sets the linear backoff step
func WithBackoffUnit(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.backoffUnit = d
	}
}

// WithRateLimit caps requests per second to the authority. Zero disables it.
func WithRateLimit(perSecond float64) TransportOption {
	return func(t *Transport) {
		if perSecond > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			t.limiter = nil
		}
	}
}

// WithTransportLogger sets the logger
func WithTransportLogger(l zerolog.Logger) TransportOption {
	return func(t *Transport) {
		t.log = l
	}
}

// NewTransport creates a transport for one authority
func NewTransport(country string, opts ...TransportOption) *Transport {
	t := &Transport{
		country:     country,
		client:      &http.Client{Timeout: defaultTimeout},
		maxRetries:  defaultMaxRetries,
		backoffUnit: defaultBackoffUnit,
		log:         logger.WithComponent("filing").With().Str("country", country).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// wrapRoundTripper decorates the client's round tripper, e.g. with OAuth
func (t *Transport) wrapRoundTripper(wrap func(base http.RoundTripper) http.RoundTripper) {
	base := t.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *t.client
	c.Transport = wrap(base)
	t.client = &c
}

// request describes one call; the body is replayed on every attempt
type request struct {
	method  string
	url     string
	body    []byte
	headers map[string]string
}

// Do sends req, retrying transient failures. It returns the final response and
// the number of attempts made, or a *model.TransientError once retries run out.
func (t *Transport) Do(ctx context.Context, req request) (*RawResponse, int, error) {
	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			if err := t.sleep(ctx, time.Duration(attempt)*t.backoffUnit); err != nil {
				return nil, attempt, err
			}
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, attempt, fmt.Errorf("rate limiter: %w", err)
			}
		}

		raw, err := t.send(ctx, req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, attempt + 1, ctx.Err()
			}
			lastErr, lastStatus = err, 0
			metrics.FilingAttempts.WithLabelValues(t.country, "transport_error").Inc()
			t.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Authority call failed, will retry")
		case raw.StatusCode >= 500:
			lastErr, lastStatus = nil, raw.StatusCode
			metrics.FilingAttempts.WithLabelValues(t.country, "retry").Inc()
			t.log.Warn().Int("status", raw.StatusCode).Int("attempt", attempt+1).Msg("Authority returned server error, will retry")
		case raw.StatusCode >= 400:
			metrics.FilingAttempts.WithLabelValues(t.country, "client_error").Inc()
			return raw, attempt + 1, nil
		default:
			metrics.FilingAttempts.WithLabelValues(t.country, "ok").Inc()
			return raw, attempt + 1, nil
		}
	}

	attempts := t.maxRetries + 1
	t.log.Error().Int("attempts", attempts).Int("status", lastStatus).Msg("Authority call gave up")
	return nil, attempts, model.NewTransientError(t.country, attempts, lastStatus, lastErr)
}

func (t *Transport) send(ctx context.Context, req request) (*RawResponse, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	metrics.FilingLatency.WithLabelValues(t.country).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// submitWith is the shared Submit flow: render, send, normalize
func submitWith(ctx context.Context, a Adapter, t *Transport, ret *model.VATReturn, build func(*Payload) request) (*model.FilingResult, error) {
	payload, err := a.GeneratePayload(ret)
	if err != nil {
		return nil, fmt.Errorf("generate %s payload: %w", a.Country(), err)
	}

	raw, attempts, err := t.Do(ctx, build(payload))
	if err != nil {
		return nil, err
	}

	res, err := a.ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	res.Attempts = attempts
	res.StatusCode = raw.StatusCode
	if res.ReceivedAt.IsZero() {
		res.ReceivedAt = time.Now().UTC()
	}
	return res, nil
}

// statusWith polls an authority for a filing. A 404 means the filing is not
// visible yet and stays pending. Any other 4xx is a failed poll and says
// nothing about the filing itself.
func statusWith(ctx context.Context, a Adapter, t *Transport, ref StatusRef, req request) (*model.FilingResult, error) {
	raw, attempts, err := t.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case raw.StatusCode == http.StatusNotFound:
		return &model.FilingResult{
			Status:       model.SubmissionPending,
			AuthorityRef: ref.AuthorityRef,
			Attempts:     attempts,
			StatusCode:   raw.StatusCode,
			ReceivedAt:   time.Now().UTC(),
		}, nil
	case raw.StatusCode >= 400:
		return nil, fmt.Errorf("[%s] status poll failed: HTTP %d: %s", a.Country(), raw.StatusCode, truncate(string(raw.Body), 200))
	}

	res, err := a.ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	res.Attempts = attempts
	res.StatusCode = raw.StatusCode
	return res, nil
}
