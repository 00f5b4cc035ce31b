// Package apiprobe verifies API-kind provider credentials by making the
// cheapest authenticated call each service offers and classifying the
// response. Probes never mutate remote state.
package apiprobe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 10 * time.Second

const duffelAPIVersion = "v2"

// Prober checks API credentials against the real services.
type Prober struct {
	client *http.Client
	logger *logging.Logger

	duffelBase  string
	amadeusBase string
	pexelsBase  string
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) { p.client = client }
}

// WithBaseURLs overrides the service endpoints (for testing).
func WithBaseURLs(duffel, amadeus, pexels string) Option {
	return func(p *Prober) {
		p.duffelBase = duffel
		p.amadeusBase = amadeus
		p.pexelsBase = pexels
	}
}

// New creates a Prober with production endpoints.
func New(logger *logging.Logger, opts ...Option) *Prober {
	p := &Prober{
		client:      &http.Client{Timeout: DefaultTimeout},
		logger:      logger,
		duffelBase:  "https://api.duffel.com",
		amadeusBase: "https://test.api.amadeus.com",
		pexelsBase:  "https://api.pexels.com",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe tests the credentials of an API-kind provider.
func (p *Prober) Probe(ctx context.Context, provider credential.Provider, fields map[string]string) storage.ConnectionTestResult {
	start := time.Now()
	var result storage.ConnectionTestResult
	switch provider {
	case credential.ProviderDuffel:
		result = p.probeDuffel(ctx, fields)
	case credential.ProviderAmadeus:
		result = p.probeAmadeus(ctx, fields)
	case credential.ProviderPexels:
		result = p.probePexels(ctx, fields)
	default:
		result = storage.ConnectionTestResult{
			Success: false,
			Message: fmt.Sprintf("%s is not an api provider", provider),
		}
	}
	result.Elapsed = time.Since(start)
	return result
}

// probeDuffel lists one airline, the cheapest authenticated read the
// Duffel API offers.
func (p *Prober) probeDuffel(ctx context.Context, fields map[string]string) storage.ConnectionTestResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.duffelBase+"/air/airlines?limit=1", nil)
	if err != nil {
		return probeFailure(err)
	}
	req.Header.Set("Authorization", "Bearer "+fields["api_key"])
	req.Header.Set("Duffel-Version", duffelAPIVersion)
	return p.do(req, "duffel")
}

// probeAmadeus runs the OAuth client-credentials exchange; a token
// grant proves the id/secret pair without touching any data endpoint.
func (p *Prober) probeAmadeus(ctx context.Context, fields map[string]string) storage.ConnectionTestResult {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {fields["client_id"]},
		"client_secret": {fields["client_secret"]},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.amadeusBase+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return probeFailure(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req, "amadeus")
}

func (p *Prober) probePexels(ctx context.Context, fields map[string]string) storage.ConnectionTestResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pexelsBase+"/v1/search?query=test&per_page=1", nil)
	if err != nil {
		return probeFailure(err)
	}
	req.Header.Set("Authorization", fields["api_key"])
	return p.do(req, "pexels")
}

func (p *Prober) do(req *http.Request, service string) storage.ConnectionTestResult {
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("%s probe failed: %v", service, err)
		return probeFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused; the body content is never
	// inspected beyond the status.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classify(service, resp.StatusCode)
}

// classify maps an HTTP status onto a probe outcome.
func classify(service string, status int) storage.ConnectionTestResult {
	switch {
	case status >= 200 && status < 300:
		return storage.ConnectionTestResult{
			Success: true,
			Message: service + " credentials accepted",
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return storage.ConnectionTestResult{
			Success: false,
			Message: "invalid credentials",
			Detail:  fmt.Sprintf("%s returned HTTP %d", service, status),
		}
	case status == http.StatusTooManyRequests:
		return storage.ConnectionTestResult{
			Success: false,
			Message: "rate limited, retry later",
			Detail:  fmt.Sprintf("%s returned HTTP %d", service, status),
		}
	default:
		return storage.ConnectionTestResult{
			Success: false,
			Message: fmt.Sprintf("unexpected response from %s", service),
			Detail:  fmt.Sprintf("HTTP %d", status),
		}
	}
}

func probeFailure(err error) storage.ConnectionTestResult {
	return storage.ConnectionTestResult{
		Success: false,
		Message: "connection failed",
		Detail:  err.Error(),
	}
}
