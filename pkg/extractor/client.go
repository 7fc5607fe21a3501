// Package extractor is a typed client for the price extraction service.
// The service is an opaque collaborator: given a product URL it returns a
// candidate price, an extraction method tag, a confidence score, and raw
// diagnostic metadata.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/dealscope/pricetrack-cli/internal/resilience"
)

const defaultBaseURL = "http://localhost:8090/v1"

// Client defines the extraction service operations.
type Client interface {
	Extract(ctx context.Context, req ExtractRequest) (*Result, error)
}

// ExtractRequest is the body for POST /extract.
type ExtractRequest struct {
	URL     string `json:"url"`
	Variant string `json:"variant,omitempty"`
}

// Result is a single extraction attempt. Price is nil when the service
// could not produce a candidate.
type Result struct {
	Price           *float64 `json:"price"`
	Confidence      float64  `json:"confidence"`
	Method          string   `json:"method"`
	HTTPStatus      int      `json:"http_status"`
	PageSizeBytes   int64    `json:"page_size_bytes"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// APIError is returned when the service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extractor: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound extraction calls at rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the transport retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new extraction service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Extract(ctx context.Context, req ExtractRequest) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extractor: rate limiter wait")
	}

	// Retry only transport-level failures inside this single extraction
	// attempt; a product that still fails is recorded as a failed record
	// and picked up again by a future batch via staleness selection.
	retry := c.retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = isRetryable
	}
	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Result, error) {
		var resp Result
		if err := c.post(ctx, "/extract", req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("extractor: extract %s", req.URL))
	}
	return res, nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
