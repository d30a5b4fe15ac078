package ehr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careops/triage-cli/internal/model"
	"github.com/careops/triage-cli/internal/resilience"
)

const (
	// apiKeyHeader carries the static credential on every outbound request.
	apiKeyHeader = "X-API-Key"

	defaultMaxAttempts    = 9
	defaultInitialBackoff = 300 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Client talks to the patients API.
type Client interface {
	// ListPatients fetches one page of patient records.
	ListPatients(ctx context.Context, page, limit int) (*PatientPage, error)

	// SubmitAssessment posts the aggregated result set and returns the
	// remote response body verbatim.
	SubmitAssessment(ctx context.Context, results model.ResultSet) (json.RawMessage, error)
}

// Pagination is the metadata block of a patient page. Both fields are
// optional upstream; pointers distinguish absent from zero.
type Pagination struct {
	TotalPages *int  `json:"totalPages"`
	HasNext    *bool `json:"hasNext"`
}

// PatientPage is one page of GET /patients.
type PatientPage struct {
	Data       []model.PatientRecord
	Pagination Pagination
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithMaxAttempts overrides the total attempt budget (first try included).
func WithMaxAttempts(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the initial and maximum retry backoff.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *httpClient) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithHeaders merges extra headers into every request. The API-key header
// always wins over anything supplied here.
func WithHeaders(h http.Header) Option {
	return func(c *httpClient) {
		c.headers = h
	}
}

type httpClient struct {
	apiKey         string
	baseURL        string
	http           *http.Client
	headers        http.Header
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient creates a patients API client.
func NewClient(apiKey, baseURL string, opts ...Option) Client {
	c := &httpClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ListPatients(ctx context.Context, page, limit int) (*PatientPage, error) {
	url := fmt.Sprintf("%s/patients?page=%d&limit=%d", c.baseURL, page, limit)

	var envelope struct {
		Data       json.RawMessage `json:"data"`
		Pagination Pagination      `json:"pagination"`
	}
	if err := c.doWithRetry(ctx, http.MethodGet, url, nil, &envelope); err != nil {
		return nil, eris.Wrap(err, "ehr: list patients")
	}

	result := &PatientPage{Pagination: envelope.Pagination}
	if len(envelope.Data) > 0 {
		// A missing or non-array data field is an empty page, not an error.
		if err := json.Unmarshal(envelope.Data, &result.Data); err != nil {
			zap.L().Warn("ehr: response data is not an array, treating page as empty",
				zap.Int("page", page),
			)
			result.Data = nil
		}
	}
	return result, nil
}

func (c *httpClient) SubmitAssessment(ctx context.Context, results model.ResultSet) (json.RawMessage, error) {
	payload, err := json.Marshal(results)
	if err != nil {
		return nil, eris.Wrap(err, "ehr: marshal assessment")
	}

	var response json.RawMessage
	if err := c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/submit-assessment", payload, &response); err != nil {
		return nil, eris.Wrap(err, "ehr: submit assessment")
	}
	return response, nil
}

// doWithRetry performs one logical request with the retry protocol:
// 429 waits max(Retry-After, current backoff); 500/503 wait the current
// backoff; both double it up to the cap. Any other non-2xx status fails
// immediately with the status and a body snippet. Network and decode
// failures retry like 5xx. The budget covers all attempts; on exhaustion
// the last error propagates without a trailing sleep.
func (c *httpClient) doWithRetry(ctx context.Context, method, url string, payload []byte, out any) error {
	backoff := resilience.NewBackoff(c.initialBackoff, c.maxBackoff)

	var lastErr error
	var delay time.Duration
	for attempt := range c.maxAttempts {
		// Sleep between attempts, never after the last one.
		if attempt > 0 {
			if serr := resilience.Sleep(ctx, delay); serr != nil {
				return lastErr
			}
		}

		req, err := c.newRequest(ctx, method, url, payload)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "ehr: send request")
			delay = backoff.Next()
			zap.L().Warn("ehr: request failed, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = eris.Wrap(readErr, "ehr: read response")
			delay = backoff.Next()
			continue
		}

		status := resp.StatusCode
		switch {
		case status == http.StatusTooManyRequests:
			delay = backoff.Next()
			if ra := retryAfter(resp.Header); ra > delay {
				delay = ra
			}
			lastErr = resilience.NewTransientError(eris.Errorf("ehr: http 429 from %s", url), status)
			zap.L().Warn("ehr: rate limited, backing off",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			continue

		case resilience.IsTransientHTTPStatus(status):
			lastErr = resilience.NewTransientError(eris.Errorf("ehr: http %d from %s", status, url), status)
			delay = backoff.Next()
			zap.L().Warn("ehr: server error, retrying",
				zap.String("url", url),
				zap.Int("status", status),
				zap.Int("attempt", attempt+1),
			)
			continue

		case status < 200 || status >= 300:
			return resilience.NewHTTPError(status, body)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			lastErr = eris.Wrap(err, "ehr: decode response")
			delay = backoff.Next()
			zap.L().Warn("ehr: malformed response body, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return nil
	}

	return eris.Wrap(lastErr, "ehr: retry budget exhausted")
}

func (c *httpClient) newRequest(ctx context.Context, method, url string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, eris.Wrap(err, "ehr: create request")
	}

	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Set last: configured headers cannot displace the credential.
	req.Header.Set(apiKeyHeader, c.apiKey)

	return req, nil
}

// retryAfter reads a Retry-After header in whole seconds. Unparsable or
// non-positive values are ignored.
func retryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
