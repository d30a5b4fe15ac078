package ehr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/triage-cli/internal/model"
	"github.com/careops/triage-cli/internal/resilience"
)

func fastOpts(extra ...Option) []Option {
	opts := []Option{WithBackoff(5*time.Millisecond, 40*time.Millisecond)}
	return append(opts, extra...)
}

func TestListPatients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/patients", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"patient_id": "P001", "blood_pressure": "120/80", "temperature": 98.6, "age": 40},
				{"patient_id": "P002", "blood_pressure": "150/95", "temperature": "101.2", "age": "70"}
			],
			"pagination": {"totalPages": 5, "hasNext": true}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	page, err := client.ListPatients(context.Background(), 2, 20)
	require.NoError(t, err)

	require.Len(t, page.Data, 2)
	assert.Equal(t, "P001", page.Data[0].PatientID)
	assert.Equal(t, "120/80", page.Data[0].BloodPressure)
	assert.Equal(t, 98.6, page.Data[0].Temperature)
	assert.Equal(t, "101.2", page.Data[1].Temperature)

	require.NotNil(t, page.Pagination.TotalPages)
	assert.Equal(t, 5, *page.Pagination.TotalPages)
	require.NotNil(t, page.Pagination.HasNext)
	assert.True(t, *page.Pagination.HasNext)
}

func TestListPatients_MissingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pagination": {}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	page, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Nil(t, page.Pagination.TotalPages)
	assert.Nil(t, page.Pagination.HasNext)
}

func TestListPatients_NonArrayData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": "oops", "pagination": {"hasNext": false}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	page, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	require.NotNil(t, page.Pagination.HasNext)
	assert.False(t, *page.Pagination.HasNext)
}

func TestDoWithRetry_RateLimitedThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	var mu sync.Mutex
	var stamps []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()

		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [], "pagination": {"hasNext": false}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, WithBackoff(15*time.Millisecond, 120*time.Millisecond))
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())

	// Doubling backoff: the second wait is at least as long as the first.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, second, first)
}

func TestDoWithRetry_HonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data": [], "pagination": {}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, fastOpts()...)
	start := time.Now()
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
	// Retry-After (1s) dominates the tiny configured backoff.
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestDoWithRetry_ServerErrorRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch attempts.Add(1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"data": [], "pagination": {}}`))
		}
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, fastOpts()...)
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDoWithRetry_NoRetryOnOther4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such endpoint"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, fastOpts()...)
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())

	var httpErr *resilience.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Contains(t, httpErr.Snippet, "no such endpoint")
	assert.False(t, resilience.IsTransient(err))
}

func TestDoWithRetry_SnippetTruncated(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write(long)
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.Error(t, err)

	var httpErr *resilience.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Len(t, httpErr.Snippet, 200)
}

func TestDoWithRetry_MalformedBodyRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			_, _ = w.Write([]byte(`{invalid json`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [], "pagination": {}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, fastOpts()...)
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestDoWithRetry_ExhaustsBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, fastOpts(WithMaxAttempts(3))...)
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry budget exhausted")
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), attempts.Load())

	// The exhausted error still classifies as transient and carries the
	// last status, so callers can report it as retryable.
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, http.StatusServiceUnavailable, resilience.TransientStatus(err))
}

func TestDoWithRetry_NoSleepAfterFinalAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL,
		WithMaxAttempts(1), WithBackoff(2*time.Second, 5*time.Second))
	start := time.Now()
	_, err := client.ListPatients(context.Background(), 1, 20)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry budget exhausted")
	assert.Equal(t, int32(1), attempts.Load())
	// Exhaustion surfaces immediately, without waiting out one more backoff.
	assert.Less(t, elapsed, time.Second)
}

func TestDoWithRetry_ContextCancelDuringBackoff(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	client := NewClient("test-key", srv.URL, WithBackoff(200*time.Millisecond, time.Second))
	_, err := client.ListPatients(ctx, 1, 20)
	require.Error(t, err)
	assert.Less(t, attempts.Load(), int32(defaultMaxAttempts))
}

func TestCredentialHeaderCannotBeDisplaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "real-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "triage-cli/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"data": [], "pagination": {}}`))
	}))
	defer srv.Close()

	extra := http.Header{}
	extra.Set("X-API-Key", "spoofed-key")
	extra.Set("User-Agent", "triage-cli/1.0")

	client := NewClient("real-key", srv.URL, WithHeaders(extra))
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.NoError(t, err)
}

func TestSubmitAssessment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/submit-assessment", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var got model.ResultSet
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, []string{"P002", "P009"}, got.HighRiskPatients)
		assert.Equal(t, []string{"P002"}, got.FeverPatients)
		assert.Equal(t, []string{"P014"}, got.DataQualityIssues)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted","score":97}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	resp, err := client.SubmitAssessment(context.Background(), model.ResultSet{
		HighRiskPatients:  []string{"P002", "P009"},
		FeverPatients:     []string{"P002"},
		DataQualityIssues: []string{"P014"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"accepted","score":97}`, string(resp))
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("key", "https://api.example.com/")
	hc := c.(*httpClient)
	assert.Equal(t, "https://api.example.com", hc.baseURL)
	assert.Equal(t, defaultMaxAttempts, hc.maxAttempts)
	assert.Equal(t, defaultInitialBackoff, hc.initialBackoff)
	assert.Equal(t, defaultMaxBackoff, hc.maxBackoff)
	assert.NotNil(t, hc.http)
}

func TestRetryAfterHeader(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{name: "seconds", raw: "3", want: 3 * time.Second},
		{name: "padded", raw: " 2 ", want: 2 * time.Second},
		{name: "zero_ignored", raw: "0", want: 0},
		{name: "negative_ignored", raw: "-1", want: 0},
		{name: "http_date_ignored", raw: "Wed, 21 Oct 2026 07:28:00 GMT", want: 0},
		{name: "absent", raw: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.raw != "" {
				h.Set("Retry-After", tt.raw)
			}
			assert.Equal(t, tt.want, retryAfter(h))
		})
	}
}

func TestListPatients_NetworkErrorRetried(t *testing.T) {
	// Unreachable server: every attempt fails at the transport layer.
	client := NewClient("test-key", "http://127.0.0.1:1",
		fastOpts(WithMaxAttempts(2))...)
	_, err := client.ListPatients(context.Background(), 1, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry budget exhausted")
	assert.False(t, errors.Is(err, context.Canceled))
}
