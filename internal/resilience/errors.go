package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// snippetLimit bounds how much response body an HTTPError carries.
const snippetLimit = 200

// TransientError wraps an error that is safe to retry (429, 500, 503, or a
// network-level failure).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// HTTPError is a non-retryable HTTP failure: any non-2xx status outside the
// transient set. It carries the status code and a truncated body snippet so
// the operator can tell a 404 from a 422 without replaying the request.
type HTTPError struct {
	Status  int
	Snippet string
}

func (e *HTTPError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Snippet)
}

// NewHTTPError builds an HTTPError from a status code and response body,
// truncating the body to a short snippet.
func NewHTTPError(status int, body []byte) *HTTPError {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit]
	}
	return &HTTPError{Status: status, Snippet: snippet}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns
// (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// TransientStatus returns the HTTP status carried by a TransientError in the
// chain, or 0 when the failure never reached an HTTP response.
func TransientStatus(err error) int {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// IsTransientHTTPStatus returns true for the statuses the patients API
// retries through the backoff path. Everything else, 4xx and 5xx alike,
// fails the request immediately.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 429, // Too Many Requests
		500, // Internal Server Error
		503: // Service Unavailable
		return true
	default:
		return false
	}
}
