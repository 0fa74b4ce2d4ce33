package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// RateLimitedError wraps an error returned when the provider throttles us.
// Retryable after backoff; the cell is released, not failed.
type RateLimitedError struct {
	Err        error
	StatusCode int
}

func (e *RateLimitedError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// NewRateLimitedError wraps an error as rate-limited.
func NewRateLimitedError(err error, statusCode int) *RateLimitedError {
	return &RateLimitedError{Err: err, StatusCode: statusCode}
}

// TransientError wraps an error that is safe to retry (5xx, network timeout).
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

// PermanentError wraps a non-retryable error (4xx other than 429). A cell
// that hits one is marked failed rather than released.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps an error as permanent.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// IsRateLimited returns true if the error chain contains a RateLimitedError.
func IsRateLimited(err error) bool {
	var rle *RateLimitedError
	return errors.As(err, &rle)
}

// IsPermanent returns true if the error chain contains a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures). Rate-limited errors are not
// transient: they carry their own backoff semantics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for explicit TransientError in chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
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

// IsRetryable returns true for errors that should release the claim back to
// pending: rate-limited and transient failures.
func IsRetryable(err error) bool {
	return IsRateLimited(err) || IsTransient(err)
}

// ClassifyHTTPStatus maps an HTTP status code into the error taxonomy used
// by the provider client. Returns the original error wrapped, or nil input
// unchanged.
func ClassifyHTTPStatus(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	switch {
	case statusCode == 429:
		return NewRateLimitedError(err, statusCode)
	case statusCode >= 500, statusCode == 408:
		return NewTransientError(err, statusCode)
	case statusCode >= 400:
		return NewPermanentError(err, statusCode)
	default:
		return err
	}
}
