package errors

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// ErrorType classifies how callers should react to a failure.
type ErrorType int

const (
	// ErrorTypeUnknown means no classification could be derived.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeTransient errors are worth retrying (rate limits, 5xx, network).
	ErrorTypeTransient
	// ErrorTypePermanent errors will not succeed on retry (4xx, bad input).
	ErrorTypePermanent
	// ErrorTypeDegraded errors succeeded partially via a fallback path.
	ErrorTypeDegraded
)

// TransientError wraps an error that is expected to clear up on retry.
type TransientError struct {
	Err     error
	Message string
}

func (e *TransientError) Error() string { return e.Message }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps an error that will not succeed on retry.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string { return e.Message }
func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError wraps an error that was survivable via a fallback.
type DegradedError struct {
	Err      error
	Message  string
	Fallback string
}

func (e *DegradedError) Error() string { return e.Message }
func (e *DegradedError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable with a caller-facing message.
func NewTransientError(err error, message string) error {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError marks err as non-retryable with a caller-facing message.
func NewPermanentError(err error, message string) error {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError marks err as handled through the named fallback.
func NewDegradedError(err error, message, fallback string) error {
	return &DegradedError{Err: err, Message: message, Fallback: fallback}
}

// IsTransient reports whether err should be retried. Explicit classification
// wins; otherwise HTTP status codes and network failure shapes are inspected.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	switch extractHTTPStatusCode(err) {
	case 429, 500, 502, 503, 504:
		return true
	case 400, 401, 403, 404:
		return false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return true
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return true
	}
	return false
}

// IsPermanent reports whether retrying err is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return false
	}

	switch extractHTTPStatusCode(err) {
	case 400, 401, 403, 404:
		return true
	case 429, 500, 502, 503, 504:
		return false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return true
	case strings.Contains(msg, "permission denied"):
		return true
	}
	return false
}

// GetErrorType returns the classification for err.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	var degraded *DegradedError
	if errors.As(err, &degraded) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	if IsPermanent(err) {
		return ErrorTypePermanent
	}
	return ErrorTypeUnknown
}

// FormatForLLM renders err as a short, human-readable line safe to feed back
// into a conversation turn.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	var transient *TransientError
	if errors.As(err, &transient) && transient.Message != "" {
		return transient.Message
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) && permanent.Message != "" {
		return permanent.Message
	}

	msg := strings.ToLower(err.Error())
	status := extractHTTPStatusCode(err)
	switch {
	case strings.Contains(msg, "connection refused"):
		return "The model backend server is not running or is unreachable. Check the endpoint configuration."
	case status == 429 || strings.Contains(msg, "rate limit"):
		return "The API rate limit was reached. Wait a moment before retrying."
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out"):
		return "The request timed out waiting for the backend."
	case status == 401 || status == 403:
		return "Authentication failed when calling the backend. Check the API key."
	case status == 404 || strings.Contains(msg, "not found"):
		return "The requested resource was not found."
	case status >= 500 && status < 600:
		return fmt.Sprintf("Server error (%d) from the backend. This is usually temporary.", status)
	}
	return err.Error()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
		type temporary interface{ Temporary() bool }
		if t, ok := netErr.(temporary); ok && t.Temporary() {
			return true
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

var (
	httpStatusPattern = regexp.MustCompile(`(?i)(?:http|status|error)\s*:?\s*(\d{3})`)
	// Bare leading status like "502 bad gateway". Restricted to 4xx/5xx so
	// numbers inside addresses and ports are never mistaken for a status.
	bareStatusPattern = regexp.MustCompile(`\b([45]\d{2})\b`)
)

func extractHTTPStatusCode(err error) int {
	if err == nil {
		return 0
	}
	match := httpStatusPattern.FindStringSubmatch(err.Error())
	if len(match) != 2 {
		match = bareStatusPattern.FindStringSubmatch(err.Error())
	}
	if len(match) != 2 {
		return 0
	}
	code, convErr := strconv.Atoi(match[1])
	if convErr != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}
