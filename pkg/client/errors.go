package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while a
	// request waits for a permit, a cooldown or a retry backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrBodyTooLarge is returned when an upstream body exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrInvalidRequest is returned for requests that can never be sent.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPacingDeadline is returned when the pacing limiter cannot admit a
	// request before the context deadline. Nothing was sent.
	ErrPacingDeadline = errors.New("pacing wait exceeds context deadline")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassTransport represents connection, TLS and timeout failures.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents 4xx errors other than 404 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassParse represents a 200 response whose body does not decode.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassUnexpected represents statuses outside the handled ranges (1xx, 3xx, non-200 2xx).
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// APIError is the terminal error for a logical upstream request.
type APIError struct {
	Class       ErrorClass
	StatusCode  int
	RequestType string
	URL         string
	Attempts    int

	// BodySnippet holds at most SnippetLimit characters of the error body.
	BodySnippet string

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API %s error (status %d) for %s: %v",
			e.Class, e.StatusCode, e.RequestType, e.Err)
	}
	return fmt.Sprintf("API %s error (status %d) for %s",
		e.Class, e.StatusCode, e.RequestType)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}
