package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/riot-api-client/pkg/backoff"
)

// SnippetLimit bounds the error body kept for diagnostics, in characters.
const SnippetLimit = 500

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// ReceivedAt anchors HTTP-date Retry-After values.
	ReceivedAt time.Time
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeNotFound
	OutcomeRetryable
	OutcomeFatal
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
//
//	Success           Body
//	NotFound          -
//	Retryable         StatusCode, RetryAfter
//	Fatal             StatusCode, BodySnippet (Err for oversize bodies)
//	TransportFailure  Err
type Outcome struct {
	Kind        OutcomeKind
	Class       ErrorClass
	StatusCode  int
	Body        []byte
	RetryAfter  backoff.Hint
	BodySnippet string
	Err         error
}

// Retryable reports whether the pipeline may try again after this outcome.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeRetryable || o.Kind == OutcomeTransportFailure
}

// Terminal reports whether this outcome ends the retry loop on its own.
func (o Outcome) Terminal() bool {
	return !o.Retryable()
}

// Classify maps one attempt to an Outcome. It depends only on its arguments.
func Classify(resp *Response, err error) Outcome {
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			out := Outcome{Kind: OutcomeFatal, Class: ErrorClassParse, Err: err}
			if resp != nil {
				out.StatusCode = resp.StatusCode
			}
			return out
		}
		return Outcome{Kind: OutcomeTransportFailure, Class: ErrorClassTransport, Err: err}
	}
	if resp == nil {
		return Outcome{Kind: OutcomeTransportFailure, Class: ErrorClassTransport, Err: errors.New("no response")}
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusOK:
		return Outcome{Kind: OutcomeSuccess, StatusCode: status, Body: resp.Body}

	case status == http.StatusNotFound:
		return Outcome{Kind: OutcomeNotFound, StatusCode: status}

	case status == http.StatusTooManyRequests:
		return Outcome{
			Kind:       OutcomeRetryable,
			Class:      ErrorClassRateLimit,
			StatusCode: status,
			RetryAfter: backoff.ParseRetryAfter(resp.Header.Get("Retry-After"), resp.ReceivedAt),
		}

	case status >= 500 && status < 600:
		return Outcome{
			Kind:       OutcomeRetryable,
			Class:      ErrorClassServer,
			StatusCode: status,
			RetryAfter: backoff.ParseRetryAfter(resp.Header.Get("Retry-After"), resp.ReceivedAt),
		}

	case status >= 400 && status < 500:
		return Outcome{
			Kind:        OutcomeFatal,
			Class:       ErrorClassClient,
			StatusCode:  status,
			BodySnippet: Snippet(resp.Body, SnippetLimit),
		}

	default:
		return Outcome{
			Kind:        OutcomeFatal,
			Class:       ErrorClassUnexpected,
			StatusCode:  status,
			BodySnippet: Snippet(resp.Body, SnippetLimit),
		}
	}
}

// Decode parses a success body into T. A body that does not decode is a
// parse-class APIError; it is never retried.
func Decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		var zero T
		return zero, &APIError{
			Class:       ErrorClassParse,
			StatusCode:  http.StatusOK,
			BodySnippet: Snippet(body, SnippetLimit),
			Err:         err,
		}
	}
	return v, nil
}

// Bucket returns the metric status tag for an outcome.
func Bucket(o Outcome) string {
	if o.Kind == OutcomeTransportFailure {
		return "error"
	}
	switch s := o.StatusCode; {
	case s == http.StatusTooManyRequests:
		return "429"
	case s >= 200 && s < 300:
		return "2xx"
	case s >= 400 && s < 500:
		return "4xx"
	case s >= 500 && s < 600:
		return "5xx"
	case s == 0:
		return "error"
	default:
		return strconv.Itoa(s)
	}
}

// Snippet truncates body to at most limit characters. A cut body keeps
// limit-1 characters followed by "…".
func Snippet(body []byte, limit int) string {
	if len(body) == 0 || limit <= 0 {
		return ""
	}
	if utf8.RuneCount(body) <= limit {
		return string(body)
	}
	n := 0
	for i := range string(body) {
		if n == limit-1 {
			return string(body[:i]) + "…"
		}
		n++
	}
	return string(body)
}
