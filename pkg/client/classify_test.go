package client

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/backoff"
)

func response(status int, body string, header map[string]string) *Response {
	h := make(http.Header)
	for k, v := range header {
		h.Set(k, v)
	}
	return &Response{
		StatusCode: status,
		Header:     h,
		Body:       []byte(body),
		ReceivedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestClassify(t *testing.T) {
	transportErr := errors.New("dial tcp: connection refused")

	tests := []struct {
		name      string
		resp      *Response
		err       error
		kind      OutcomeKind
		class     ErrorClass
		retryable bool
		hint      backoff.Hint
	}{
		{"200 success", response(200, `{"a":1}`, nil), nil, OutcomeSuccess, "", false, backoff.NoHint},
		{"404 not found", response(404, `{}`, nil), nil, OutcomeNotFound, "", false, backoff.NoHint},
		{"429 with seconds", response(429, "", map[string]string{"Retry-After": "2"}), nil, OutcomeRetryable, ErrorClassRateLimit, true, backoff.HintSeconds(2)},
		{"429 without header", response(429, "", nil), nil, OutcomeRetryable, ErrorClassRateLimit, true, backoff.NoHint},
		{"429 with garbage header", response(429, "", map[string]string{"Retry-After": "later"}), nil, OutcomeRetryable, ErrorClassRateLimit, true, backoff.NoHint},
		{"500", response(500, "boom", nil), nil, OutcomeRetryable, ErrorClassServer, true, backoff.NoHint},
		{"503 with retry-after", response(503, "", map[string]string{"Retry-After": "4"}), nil, OutcomeRetryable, ErrorClassServer, true, backoff.HintSeconds(4)},
		{"400", response(400, "bad", nil), nil, OutcomeFatal, ErrorClassClient, false, backoff.NoHint},
		{"401", response(401, "", nil), nil, OutcomeFatal, ErrorClassClient, false, backoff.NoHint},
		{"403", response(403, "forbidden", nil), nil, OutcomeFatal, ErrorClassClient, false, backoff.NoHint},
		{"204", response(204, "", nil), nil, OutcomeFatal, ErrorClassUnexpected, false, backoff.NoHint},
		{"302", response(302, "", nil), nil, OutcomeFatal, ErrorClassUnexpected, false, backoff.NoHint},
		{"transport error", nil, transportErr, OutcomeTransportFailure, ErrorClassTransport, true, backoff.NoHint},
		{"oversize body", nil, ErrBodyTooLarge, OutcomeFatal, ErrorClassParse, false, backoff.NoHint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.resp, tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Class != tt.class {
				t.Errorf("Class = %q, want %q", got.Class, tt.class)
			}
			if got.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got.Retryable(), tt.retryable)
			}
			if got.RetryAfter != tt.hint {
				t.Errorf("RetryAfter = %+v, want %+v", got.RetryAfter, tt.hint)
			}
		})
	}
}

func TestClassify_HTTPDateRetryAfter(t *testing.T) {
	resp := response(429, "", nil)
	resp.Header.Set("Retry-After", resp.ReceivedAt.Add(3*time.Second).Format(http.TimeFormat))

	got := Classify(resp, nil)
	if got.RetryAfter != backoff.HintSeconds(3) {
		t.Errorf("RetryAfter = %+v, want 3s", got.RetryAfter)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inputs := []*Response{
		response(200, `{"ok":true}`, nil),
		response(429, "", map[string]string{"Retry-After": "Fri, 01 Mar 2024 12:00:09 GMT"}),
		response(500, "err", nil),
		response(403, strings.Repeat("x", 900), nil),
	}

	for _, resp := range inputs {
		first := Classify(resp, nil)
		for i := 0; i < 3; i++ {
			if again := Classify(resp, nil); !reflect.DeepEqual(first, again) {
				t.Errorf("Classify(%d) not stable: %+v vs %+v", resp.StatusCode, first, again)
			}
		}
	}
}

func TestClassify_FatalSnippetBounded(t *testing.T) {
	got := Classify(response(400, strings.Repeat("é", 2000), nil), nil)

	if n := len([]rune(got.BodySnippet)); n != SnippetLimit {
		t.Errorf("snippet length = %d runes, want %d", n, SnippetLimit)
	}
	if !strings.HasSuffix(got.BodySnippet, "…") {
		t.Errorf("snippet = %q, want trailing ellipsis", got.BodySnippet[len(got.BodySnippet)-10:])
	}
}

func TestClassify_SnippetNeverExceedsLimit(t *testing.T) {
	for _, size := range []int{SnippetLimit - 1, SnippetLimit, SnippetLimit + 1, 600, 10000} {
		got := Classify(response(400, strings.Repeat("a", size), nil), nil)
		if n := len([]rune(got.BodySnippet)); n > SnippetLimit {
			t.Errorf("body of %d chars: snippet length = %d runes, want <= %d", size, n, SnippetLimit)
		}
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		body  string
		limit int
		want  string
	}{
		{"", 10, ""},
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 4, "thi…"},
		{"exactly10!+", 10, "exactly10…"},
		{"ääääää", 3, "ää…"},
		{"any", 0, ""},
	}

	for _, tt := range tests {
		if got := Snippet([]byte(tt.body), tt.limit); got != tt.want {
			t.Errorf("Snippet(%q, %d) = %q, want %q", tt.body, tt.limit, got, tt.want)
		}
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{Outcome{Kind: OutcomeSuccess, StatusCode: 200}, "2xx"},
		{Outcome{Kind: OutcomeNotFound, StatusCode: 404}, "4xx"},
		{Outcome{Kind: OutcomeRetryable, StatusCode: 429}, "429"},
		{Outcome{Kind: OutcomeRetryable, StatusCode: 502}, "5xx"},
		{Outcome{Kind: OutcomeFatal, StatusCode: 403}, "4xx"},
		{Outcome{Kind: OutcomeFatal, StatusCode: 302}, "302"},
		{Outcome{Kind: OutcomeTransportFailure}, "error"},
	}

	for _, tt := range tests {
		if got := Bucket(tt.outcome); got != tt.want {
			t.Errorf("Bucket(%v %d) = %q, want %q", tt.outcome.Kind, tt.outcome.StatusCode, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	type match struct {
		ID       string `json:"matchId"`
		Duration int    `json:"gameDuration"`
	}

	got, err := Decode[match]([]byte(`{"matchId":"EUW1_1","gameDuration":1800,"unknown":true}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ID != "EUW1_1" || got.Duration != 1800 {
		t.Errorf("Decode() = %+v", got)
	}

	_, err = Decode[match]([]byte(`<html>not json</html>`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Decode() error = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassParse {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassParse)
	}
}
