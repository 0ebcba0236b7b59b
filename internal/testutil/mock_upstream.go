// Package testutil provides testing utilities for the Riot API client.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock upstream response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request seen by the mock upstream.
type RecordedRequest struct {
	Path   string
	Header http.Header
	At     time.Time
}

// MockUpstream is a configurable mock upstream server for testing.
//
// Each path plays back a script of responses in order; the last response of
// a script repeats once the script is used up. Unknown paths answer 404.
type MockUpstream struct {
	server *httptest.Server

	mu       sync.Mutex
	scripts  map[string][]MockResponse
	served   map[string]int
	requests []RecordedRequest

	inFlight    int
	maxInFlight int
}

// NewMockUpstream creates a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		scripts: make(map[string][]MockResponse),
		served:  make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Script sets the responses played back for path.
func (m *MockUpstream) Script(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[path] = responses
	m.served[path] = 0
}

// Count returns the number of requests received for path.
func (m *MockUpstream) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Total returns the number of requests received for all paths.
func (m *MockUpstream) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the requests received for path in arrival order.
func (m *MockUpstream) Requests(path string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// MaxInFlight returns the highest number of requests handled at once.
func (m *MockUpstream) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockUpstream) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		At:     time.Now(),
	})
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	resp, ok := m.next(r.URL.Path)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if !ok {
		resp = NewNotFoundResponse()
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// next must be called with m.mu held.
func (m *MockUpstream) next(path string) (MockResponse, bool) {
	script, ok := m.scripts[path]
	if !ok || len(script) == 0 {
		return MockResponse{}, false
	}
	i := m.served[path]
	m.served[path] = i + 1
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], true
}

// NewOKResponse creates a 200 OK JSON response.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"status":{"message":"Data not found","status_code":404}}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response. A
// retryAfter of zero or less omits the Retry-After header.
func NewRateLimitResponse(retryAfter int) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status":{"message":"Rate limit exceeded","status_code":429}}`,
		Headers: map[string]string{
			"Content-Type":      "application/json;charset=utf-8",
			"X-Rate-Limit-Type": "application",
		},
	}
	if retryAfter > 0 {
		resp.Headers["Retry-After"] = strconv.Itoa(retryAfter)
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"status":{"message":"Internal server error","status_code":500}}`,
		Headers: map[string]string{
			"Content-Type": "application/json;charset=utf-8",
		},
	}
}

// NewStatusResponse creates a response with the given status and body.
func NewStatusResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
	}
}
