package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// SearchPath is the provider path served by the mock.
const SearchPath = "/search"

// MockResponse defines the behavior for a mock provider response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockJSearch is a configurable mock of the upstream job-search provider.
type MockJSearch struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount int
	lastQuery    map[string]string
	lastHeader   http.Header
}

// NewMockJSearch creates a new mock provider server.
func NewMockJSearch() *MockJSearch {
	mock := &MockJSearch{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastHeader = r.Header.Clone()
		mock.lastQuery = make(map[string]string)
		for k := range r.URL.Query() {
			mock.lastQuery[k] = r.URL.Query().Get(k)
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockJSearch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockJSearch) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockJSearch) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastQuery = nil
	m.lastHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockJSearch) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockJSearch) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSearchResponse configures the search endpoint.
func (m *MockJSearch) SetSearchResponse(resp MockResponse) {
	m.SetResponse(SearchPath, resp)
}

// RequestCount returns the number of requests made to the server.
func (m *MockJSearch) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockJSearch) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// LastHeader returns the headers of the most recent request.
func (m *MockJSearch) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// defaultHandler answers every search with a single generic job.
func (m *MockJSearch) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(SearchBody(MockJob{ID: "default-1", Title: "Default Job", Company: "Acme"})))
}

// MockJob is the subset of provider job fields the mock emits.
type MockJob struct {
	ID      string
	Title   string
	Company string
	City    string
	Country string
	Remote  bool
}

// SearchBody renders a provider success envelope for the given jobs.
func SearchBody(jobs ...MockJob) string {
	data := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		data = append(data, map[string]any{
			"job_id":              j.ID,
			"job_title":           j.Title,
			"employer_name":       j.Company,
			"job_city":            j.City,
			"job_country":         j.Country,
			"job_is_remote":       j.Remote,
			"job_employment_type": "FULLTIME",
			"job_apply_link":      fmt.Sprintf("https://jobs.example.com/%s", j.ID),
		})
	}
	body, _ := json.Marshal(map[string]any{
		"status":     "OK",
		"request_id": "mock-request",
		"data":       data,
	})
	return string(body)
}

// NewSearchResponse creates a 200 OK response carrying the given jobs.
func NewSearchResponse(jobs ...MockJob) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       SearchBody(jobs...),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewQuotaExceededResponse creates the gateway's 429 quota response.
func NewQuotaExceededResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "You have exceeded the MONTHLY quota for Requests on your current plan"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewProviderErrorResponse creates a 200 OK response with an error envelope.
func NewProviderErrorResponse(message string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"status": "ERROR",
		"error":  map[string]any{"message": message, "code": 400},
	})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
