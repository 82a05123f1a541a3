// Package testutil provides testing utilities for the NDB client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock NDB endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockNDB is a configurable mock NDB server for testing. Paths are
// matched without the leading slash, e.g. "list" or "V2/reports".
type MockNDB struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	lists    map[string][]string

	// Tracking
	RequestCount     int
	ConditionalCount int
	LastRequest      *http.Request
	Queries          []url.Values
}

// NewMockNDB creates a new mock NDB server.
func NewMockNDB() *MockNDB {
	mock := &MockNDB{
		handlers: make(map[string]http.HandlerFunc),
		lists:    make(map[string][]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequest = r.Clone(r.Context())
		mock.Queries = append(mock.Queries, r.URL.Query())
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r, path)
	}))

	return mock
}

// URL returns the mock server URL with a trailing slash, suitable as a
// client base URL.
func (m *MockNDB) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockNDB) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockNDB) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequest = nil
	m.Queries = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockNDB) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[strings.Trim(path, "/")] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockNDB) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetList registers the full item set served by the list endpoint for the
// given list type (lt parameter). The default handler pages it using max
// and offset the way the NDB API does.
func (m *MockNDB) SetList(listType string, items ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[listType] = items
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockNDB) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockNDB) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetQueries returns a copy of the query of every request received.
func (m *MockNDB) GetQueries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.Queries...)
}

// defaultHandler serves registered lists and answers everything else
// with an empty list.
func (m *MockNDB) defaultHandler(w http.ResponseWriter, r *http.Request, path string) {
	setRateLimitHeaders(w, 999, 1000)
	w.Header().Set("Content-Type", "application/json")

	if path != "list" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"list": {"item": []}}`))
		return
	}

	q := r.URL.Query()
	m.mu.RLock()
	items := m.lists[q.Get("lt")]
	m.mu.RUnlock()

	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("max"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	page := pageOf(items, offset, limit)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ListBody(page...))
}

func pageOf(items []string, offset, limit int) []string {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func setRateLimitHeaders(w http.ResponseWriter, remaining, limit int) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
}

// ListBody renders raw JSON items as a list response body.
func ListBody(items ...string) []byte {
	raw := make([]json.RawMessage, len(items))
	for i, item := range items {
		raw[i] = json.RawMessage(item)
	}
	body, _ := json.Marshal(map[string]any{
		"list": map[string]any{"item": raw},
	})
	return body
}

// FoodItems returns n list items of the form {"id":"00001","name":"Food 1"}.
func FoodItems(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"offset":%d,"id":"%05d","name":"Food %d"}`, i, i+1, i+1)
	}
	return items
}

// NewHealthyResponse creates a standard 200 OK response with quota headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "999",
			"X-RateLimit-Limit":     "1000",
			"ETag":                  `"test-etag-123"`,
			"Cache-Control":         "max-age=300",
			"Content-Type":          "application/json",
		},
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "998",
			"X-RateLimit-Limit":     "1000",
			"Cache-Control":         "max-age=300",
		},
	}
}

// NewRateLimitResponse creates the gateway's 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": {"code": "OVER_RATE_LIMIT", "message": "You have exceeded your rate limit."}}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Limit":     "1000",
			"Content-Type":          "application/json",
		},
	}
}

// NewInvalidKeyResponse creates the gateway's 403 response for a bad API key.
func NewInvalidKeyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"error": {"code": "API_KEY_INVALID", "message": "An invalid api_key was supplied."}}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewConditionalHandler creates a handler that responds with 304 for
// requests carrying a matching If-None-Match header. The first response
// expires immediately so the next request revalidates.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setRateLimitHeaders(w, 999, 1000)
		w.Header().Set("Content-Type", "application/json")

		if r.Header.Get("If-None-Match") == etag {
			w.Header().Set("Cache-Control", "max-age=300")
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "max-age=1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(data))
	}
}
