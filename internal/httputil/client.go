// Package httputil provides the HTTP client abstraction used by the feed and
// enrichment clients, plus JSON response helpers for the API.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 8 << 20

// HTTPClient abstracts HTTP operations for testability.
// Use NewStandardClient in production and MockHTTPClient in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a new StandardClient wrapping the given http.Client.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// StatusError is returned by Fetch for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetch issues a GET bound to ctx and returns the body of a 2xx response,
// reading at most maxBytes (DefaultMaxBodyBytes when <= 0).
func Fetch(ctx context.Context, client HTTPClient, url string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", url, maxBytes)
	}
	return body, nil
}

// FetchJSON GETs url and decodes the JSON body into v.
func FetchJSON(ctx context.Context, client HTTPClient, url string, v interface{}) error {
	body, err := Fetch(ctx, client, url, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// MockHTTPClient provides a testable HTTP client implementation. Responses
// registered with AddRoute are matched by URL path and served any number of
// times; otherwise queued responses are served in order.
type MockHTTPClient struct {
	mu           sync.Mutex
	DoFunc       func(req *http.Request) (*http.Response, error)
	Requests     []*http.Request
	Responses    []*MockResponse
	Routes       map[string]*MockResponse
	responseIdx  int
	DefaultError error
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		Requests:  []*http.Request{},
		Responses: []*MockResponse{},
		Routes:    map[string]*MockResponse{},
	}
}

// AddResponse queues a response to be returned by subsequent requests.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    make(http.Header),
	})
	return m
}

// AddErrorResponse queues an error response.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

// AddRoute serves body with statusCode for every request whose URL path
// ends with suffix.
func (m *MockHTTPClient) AddRoute(suffix string, statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Routes[suffix] = &MockResponse{StatusCode: statusCode, Body: body, Headers: make(http.Header)}
	return m
}

// AddRouteError fails every request whose URL path ends with suffix.
func (m *MockHTTPClient) AddRouteError(suffix string, err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Routes[suffix] = &MockResponse{Error: err}
	return m
}

// Do records the request and returns the matching route, the next queued
// response or an empty 200.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	doFunc := m.DoFunc
	m.mu.Unlock()

	if doFunc != nil {
		return doFunc(req)
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	if resp := m.route(req.URL.Path); resp != nil {
		return resp.build(req)
	}
	if m.responseIdx < len(m.Responses) {
		resp := m.Responses[m.responseIdx]
		m.responseIdx++
		return resp.build(req)
	}
	return (&MockResponse{StatusCode: http.StatusOK}).build(req)
}

func (m *MockHTTPClient) route(path string) *MockResponse {
	var best *MockResponse
	bestLen := -1
	for suffix, resp := range m.Routes {
		if strings.HasSuffix(path, suffix) && len(suffix) > bestLen {
			best, bestLen = resp, len(suffix)
		}
	}
	return best
}

func (r *MockResponse) build(req *http.Request) (*http.Response, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	header := r.Headers
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: r.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(r.Body)),
		Header:     header,
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// RequestedPaths returns the URL paths of all recorded requests in order.
func (m *MockHTTPClient) RequestedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Requests))
	for i, r := range m.Requests {
		out[i] = r.URL.Path
	}
	return out
}

// Reset clears all recorded requests, routes and responses.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = []*http.Request{}
	m.Responses = []*MockResponse{}
	m.Routes = map[string]*MockResponse{}
	m.responseIdx = 0
	m.DefaultError = nil
	m.DoFunc = nil
}
