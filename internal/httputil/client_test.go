package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func get(t *testing.T, c HTTPClient, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return c.Do(req)
}

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	client := NewStandardClient(customClient)
	if client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}
	if NewStandardClient(nil).Client != http.DefaultClient {
		t.Error("nil client should wrap http.DefaultClient")
	}
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "first")
	mock.AddResponse(http.StatusAccepted, "second")

	resp1, _ := get(t, mock, "http://example.com/1")
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	if string(body1) != "first" {
		t.Errorf("first response: got %q, want 'first'", string(body1))
	}

	resp2, _ := get(t, mock, "http://example.com/2")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Errorf("second response: got status %d, want %d", resp2.StatusCode, http.StatusAccepted)
	}

	// Queue exhausted: empty 200.
	resp3, _ := get(t, mock, "http://example.com/3")
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("default response: got status %d, want 200", resp3.StatusCode)
	}

	if mock.RequestCount() != 3 {
		t.Errorf("got %d requests, want 3", mock.RequestCount())
	}
}

func TestMockHTTPClient_Routes(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddRoute("/data/aircraft.json", http.StatusOK, "live")
	mock.AddRoute("/history_1.json", http.StatusOK, "h1")
	mock.AddRoute(".json", http.StatusNotFound, "")
	mock.AddRouteError("/broken", errors.New("connection refused"))

	for i := 0; i < 2; i++ {
		resp, err := get(t, mock, "http://pi/dump1090-fa/data/aircraft.json?_=123")
		if err != nil {
			t.Fatalf("route request failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "live" {
			t.Errorf("got %q, want 'live'", body)
		}
	}

	resp, _ := get(t, mock, "http://pi/dump1090-fa/data/history_1.json")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "h1" {
		t.Errorf("longest suffix should win, got %q", body)
	}

	resp, _ = get(t, mock, "http://pi/dump1090-fa/data/receiver.json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("fallback route: got status %d, want 404", resp.StatusCode)
	}

	if _, err := get(t, mock, "http://pi/broken"); err == nil {
		t.Error("expected route error")
	}

	paths := mock.RequestedPaths()
	if len(paths) != 5 || paths[0] != "/dump1090-fa/data/aircraft.json" {
		t.Errorf("RequestedPaths() = %v", paths)
	}
}

func TestMockHTTPClient_Errors(t *testing.T) {
	mock := NewMockHTTPClient()
	expectedErr := errors.New("connection refused")
	mock.AddErrorResponse(expectedErr)
	if _, err := get(t, mock, "http://example.com/api"); err != expectedErr {
		t.Errorf("got error %v, want %v", err, expectedErr)
	}

	mock.DefaultError = errors.New("network error")
	if _, err := get(t, mock, "http://example.com/api"); err != mock.DefaultError {
		t.Errorf("got error %v, want DefaultError", err)
	}
}

func TestMockHTTPClient_CancelledContext(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "never")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)
	if _, err := mock.Do(req); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestMockHTTPClient_DoFunc(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTeapot,
			Body:       io.NopCloser(strings.NewReader("custom")),
			Request:    req,
		}, nil
	}

	resp, _ := get(t, mock, "http://example.com/api")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
}

func TestMockHTTPClient_ConcurrentUse(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddRoute("/x", http.StatusOK, "x")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, "http://example.com/x", nil)
			if resp, err := mock.Do(req); err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()
	if mock.RequestCount() != 16 {
		t.Errorf("got %d requests, want 16", mock.RequestCount())
	}
}

func TestMockHTTPClient_Reset(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "test")
	mock.AddRoute("/a", http.StatusOK, "a")
	mock.DefaultError = errors.New("error")
	_, _ = get(t, mock, "http://example.com/api")
	mock.Reset()

	if len(mock.Requests) != 0 || len(mock.Responses) != 0 || len(mock.Routes) != 0 {
		t.Error("Reset should clear requests, responses and routes")
	}
	if mock.DefaultError != nil {
		t.Error("Reset should clear DefaultError")
	}
	if mock.GetRequest(0) != nil {
		t.Error("GetRequest after Reset should return nil")
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"now": 1760702400.5}`))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 100)))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewStandardClient(server.Client())
	ctx := context.Background()

	body, err := Fetch(ctx, client, server.URL+"/ok", 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != `{"now": 1760702400.5}` {
		t.Errorf("got body %q", body)
	}

	_, err = Fetch(ctx, client, server.URL+"/missing", 0)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("got %v, want StatusError 404", err)
	}

	if _, err := Fetch(ctx, client, server.URL+"/big", 10); err == nil {
		t.Error("expected error for oversize body")
	}
	if _, err := Fetch(ctx, client, server.URL+"/big", 100); err != nil {
		t.Errorf("body of exactly maxBytes should be accepted: %v", err)
	}
}

func TestFetchJSON(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"history": 12}`)
	mock.AddResponse(http.StatusOK, `not json`)

	var v struct {
		History int `json:"history"`
	}
	if err := FetchJSON(context.Background(), mock, "http://pi/data/receiver.json", &v); err != nil {
		t.Fatalf("FetchJSON failed: %v", err)
	}
	if v.History != 12 {
		t.Errorf("History = %d, want 12", v.History)
	}
	if err := FetchJSON(context.Background(), mock, "http://pi/data/receiver.json", &v); err == nil {
		t.Error("expected decode error")
	}
}
