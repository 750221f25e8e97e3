package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSigner struct {
	calls  atomic.Int32
	method string
	path   string
	body   string
}

func (s *fakeSigner) SignRequest(method, path string, body []byte) map[string]string {
	s.calls.Add(1)
	s.method, s.path, s.body = method, path, string(body)
	return map[string]string{"KC-API-KEY": "test-key", "KC-API-SIGN": "sig"}
}

func okEnvelope(w http.ResponseWriter, data string) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"code":"200000","data":` + data + `}`))
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.Signed() {
			t.Error("client without signer should not be signed")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com",
			WithHTTPClient(customClient),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithSigner(&fakeSigner{}),
		)
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if !c.Signed() {
			t.Error("client with signer should be signed")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Not Found"}
		expected := "kucoin api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}

		err = &APIError{StatusCode: 401, Code: "400003", Message: "KC-API-KEY not exists"}
		expected = "kucoin api error 401 (code 400003): KC-API-KEY not exists"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			envCode  string
			expected bool
		}{
			{500, "", true},
			{502, "", true},
			{503, "", true},
			{429, "", true},
			{200, "429000", true},
			{400, "", false},
			{401, "400003", false},
			{404, "", false},
			{200, "400100", false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code, Code: tt.envCode}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for %d/%q = %v, want %v", tt.code, tt.envCode, got, tt.expected)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request unwraps data", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("KC-API-KEY") != "" {
				t.Errorf("unsigned client sent KC-API-KEY %q", r.Header.Get("KC-API-KEY"))
			}
			okEnvelope(w, `{"status":"ok"}`)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		data, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"status":"ok"}` {
			t.Errorf("data = %q, want %q", string(data), `{"status":"ok"}`)
		}
	})

	t.Run("signed request with query and body", func(t *testing.T) {
		signer := &fakeSigner{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("KC-API-KEY") != "test-key" {
				t.Errorf("KC-API-KEY = %q, want %q", r.Header.Get("KC-API-KEY"), "test-key")
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			if r.URL.Query().Get("symbol") != "BTC-USDT" {
				t.Errorf("symbol = %q, want %q", r.URL.Query().Get("symbol"), "BTC-USDT")
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("body = %q", body)
			}
			okEnvelope(w, `null`)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithSigner(signer))
		query := map[string][]string{"symbol": {"BTC-USDT"}}
		_, err := c.doRequest(context.Background(), http.MethodPost, "/test", query, []byte(`{"a":1}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signer.method != http.MethodPost || signer.path != "/test?symbol=BTC-USDT" || signer.body != `{"a":1}` {
			t.Errorf("signer saw %s %s %s", signer.method, signer.path, signer.body)
		}
	})

	t.Run("envelope error on 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"code":"400100","msg":"Parameter Error"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Code != "400100" || apiErr.Message != "Parameter Error" {
			t.Errorf("APIError = %+v", apiErr)
		}
	})

	t.Run("4xx error with envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"400003","msg":"KC-API-KEY not exists"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 401 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 401)
		}
		if apiErr.Code != "400003" {
			t.Errorf("Code = %q, want %q", apiErr.Code, "400003")
		}
	})

	t.Run("5xx error without envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`internal error`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 500 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 500)
		}
		if !strings.Contains(string(apiErr.Body), "internal error") {
			t.Errorf("Body = %q", apiErr.Body)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			okEnvelope(w, `{"ok":true}`)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		data, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"ok":true}` {
			t.Errorf("data = %q", data)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on rate limit envelope", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"code":"429000","msg":"Too Many Requests"}`))
				return
			}
			okEnvelope(w, `{}`)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("re-signs every attempt", func(t *testing.T) {
		signer := &fakeSigner{}
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			okEnvelope(w, `{}`)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond), WithSigner(signer))
		if _, err := c.doWithRetry(context.Background(), http.MethodPost, "/test", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signer.calls.Load() != 2 {
			t.Errorf("signer calls = %d, want 2", signer.calls.Load())
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("zero backoff does not panic", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(1, 0))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}

// TestCall tests request encoding and result decoding.
func TestCall(t *testing.T) {
	t.Run("decodes data into result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"name":"x"}` {
				t.Errorf("body = %q", body)
			}
			okEnvelope(w, `{"token":"abc","count":2}`)
		}))
		defer server.Close()

		var result struct {
			Token string `json:"token"`
			Count int    `json:"count"`
		}
		c := NewClient(server.URL)
		req := map[string]string{"name": "x"}
		if err := c.Call(context.Background(), http.MethodPost, "/api/v1/thing", req, &result); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if result.Token != "abc" || result.Count != 2 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("nil request sends no body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if len(body) != 0 {
				t.Errorf("body = %q, want empty", body)
			}
			okEnvelope(w, `{}`)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if err := c.Call(context.Background(), http.MethodPost, "/x", nil, nil); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	})

	t.Run("bad data shape", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			okEnvelope(w, `"not an object"`)
		}))
		defer server.Close()

		var result struct{ Token string }
		c := NewClient(server.URL)
		err := c.Call(context.Background(), http.MethodGet, "/x", nil, &result)
		if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
			t.Errorf("err = %v, want unmarshal error", err)
		}
	})

	t.Run("invalid envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`<html>`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(0, 0))
		err := c.Call(context.Background(), http.MethodGet, "/x", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "unmarshal envelope") {
			t.Errorf("err = %v, want envelope error", err)
		}
	})
}
