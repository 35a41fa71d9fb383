package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       RetryStrategy
	}{
		{"rate_limited", http.StatusTooManyRequests, SmartRetry},
		{"internal_error", http.StatusInternalServerError, ConservativeRetry},
		{"bad_gateway", http.StatusBadGateway, ConservativeRetry},
		{"service_unavailable", http.StatusServiceUnavailable, ConservativeRetry},
		{"bad_request", http.StatusBadRequest, NoRetry},
		{"unauthorized", http.StatusUnauthorized, NoRetry},
		{"not_found", http.StatusNotFound, NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryStrategy(tt.statusCode); got != tt.want {
				t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(3),
		WithBaseDelay(time.Millisecond),
		WithSleepFunc(func(time.Duration) {}),
	)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(WithSleepFunc(func(time.Duration) {}))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() expected error for HTTP 400")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected response with status 400, got %v", resp)
	}
	resp.Body.Close()

	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestDo_RateLimitWithoutBackoffIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(
		WithHeaderParser(ParseOpenAIHeaders),
		WithSleepFunc(func(time.Duration) {}),
	)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() expected error for HTTP 429")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no backoff hint, no retry)", got)
	}
}

func TestDo_RateLimitWithRetryAfterIsRetried(t *testing.T) {
	var calls atomic.Int32
	var slept atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHeaderParser(ParseOpenAIHeaders),
		WithSleepFunc(func(time.Duration) { slept.Add(1) }),
	)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
	if slept.Load() == 0 {
		t.Error("expected a backoff sleep before the retry")
	}
}

func TestDo_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(2),
		WithBaseDelay(time.Millisecond),
		WithSleepFunc(func(time.Duration) {}),
	)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() expected error after exhausting retries")
	}

	retryErr, ok := err.(*RetryableError)
	if !ok {
		t.Fatalf("error type = %T, want *RetryableError", err)
	}
	if retryErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", retryErr.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3 (initial + 2 retries)", got)
	}
}
