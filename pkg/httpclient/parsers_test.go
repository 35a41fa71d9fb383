package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseOpenAIHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	headers.Set("x-ratelimit-remaining-requests", "10")
	headers.Set("x-ratelimit-remaining-tokens", "5000")

	info := ParseOpenAIHeaders(headers)

	if info.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", info.RetryAfter)
	}
	if info.RequestsRemaining != 10 {
		t.Errorf("RequestsRemaining = %d, want 10", info.RequestsRemaining)
	}
	if info.TokensRemaining != 5000 {
		t.Errorf("TokensRemaining = %d, want 5000", info.TokensRemaining)
	}
}

func TestParseOpenAIHeaders_Empty(t *testing.T) {
	info := ParseOpenAIHeaders(http.Header{})

	if info.RetryAfter != 0 || info.ResetTime != 0 {
		t.Errorf("expected zero info for empty headers, got %+v", info)
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "7")

	info := ParseRetryAfterHeader(headers)
	if info.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", info.RetryAfter)
	}
}
