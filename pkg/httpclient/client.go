package httpclient

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(int) RetryStrategy

// maxInlineBackoff bounds how long a server-requested 429 backoff may be
// before the request is surfaced instead of slept through.
const maxInlineBackoff = 10 * time.Second

// Client wraps http.Client with a bounded retry loop for the fixed class of
// transport-layer failures: connection reset, timeout, generic 5xx, and 429
// with a server-provided backoff. Everything else is returned immediately.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
	sleep        func(time.Duration)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// WithSleepFunc replaces the retry sleep. Tests use this to avoid real delays.
func WithSleepFunc(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   3,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
		sleep:        time.Sleep,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch {
	case statusCode == http.StatusTooManyRequests:
		// Only retried when the server tells us when to come back; the
		// caller otherwise rotates keys instead of burning the quota.
		return SmartRetry
	case statusCode >= 500:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req)
		lastErr = err

		if strategy == NoRetry || err == nil {
			return resp, err
		}

		if resp != nil {
			resp.Body.Close()
		}

		if attempt >= c.maxRetries {
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			return nil, &RetryableError{
				StatusCode: statusCode,
				Message:    fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
				RetryAfter: retryInfo.RetryAfter,
				Err:        err,
			}
		}

		delay := c.calculateDelay(strategy, attempt, retryInfo)
		if delay <= 0 {
			return resp, err
		}

		slog.Debug("Retrying HTTP request",
			"attempt", attempt+1, "max", c.maxRetries, "delay", delay)
		c.sleep(delay)
	}

	return nil, lastErr
}

func (c *Client) attemptRequest(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if isTransientNetError(err) {
			return nil, ConservativeRetry, RateLimitInfo{}, err
		}
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	strategy := c.strategyFunc(resp.StatusCode)
	if strategy == SmartRetry {
		// 429 is only absorbed here when the server names a short backoff;
		// anything else is handed back to the key manager.
		if retryInfo.RetryAfter <= 0 && retryInfo.ResetTime <= 0 {
			strategy = NoRetry
		} else if retryInfo.RetryAfter > maxInlineBackoff {
			strategy = NoRetry
		}
	}

	return resp, strategy, retryInfo, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, retryInfo RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if retryInfo.RetryAfter > 0 {
			return retryInfo.RetryAfter
		}
		if retryInfo.ResetTime > 0 {
			if delay := time.Until(time.Unix(retryInfo.ResetTime, 0)); delay > 0 {
				return delay
			}
		}
		return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay

	case ConservativeRetry:
		return time.Duration(1+attempt) * c.baseDelay

	default:
		return 0
	}
}

// isTransientNetError reports whether the transport error is in the retryable
// class: timeouts and reset connections.
func isTransientNetError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}
