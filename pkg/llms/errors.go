package llms

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/kadirpekel/colony/pkg/httpclient"
)

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized:
		return KindAuthInvalid
	case code == http.StatusForbidden:
		return KindPermissionDenied
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusBadRequest:
		return KindBadRequest
	case code >= 500:
		return KindAPIStatus5xx
	case code >= 400:
		return KindAPIStatus4xxOther
	default:
		return KindUnknown
	}
}

// ClassifyTransport maps a transport-layer error to an error kind.
func ClassifyTransport(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindConnectionReset
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindProviderUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindProviderUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindProviderUnreachable
	}

	return KindUnknown
}

// classifyRequestError turns an error from the retrying HTTP client into a
// ProviderError. Exhausted retries keep the status-derived kind so the
// scheduler can escalate correctly.
func classifyRequestError(err error) *ProviderError {
	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) {
		kind := KindAPIStatus5xx
		if retryErr.StatusCode > 0 {
			kind = ClassifyStatus(retryErr.StatusCode)
		} else if inner := retryErr.Unwrap(); inner != nil {
			kind = ClassifyTransport(inner)
		}
		return &ProviderError{Kind: kind, Message: err.Error(), RetryAfter: retryErr.RetryAfter}
	}

	return &ProviderError{Kind: ClassifyTransport(err), Message: err.Error()}
}

// retryAfterFromHeader parses a Retry-After value in seconds.
func retryAfterFromHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	return httpclient.ParseRetryAfterHeader(resp.Header).RetryAfter
}
