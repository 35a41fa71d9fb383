// Package llms provides the streaming provider adapters and the model
// registry. Adapters expose one operation, StreamCompletion, over a uniform
// event channel; all tool calls are textual XML parsed downstream, never
// structured provider tool calls.
package llms

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// EventType tags a stream event.
type EventType string

const (
	EventChunk  EventType = "chunk"
	EventStatus EventType = "status"
	EventError  EventType = "error"
)

// StreamEvent is one event on a completion stream. An error event is
// terminal for the stream.
type StreamEvent struct {
	Type EventType
	Text string
	Err  *ProviderError
}

// ErrorKind classifies a provider error for downstream recovery decisions
// (retry vs key-rotate vs model-failover).
type ErrorKind string

const (
	KindProviderUnreachable ErrorKind = "provider_unreachable"
	KindAuthInvalid         ErrorKind = "auth_invalid"
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindRateLimited         ErrorKind = "rate_limited"
	KindBadRequest          ErrorKind = "bad_request"
	KindTimeout             ErrorKind = "timeout"
	KindConnectionReset     ErrorKind = "connection_reset"
	KindAPIStatus5xx        ErrorKind = "api_status_5xx"
	KindAPIStatus4xxOther   ErrorKind = "api_status_4xx_other"
	KindUnknown             ErrorKind = "unknown"
)

// ProviderError is the terminal error of a completion stream.
type ProviderError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// CompletionRequest is the provider-agnostic streaming request.
type CompletionRequest struct {
	Messages    []protocol.Message
	Model       string
	Temperature float64
	MaxTokens   int
	Options     ProviderOptions
}

// Provider is the uniform streaming interface over one LLM backend.
// Implementations must not mutate the request messages.
type Provider interface {
	// Name returns the provider instance name.
	Name() string

	// StreamCompletion starts a completion and returns the event channel.
	// The channel is closed when the stream ends, after either a status
	// event with the finish reason or a terminal error event.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Close aborts any in-flight stream and releases resources.
	Close() error
}

// KeySource supplies the currently active API key for a provider; rotation
// and quarantine live behind it.
type KeySource func() (config.KeyConfig, bool)
