package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/httpclient"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// OpenAIProvider streams chat completions from any OpenAI-compatible
// endpoint (OpenRouter, LiteLLM, vLLM, OpenAI itself) over SSE.
type OpenAIProvider struct {
	name       string
	baseURL    string
	httpClient *httpclient.Client
	keySource  KeySource

	baseCtx context.Context
	cancel  context.CancelFunc
}

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Stream           bool            `json:"stream"`
	Temperature      float64         `json:"temperature"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func NewOpenAIProvider(name, baseURL string, keySource KeySource) *OpenAIProvider {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &OpenAIProvider{
		name:    name,
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		keySource: keySource,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

// Close aborts any in-flight stream.
func (p *OpenAIProvider) Close() error {
	p.cancel()
	return nil
}

func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	request := p.buildRequest(req)

	outputCh := make(chan StreamEvent, 100)

	streamCtx, cancel := mergeContexts(ctx, p.baseCtx)

	go func() {
		defer close(outputCh)
		defer cancel()

		if perr := p.makeStreamingRequest(streamCtx, request, outputCh); perr != nil {
			outputCh <- StreamEvent{Type: EventError, Err: perr}
		}
	}()

	return outputCh, nil
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openAIMessage{
			Role:    roleToOpenAI(msg.Role),
			Content: msg.Content,
		})
	}

	return openAIRequest{
		Model:            req.Model,
		Messages:         messages,
		Stream:           true,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.Options.TopP,
		FrequencyPenalty: req.Options.FrequencyPenalty,
		PresencePenalty:  req.Options.PresencePenalty,
		Stop:             req.Options.StopSequences,
	}
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openAIRequest, outputCh chan<- StreamEvent) *ProviderError {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return &ProviderError{Kind: KindUnknown, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return &ProviderError{Kind: KindUnknown, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	var key config.KeyConfig
	if p.keySource != nil {
		var ok bool
		key, ok = p.keySource()
		if !ok {
			return &ProviderError{Kind: KindAuthInvalid, Message: "no active api key for provider " + p.name}
		}
	}
	if key.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+key.APIKey)
	}
	if key.Referer != "" {
		req.Header.Set("HTTP-Referer", key.Referer)
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderError{
			Kind:       ClassifyStatus(resp.StatusCode),
			Message:    extractAPIError(body, resp.StatusCode),
			RetryAfter: retryAfterFromHeader(resp),
		}
	}
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return &ProviderError{Kind: KindTimeout, Message: "stream canceled: " + ctx.Err().Error()}
			}
			return &ProviderError{Kind: KindConnectionReset, Message: "stream read failed: " + err.Error()}
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		if chunk.Error != nil {
			return &ProviderError{Kind: KindUnknown, Message: chunk.Error.Message}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				outputCh <- StreamEvent{Type: EventChunk, Text: choice.Delta.Content}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				outputCh <- StreamEvent{Type: EventStatus, Text: "finish_reason: " + *choice.FinishReason}
			}
		}
	}
}

func extractAPIError(body []byte, statusCode int) string {
	var errorJSON struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errorJSON) == nil && errorJSON.Error.Message != "" {
		return errorJSON.Error.Message
	}
	return fmt.Sprintf("API request failed with status %d: %s", statusCode, string(body))
}

func roleToOpenAI(role protocol.Role) string {
	switch role {
	case protocol.RoleAssistant:
		return "assistant"
	case protocol.RoleTool:
		return "tool"
	case protocol.RoleSystem:
		return "system"
	case protocol.RoleFrameworkNotification, protocol.RoleIntervention:
		// Framework messages ride as system messages on the wire.
		return "system"
	default:
		return "user"
	}
}

// mergeContexts returns a context canceled when either parent is done.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	if b == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
