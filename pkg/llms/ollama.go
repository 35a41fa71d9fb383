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

	"github.com/kadirpekel/colony/pkg/httpclient"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// OllamaProvider streams chat completions from a local Ollama endpoint
// over NDJSON. No authentication is involved.
type OllamaProvider struct {
	name       string
	baseURL    string
	httpClient *httpclient.Client

	baseCtx context.Context
	cancel  context.CancelFunc
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaStreamChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewOllamaProvider(name, baseURL string) *OllamaProvider {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &OllamaProvider{
		name:       name,
		baseURL:    baseURL,
		httpClient: httpclient.New(),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

func (p *OllamaProvider) Name() string {
	return p.name
}

func (p *OllamaProvider) Close() error {
	p.cancel()
	return nil
}

func (p *OllamaProvider) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
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

func (p *OllamaProvider) buildRequest(req CompletionRequest) ollamaRequest {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, ollamaMessage{
			Role:    roleToOllama(msg.Role),
			Content: msg.Content,
		})
	}

	opts := &ollamaOptions{
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
		NumCtx:      req.Options.NumCtx,
		Stop:        req.Options.StopSequences,
	}

	return ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		Options:  opts,
	}
}

func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, request ollamaRequest, outputCh chan<- StreamEvent) *ProviderError {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return &ProviderError{Kind: KindUnknown, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return &ProviderError{Kind: KindUnknown, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errorJSON struct {
			Error string `json:"error"`
		}
		message := string(body)
		if json.Unmarshal(body, &errorJSON) == nil && errorJSON.Error != "" {
			message = errorJSON.Error
		}
		return &ProviderError{Kind: ClassifyStatus(resp.StatusCode), Message: message}
	}
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return &ProviderError{Kind: KindTimeout, Message: "stream canceled: " + ctx.Err().Error()}
			}
			return &ProviderError{Kind: KindConnectionReset, Message: "stream read failed: " + err.Error()}
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Error != "" {
			return &ProviderError{Kind: KindUnknown, Message: chunk.Error}
		}

		if chunk.Message.Content != "" {
			outputCh <- StreamEvent{Type: EventChunk, Text: chunk.Message.Content}
		}

		if chunk.Done {
			reason := chunk.DoneReason
			if reason == "" {
				reason = "stop"
			}
			outputCh <- StreamEvent{Type: EventStatus, Text: "finish_reason: " + reason}
			return nil
		}
	}
}

func roleToOllama(role protocol.Role) string {
	switch role {
	case protocol.RoleAssistant:
		return "assistant"
	case protocol.RoleTool:
		return "tool"
	case protocol.RoleSystem, protocol.RoleFrameworkNotification, protocol.RoleIntervention:
		return "system"
	default:
		return "user"
	}
}
