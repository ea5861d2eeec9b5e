package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	Name        string // provider name reported by Name()
	APIKey      string
	BaseURL     string // empty means api.openai.com
	Model       string
	MaxTokens   int
	Temperature *float32
	HTTPClient  *http.Client
}

// OpenAIClient talks to any endpoint implementing the OpenAI chat
// completions API, including tool calling and streaming.
type OpenAIClient struct {
	name   string
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAIClient creates a client from cfg.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIClient{name: name, cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return c.name }

// Complete sends a non-streaming completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.name, Message: "response contained no choices"}
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Model:      resp.Model,
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream sends a streaming completion request. Only text deltas are
// forwarded; the final done event carries the concatenated text.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, c.wrapError(err)
	}

	ch := make(chan StreamEvent)
	go c.pump(ctx, stream, ch)
	return ch, nil
}

func (c *OpenAIClient) pump(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- StreamEvent) {
	defer close(ch)
	defer stream.Close()

	start := time.Now()
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var full strings.Builder
	var finish, model string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			send(StreamEvent{Type: EventDone, Response: &CompletionResponse{
				Content:    full.String(),
				StopReason: finish,
				Model:      model,
				Duration:   time.Since(start),
			}})
			return
		}
		if err != nil {
			send(StreamEvent{Type: EventError, Error: c.wrapError(err).Error()})
			return
		}
		model = resp.Model
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		full.WriteString(choice.Delta.Content)
		if !send(StreamEvent{Type: EventDelta, Content: choice.Delta.Content}) {
			return
		}
	}
}

func (c *OpenAIClient) buildRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := c.cfg.Model
	if model == "" {
		model = req.Model
	}
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   stream,
	}

	switch {
	case req.MaxTokens > 0:
		out.MaxTokens = req.MaxTokens
	case c.cfg.MaxTokens > 0:
		out.MaxTokens = c.cfg.MaxTokens
	}
	switch {
	case req.Temperature != nil:
		out.Temperature = *req.Temperature
	case c.cfg.Temperature != nil:
		out.Temperature = *c.cfg.Temperature
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 && req.ToolChoice != "" {
		out.ToolChoice = req.ToolChoice
	}
	return out
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

// wrapError converts SDK errors into ProviderError so failover can inspect
// the status code.
func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, Message: apiErr.Message, Code: apiErr.HTTPStatusCode}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ProviderError{Provider: c.name, Message: msg, Code: reqErr.HTTPStatusCode}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{Provider: c.name, Message: fmt.Sprintf("request failed: %v", err)}
}
