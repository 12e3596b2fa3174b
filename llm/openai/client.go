// Package openai implements llm.Client against any OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
	defaultTimeout = 180 * time.Second
)

// Client talks to a chat completions API. Structured output uses the
// json_schema response format when no tools are offered, and forced
// tool choice otherwise.
type Client struct {
	HTTPClient *http.Client
	Logger     core.Logger

	apiKey  string
	baseURL string
	model   string

	// Retry configuration for transient API failures.
	MaxRetries int
	RetryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// NewClient builds a client from explicit values layered over the
// environment: SUPERGLUE_LLM_API_KEY (or OPENAI_API_KEY),
// SUPERGLUE_LLM_BASE_URL and SUPERGLUE_LLM_MODEL.
func NewClient(apiKey string, logger core.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if apiKey == "" {
		apiKey = os.Getenv("SUPERGLUE_LLM_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	c := &Client{
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Logger:     logger,
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
	if v := os.Getenv("SUPERGLUE_LLM_BASE_URL"); v != "" {
		c.baseURL = v
	}
	if v := os.Getenv("SUPERGLUE_LLM_MODEL"); v != "" {
		c.model = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire types for the chat completions API.

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatToolSpec `json:"function"`
}

type chatToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateText runs a plain completion.
func (c *Client) GenerateText(ctx context.Context, messages []llm.Message, temperature float64) (string, []llm.Message, error) {
	resp, err := c.complete(ctx, chatRequest{
		Model:       c.model,
		Messages:    toWire(messages),
		Temperature: temperature,
	})
	if err != nil {
		return "", nil, err
	}
	msg := resp.Choices[0].Message
	return msg.Content, append(messages, fromWire(msg)), nil
}

// GenerateObject runs a schema-constrained completion. With tools, the
// model is forced to answer with a tool call; the first call is
// returned. Without tools, the json_schema response format constrains
// the content and the parsed object is returned.
func (c *Client) GenerateObject(ctx context.Context, messages []llm.Message, schema json.RawMessage, temperature float64, tools []llm.Tool) (*llm.ObjectResult, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    toWire(messages),
		Temperature: temperature,
	}
	if len(tools) > 0 {
		for _, t := range tools {
			req.Tools = append(req.Tools, chatTool{
				Type: "function",
				Function: chatToolSpec{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		req.ToolChoice = "required"
	} else {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   "structured_output",
				Strict: true,
				Schema: schema,
			},
		}
	}

	resp, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	msg := resp.Choices[0].Message
	history := append(messages, fromWire(msg))

	if len(tools) > 0 {
		if len(msg.ToolCalls) == 0 {
			return nil, fmt.Errorf("model returned no tool call despite tool_choice=required")
		}
		tc := msg.ToolCalls[0]
		return &llm.ObjectResult{
			Call: &llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
			Messages: history,
		}, nil
	}

	if !json.Valid([]byte(msg.Content)) {
		return nil, fmt.Errorf("model returned invalid JSON for structured output")
	}
	return &llm.ObjectResult{
		Object:   json.RawMessage(msg.Content),
		Messages: history,
	}, nil
}

// complete issues the request with retry on transient failures. Client
// errors other than 429 are returned immediately.
func (c *Client) complete(ctx context.Context, req chatRequest) (*chatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("LLM API key not configured")
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.RetryDelay * time.Duration(1<<uint(attempt-1))
			c.Logger.Warn("LLM request failed, retrying", map[string]interface{}{
				"operation":      "llm_request_retry",
				"attempt":        attempt,
				"max_retries":    c.MaxRetries,
				"retry_delay_ms": delay.Milliseconds(),
				"error":          lastErr.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, retryable, err := c.doOnce(ctx, jsonData)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("LLM request failed after %d attempts: %w", c.MaxRetries+1, lastErr)
}

func (c *Client) doOnce(ctx context.Context, jsonData []byte) (*chatResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := httpResp.StatusCode == 429 || httpResp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("LLM API error: status %d: %s", httpResp.StatusCode, core.Truncate(string(body), 512))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("LLM API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, fmt.Errorf("no response choices returned")
	}
	return &parsed, false, nil
}

func toWire(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		wm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, chatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: chatToolFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func fromWire(m chatMessage) llm.Message {
	out := llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
