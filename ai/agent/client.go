// Package agent calls the external extraction agent: an OpenAI-compatible
// chat-completions endpoint that turns an artifact plus a target schema
// into a field map.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified
	// Should match the default in am/defaults.go for consistency
	DefaultModel = "llama3.2:3b"

	// MaxArtifactBytes caps how much of an artifact is sent in the prompt.
	MaxArtifactBytes = 256 << 10

	defaultTimeout = 120 * time.Second
)

// Client represents an extraction agent client
type Client struct {
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	logger     *zap.SugaredLogger
}

// Config holds agent client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature *float64           // nil = use default (0)
	Logger      *zap.SugaredLogger // Structured logger (nil = nop logger)
}

// NewClient creates a client with defaults applied. The base URL is
// operator configuration, so private hosts such as a local model server
// are allowed.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.0
		config.Temperature = &defaultTemp
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpclient.New(httpclient.Options{Timeout: config.Timeout, AllowPrivateHosts: true}),
		config:     config,
		logger:     logger,
	}
}

// Request describes one extraction: the artifact and the shape the result
// must take.
type Request struct {
	AgentID     string
	SourceID    string
	Path        string
	ContentType string
	Body        []byte
	Schema      map[string]any // optional JSON Schema for the result
	Fields      []string       // optional expected output fields
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks compatible endpoints for a JSON object reply.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Message represents a message in a chat completion.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StatusError is a non-200 reply from the agent endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent request failed with status %d: %s", e.StatusCode, e.Body)
}

// CreateChatCompletion sends a chat completion request. Client timeouts
// are marked errors.ErrTimeout.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("X-Title", "croplink")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
			err = errors.Mark(err, errors.ErrTimeout)
		}
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &chatResp, nil
}

// Extract asks the agent for the field map of one artifact.
func (c *Client) Extract(ctx context.Context, req Request) (map[string]any, error) {
	if c.baseURL == "" {
		return nil, errors.New("extraction agent base URL not configured")
	}

	system, err := systemPrompt(req)
	if err != nil {
		return nil, err
	}

	chatReq := ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userPrompt(req)},
		},
		Temperature:    *c.config.Temperature,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	start := time.Now()
	resp, err := c.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Agent: %s, source: %s", req.AgentID, req.SourceID))
		return nil, errors.Wrap(err, "extraction agent call failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from extraction agent")
	}

	c.logger.Debugw("Agent extraction response",
		"agent_id", req.AgentID,
		"model", resp.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return parseFieldMap(resp.Choices[0].Message.Content)
}

// IsConfigured reports whether an endpoint is set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}

func systemPrompt(req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the extraction agent %q. ", req.AgentID)
	b.WriteString("Read the artifact and reply with a single JSON object holding the extracted fields. ")
	b.WriteString("Do not add commentary.")
	if len(req.Fields) > 0 {
		fmt.Fprintf(&b, "\nFields: %s", strings.Join(req.Fields, ", "))
	}
	if len(req.Schema) > 0 {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal target schema")
		}
		fmt.Fprintf(&b, "\nThe object must validate against this JSON Schema:\n%s", schema)
	}
	return b.String(), nil
}

func userPrompt(req Request) string {
	body := req.Body
	truncated := false
	if len(body) > MaxArtifactBytes {
		body = body[:MaxArtifactBytes]
		truncated = true
	}
	var b strings.Builder
	fmt.Fprintf(&b, "source: %s\npath: %s\n", req.SourceID, req.Path)
	if req.ContentType != "" {
		fmt.Fprintf(&b, "content-type: %s\n", req.ContentType)
	}
	if truncated {
		fmt.Fprintf(&b, "note: artifact truncated to %d bytes\n", MaxArtifactBytes)
	}
	b.WriteString("\n")
	b.Write(body)
	return b.String()
}

// parseFieldMap decodes the reply, tolerating a fenced code block.
func parseFieldMap(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		err = errors.WithDetail(err, "Reply: "+truncate(content, 200))
		return nil, errors.Wrap(err, "agent reply is not a JSON object")
	}
	if fields == nil {
		return nil, errors.New("agent reply is null")
	}
	return fields, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
