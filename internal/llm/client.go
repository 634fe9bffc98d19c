// Package llm adapts an OpenAI-compatible inference endpoint into a lazy
// stream of text deltas.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

const defaultBaseURL = "http://127.0.0.1:23333/v1"

// ErrNoModels is returned when the endpoint lists no models and none is configured.
var ErrNoModels = errors.New("llm: endpoint reports no available models")

// Delta is one incremental piece of generated text. A Delta with a non-nil
// Err is the last value on the channel.
type Delta struct {
	Text string
	Err  error
}

// TokenSource produces the generated text for one prompt. The returned
// channel is closed when generation ends; it cannot be restarted.
type TokenSource interface {
	Stream(ctx context.Context, messages []domain.Message, cfg domain.ChatGenConfig) (<-chan Delta, error)
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModel pins the model name instead of asking the endpoint.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithTildeAsPeriod rewrites "~" in deltas as "。". The sales persona model
// ends sentences with "~", which the segmenter would otherwise not see.
func WithTildeAsPeriod() ClientOption {
	return func(c *Client) {
		c.normalize = tildeAsPeriod
	}
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	normalize  func(string) string

	mu    sync.Mutex
	model string
}

var _ TokenSource = (*Client)(nil)

// NewClient creates a new client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream starts a streaming completion. Transport failures before the first
// byte are returned directly; failures mid-stream arrive as a Delta.Err.
func (c *Client) Stream(ctx context.Context, messages []domain.Message, cfg domain.ChatGenConfig) (<-chan Delta, error) {
	model, err := c.Model(ctx)
	if err != nil {
		return nil, err
	}

	req := &ChatCompletionRequest{
		Model:    model,
		Messages: make([]ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	if cfg.TopP > 0 {
		req.TopP = &cfg.TopP
	}
	if cfg.Temperature > 0 {
		req.Temperature = &cfg.Temperature
	}
	if cfg.RepetitionPenalty > 0 {
		req.RepetitionPenalty = &cfg.RepetitionPenalty
	}

	chunks, err := c.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		for res := range chunks {
			var d Delta
			if res.Err != nil {
				d.Err = res.Err
			} else {
				text, ok := deltaText(res.Chunk)
				if !ok {
					continue
				}
				if c.normalize != nil {
					text = c.normalize(text)
				}
				d.Text = text
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
			if d.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

// Model returns the configured model, or the first model the endpoint lists.
// The discovered name is cached.
func (c *Client) Model(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != "" {
		return c.model, nil
	}

	list, err := c.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("discover model: %w", err)
	}
	if len(list.Data) == 0 {
		return "", ErrNoModels
	}
	c.model = list.Data[0].ID
	return c.model, nil
}

// StreamChatCompletion sends a streaming chat completion request and returns a channel of chunks.
func (c *Client) StreamChatCompletion(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apiError(resp.StatusCode, respBody)
	}

	out := make(chan StreamResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

// StreamResult wraps a chunk or error from streaming.
type StreamResult struct {
	Chunk *ChatCompletionChunk
	Err   error
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	send := func(r StreamResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(StreamResult{Err: fmt.Errorf("failed to unmarshal chunk: %w", err)})
			return
		}

		if !send(StreamResult{Chunk: &chunk}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(StreamResult{Err: fmt.Errorf("stream read error: %w", err)})
	}
}

// ListModels retrieves the list of available models.
func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result ModelList
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "sales-gateway/1.0")
}

func apiError(status int, body []byte) error {
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil {
		apiErr.StatusCode = status
		return apiErr
	}
	return fmt.Errorf("API error (status %d): %s", status, string(body))
}

// deltaText extracts the content of the first choice. Chunks that carry no
// content field (role announcements, finish markers) report false.
func deltaText(chunk *ChatCompletionChunk) (string, bool) {
	if chunk == nil || len(chunk.Choices) == 0 {
		return "", false
	}
	content := chunk.Choices[0].Delta.Content
	if content == nil || *content == "" {
		return "", false
	}
	return *content, true
}

func tildeAsPeriod(s string) string {
	if !strings.Contains(s, "~") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "。"), "。。", "。")
}
