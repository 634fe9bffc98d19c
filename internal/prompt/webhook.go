package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookStage calls an external HTTP endpoint that answers with an Output.
type WebhookStage struct {
	name    string
	url     string
	onError Action
	retries int
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// WebhookStageConfig configures a webhook stage.
type WebhookStageConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
	OnError Action // allow (default) or deny
	Retries int
	Headers map[string]string
	Logger  *slog.Logger
}

// NewWebhookStage creates a new webhook stage.
func NewWebhookStage(cfg WebhookStageConfig) *WebhookStage {
	onError := cfg.OnError
	if onError == "" {
		// Augmentation is optional; an unreachable agent must not block chat.
		onError = ActionAllow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookStage{
		name:    cfg.Name,
		url:     cfg.URL,
		onError: onError,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Name returns the stage identifier.
func (s *WebhookStage) Name() string {
	return s.name
}

// Process executes the webhook call.
func (s *WebhookStage) Process(ctx context.Context, in *Input) (*Output, error) {
	var lastErr error

	attempts := s.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := s.doRequest(ctx, in)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return s.handleError(in, lastErr)
}

func (s *WebhookStage) doRequest(ctx context.Context, in *Input) (*Output, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal stage input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output Output
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal stage output: %w", err)
	}

	switch output.Action {
	case ActionAllow, ActionDeny, ActionMutate:
	case "":
		// Bare {"content": "..."} replies are treated as a rewrite.
		if output.Content != "" {
			output.Action = ActionMutate
		} else {
			output.Action = ActionAllow
		}
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", output.Action)
	}

	return &output, nil
}

func (s *WebhookStage) handleError(in *Input, err error) (*Output, error) {
	switch s.onError {
	case ActionAllow:
		s.logger.Warn("prompt stage failed, continuing without it",
			slog.String("stage", s.name),
			slog.String("request_id", in.RequestID),
			slog.String("error", err.Error()))
		return &Output{Action: ActionAllow}, nil
	case ActionDeny:
		return &Output{
			Action:     ActionDeny,
			DenyReason: fmt.Sprintf("webhook error: %v", err),
		}, nil
	default:
		return nil, fmt.Errorf("webhook stage %s failed: %w", s.name, err)
	}
}

var _ Stage = (*WebhookStage)(nil)
