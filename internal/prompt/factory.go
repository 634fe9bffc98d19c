package prompt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/config"
)

// NewExecutorFromConfig creates an executor from app configuration.
// Returns nil if no stages are configured.
func NewExecutorFromConfig(cfg config.PromptConfig, logger *slog.Logger) (*Executor, error) {
	if len(cfg.Stages) == 0 {
		return nil, nil
	}

	stages := make([]StageConfig, 0, len(cfg.Stages))
	for _, stageCfg := range cfg.Stages {
		stage, err := newStageFromConfig(stageCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stageCfg.Name, err)
		}

		template := stageCfg.Template
		if template == "" && stageCfg.Name == StageAgent {
			template = DefaultAgentTemplate
		}

		stages = append(stages, StageConfig{
			Name:     stageCfg.Name,
			Order:    stageCfg.Order,
			Template: template,
			Stage:    stage,
		})
	}

	return NewExecutor(ExecutorConfig{Stages: stages, Logger: logger}), nil
}

func newStageFromConfig(cfg config.PromptStageConfig, logger *slog.Logger) (Stage, error) {
	timeout := 10 * time.Second
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
		}
	}

	var onError Action
	switch cfg.OnError {
	case "", "allow":
		onError = ActionAllow
	case "deny":
		onError = ActionDeny
	default:
		return nil, fmt.Errorf("invalid on_error %q (must be 'allow' or 'deny')", cfg.OnError)
	}

	return NewWebhookStage(WebhookStageConfig{
		Name:    cfg.Name,
		URL:     cfg.URL,
		Timeout: timeout,
		OnError: onError,
		Retries: cfg.Retries,
		Headers: cfg.Headers,
		Logger:  logger,
	}), nil
}
