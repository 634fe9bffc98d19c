package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// Executor runs the configured stages in order.
type Executor struct {
	stages []StageConfig
	logger *slog.Logger
}

// ExecutorConfig configures an executor from stage configurations.
type ExecutorConfig struct {
	Stages []StageConfig
	Logger *slog.Logger
}

// StageConfig is the configuration for a single stage.
type StageConfig struct {
	Name     string
	Order    int
	Template string
	Stage    Stage
}

// Result records which stage, if any, rewrote the prompt.
type Result struct {
	Stage   string
	Content string
}

// NewExecutor creates an executor from configuration.
func NewExecutor(cfg ExecutorConfig) *Executor {
	stages := append([]StageConfig(nil), cfg.Stages...)
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Order < stages[j].Order
	})

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{stages: stages, logger: logger}
}

// Run executes the stages enabled for item and returns a copy of item with
// the last user turn rewritten by the first stage that produced content.
// item itself is never modified.
func (e *Executor) Run(ctx context.Context, item *domain.ChatItem, enabled func(stage string) bool) (*domain.ChatItem, Result, error) {
	out := item.Clone()
	query := out.LastUserContent()

	for _, sc := range e.stages {
		if enabled != nil && !enabled(sc.Name) {
			continue
		}

		output, err := sc.Stage.Process(ctx, &Input{
			Stage:     sc.Name,
			UserID:    item.UserID,
			RequestID: item.RequestID,
			Query:     query,
			Product:   item.ProductInfo,
		})
		if err != nil {
			return nil, Result{}, domain.NewStageError(domain.ErrorKindPromptStage, sc.Name,
				fmt.Errorf("prompt stage %s error: %w", sc.Name, err))
		}

		switch output.Action {
		case ActionDeny:
			reason := output.DenyReason
			if reason == "" {
				reason = "denied by prompt stage " + sc.Name
			}
			return nil, Result{}, domain.NewStageError(domain.ErrorKindPromptStage, sc.Name,
				&DeniedError{StageName: sc.Name, Reason: reason})
		case ActionMutate:
			if output.Content == "" {
				continue
			}
			content := Render(sc.Template, output.Content, query)
			out.SetLastUserContent(content)
			e.logger.Debug("prompt rewritten",
				slog.String("request_id", item.RequestID),
				slog.String("stage", sc.Name))
			return out, Result{Stage: sc.Name, Content: content}, nil
		}
	}

	return out, Result{}, nil
}

// HasStages reports whether any stage is configured.
func (e *Executor) HasStages() bool {
	return e != nil && len(e.stages) > 0
}

// DeniedError is returned when a stage rejects a request.
type DeniedError struct {
	StageName string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("prompt denied by %s: %s", e.StageName, e.Reason)
}

// IsDenied returns true if err is, or wraps, a prompt denial.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}
