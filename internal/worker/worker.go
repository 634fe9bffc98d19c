// Package worker consumes jobs from a queue bridge with bounded concurrency.
//
// Production TTS and digital-human workers run out of process; the handlers
// in this package stand in for them in development and tests.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/queue"
)

// DefaultRetryDelay is the pause after a failed Consume.
const DefaultRetryDelay = time.Second

// Handler processes one job.
type Handler interface {
	Handle(ctx context.Context, job queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// Config configures a Pool.
type Config struct {
	Queue queue.Name
	// Parallel bounds concurrent Handle calls. Defaults to 1.
	Parallel   int
	RetryDelay time.Duration
}

// Stats counts finished jobs.
type Stats struct {
	Processed int64
	Failed    int64
}

// Pool pulls jobs from one queue and dispatches them to a handler.
type Pool struct {
	bridge  queue.Bridge
	cfg     Config
	handler Handler
	logger  *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool.
func NewPool(bridge queue.Bridge, cfg Config, handler Handler, logger *slog.Logger) *Pool {
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		bridge:  bridge,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String("queue", string(cfg.Queue))),
	}
}

// Run consumes until ctx is done or the bridge is closed, then waits for
// in-flight handlers. It returns nil on either kind of shutdown.
func (p *Pool) Run(ctx context.Context) error {
	sem := make(chan struct{}, p.cfg.Parallel)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		job, err := p.bridge.Consume(ctx, p.cfg.Queue)
		if err != nil {
			<-sem
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			p.logger.Warn("consume failed", slog.String("error", err.Error()))
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		wg.Add(1)
		go func(job queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			p.handle(ctx, job)
		}(job)
	}
}

func (p *Pool) handle(ctx context.Context, job queue.Job) {
	start := time.Now()
	err := p.handler.Handle(ctx, job)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("job failed",
			slog.String("request_id", job.RequestID),
			slog.Int("chunk_id", job.ChunkID),
			slog.String("error", err.Error()))
		return
	}
	p.processed.Add(1)
	p.logger.Debug("job done",
		slog.String("request_id", job.RequestID),
		slog.Int("chunk_id", job.ChunkID),
		slog.Duration("duration", time.Since(start)))
}

// Stats returns the counters so far.
func (p *Pool) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}
}
