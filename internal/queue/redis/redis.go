// Package redis implements the queue bridge on Redis lists.
//
// Jobs are pushed as JSON with RPUSH onto "<prefix>:<queue>" and taken with
// BLPOP, so any worker fleet that speaks Redis can consume them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/streamer-sales/sales-gateway/internal/queue"
)

// DefaultPrefix is the default key prefix.
const DefaultPrefix = "streamer-sales"

// DefaultTimeout is the default per-submit timeout.
const DefaultTimeout = 5 * time.Second

// blockFor bounds a single BLPOP so Consume re-checks ctx regularly.
const blockFor = time.Second

// Config configures the Redis bridge.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces the list keys (default: streamer-sales).
	Prefix string
	// Timeout is the per-submit timeout (default 5s).
	Timeout time.Duration
}

// Bridge hands jobs to workers through Redis lists.
type Bridge struct {
	config Config
	client *goredis.Client
}

var _ queue.Bridge = (*Bridge)(nil)

// New creates a Redis bridge from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis queue requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis queue: invalid URL: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Bridge{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Key returns the list key backing q.
func (b *Bridge) Key(q queue.Name) string {
	return b.config.Prefix + ":" + string(q)
}

// Submit pushes job onto q. Submission is not retried.
func (b *Bridge) Submit(ctx context.Context, q queue.Name, job queue.Job) error {
	if err := job.Validate(q); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	if err := b.client.RPush(pushCtx, b.Key(q), body).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return queue.ErrClosed
		}
		return fmt.Errorf("redis: push %s: %w", q, err)
	}
	return nil
}

// Consume pops the oldest job on q, blocking until one arrives or ctx is done.
func (b *Bridge) Consume(ctx context.Context, q queue.Name) (queue.Job, error) {
	key := b.Key(q)
	for {
		if err := ctx.Err(); err != nil {
			return queue.Job{}, err
		}

		res, err := b.client.BLPop(ctx, blockFor, key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case errors.Is(err, goredis.ErrClosed):
			return queue.Job{}, queue.ErrClosed
		case err != nil:
			if ctx.Err() != nil {
				return queue.Job{}, ctx.Err()
			}
			return queue.Job{}, fmt.Errorf("redis: pop %s: %w", q, err)
		}

		// BLPOP replies with [key, value].
		if len(res) != 2 {
			return queue.Job{}, fmt.Errorf("redis: unexpected BLPOP reply of %d elements", len(res))
		}
		var job queue.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return queue.Job{}, fmt.Errorf("redis: unmarshal job: %w", err)
		}
		return job, nil
	}
}

// Ping checks connectivity.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *Bridge) Close() error {
	return b.client.Close()
}
