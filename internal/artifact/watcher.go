package artifact

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

const (
	// DefaultPollInterval is how often the watcher re-checks the filesystem.
	DefaultPollInterval = time.Second
	// DefaultTimeout bounds one AwaitAll call.
	DefaultTimeout = 5 * time.Minute
)

// Progress reports how many awaited artifacts are still missing.
type Progress struct {
	Total     int
	Remaining int
}

// Watcher polls for the existence of artifact files. Existence is the only
// completion signal; the watcher never reads file content.
type Watcher struct {
	// Stage names the stage being awaited in timeout errors.
	Stage        string
	PollInterval time.Duration
	Timeout      time.Duration

	// Exists is swapped in tests. Defaults to os.Stat.
	Exists func(path string) bool
}

// NewWatcher creates a watcher with the given bounds; zero values take the defaults.
func NewWatcher(stage string, poll, timeout time.Duration) *Watcher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watcher{Stage: stage, PollInterval: poll, Timeout: timeout}
}

// AwaitAll blocks until every path exists. onProgress, if set, is called on
// each tick where something is still missing. An empty set returns
// immediately. Cancellation returns ctx.Err(); exceeding Timeout returns a
// StageError of kind stage_timeout.
func (w *Watcher) AwaitAll(ctx context.Context, paths []string, onProgress func(Progress)) error {
	pending := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		pending[p] = struct{}{}
	}
	if len(pending) == 0 {
		return nil
	}
	total := len(pending)

	poll := w.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		for p := range pending {
			if w.exists(p) {
				delete(pending, p)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if onProgress != nil {
			onProgress(Progress{Total: total, Remaining: len(pending)})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return domain.ErrStageTimeout(w.Stage,
				fmt.Errorf("%d of %d artifacts missing after %s", len(pending), total, timeout))
		case <-ticker.C:
		}
	}
}

func (w *Watcher) exists(path string) bool {
	if w.Exists != nil {
		return w.Exists(path)
	}
	_, err := os.Stat(path)
	return err == nil
}
