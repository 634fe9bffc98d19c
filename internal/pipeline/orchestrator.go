package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamer-sales/sales-gateway/internal/artifact"
	"github.com/streamer-sales/sales-gateway/internal/audio"
	"github.com/streamer-sales/sales-gateway/internal/domain"
	"github.com/streamer-sales/sales-gateway/internal/llm"
	"github.com/streamer-sales/sales-gateway/internal/prompt"
	"github.com/streamer-sales/sales-gateway/internal/queue"
	"github.com/streamer-sales/sales-gateway/internal/segmenter"
	"github.com/streamer-sales/sales-gateway/internal/storage"
	"github.com/streamer-sales/sales-gateway/internal/telemetry"
	"github.com/streamer-sales/sales-gateway/internal/tokens"
)

// Degraded stage names reported in the terminal event.
const (
	DegradedTTS          = "tts"
	DegradedMerge        = "merge"
	DegradedDigitalHuman = "dg"
)

// DefaultEventDelay is the pause after each llm event.
const DefaultEventDelay = 10 * time.Millisecond

// Config holds the per-deployment pipeline settings.
type Config struct {
	Layout    artifact.Layout
	Segmenter segmenter.Config
	Features  Features

	PollInterval time.Duration
	AudioTimeout time.Duration
	VideoTimeout time.Duration
	// EventDelay pauses after each llm event so slow clients see steady
	// progress. Zero disables it.
	EventDelay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPromptExecutor runs agent and RAG stages before generation.
func WithPromptExecutor(e *prompt.Executor) Option {
	return func(o *Orchestrator) { o.prompts = e }
}

// WithJournal records every request's progress and outcome.
func WithJournal(j storage.RequestJournal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithTokenCounter counts completion tokens for the journal.
func WithTokenCounter(c tokens.Counter) Option {
	return func(o *Orchestrator) { o.counter = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator runs requests. It holds no per-request state and is safe for
// concurrent use; each request runs on its own goroutine.
type Orchestrator struct {
	source llm.TokenSource
	bridge queue.Bridge
	cfg    Config

	prompts *prompt.Executor
	journal storage.RequestJournal
	counter tokens.Counter
	logger  *slog.Logger
	tracer  trace.Tracer

	merge func(dst string, srcs []string) (audio.Format, error)
}

// New creates an orchestrator.
func New(source llm.TokenSource, bridge queue.Bridge, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source: source,
		bridge: bridge,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
		merge:  audio.Merge,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream starts item and returns its events. The channel is closed after
// the terminal event. Cancelling ctx stops generation and any wait; jobs
// already submitted to workers are not retracted.
func (o *Orchestrator) Stream(ctx context.Context, item *domain.ChatItem) <-chan domain.Event {
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		o.run(ctx, item, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, item *domain.ChatItem, out chan<- domain.Event) {
	ctx, span := o.tracer.Start(ctx, "pipeline.request", trace.WithAttributes(
		attribute.String("request.id", item.RequestID),
		attribute.String("user.id", item.UserID),
	))
	defer span.End()

	r := &request{
		o:       o,
		item:    item,
		plugins: o.cfg.Features.Effective(item.Plugins),
		out:     out,
		m:       newMachine(),
		logger: o.logger.With(
			slog.String("request_id", item.RequestID),
			slog.String("user_id", item.UserID)),
		started: time.Now(),
		rec: &storage.RequestRecord{
			RequestID: item.RequestID,
			UserID:    item.UserID,
		},
	}
	r.m.onEnter = func(s State) { r.checkpoint(ctx, s) }
	r.checkpoint(ctx, StateGenerating)

	// Request ids name artifact files; reject them before anything runs.
	err := o.cfg.Layout.Check(item.RequestID)
	if err == nil {
		err = r.generate(ctx)
	}
	if err == nil && r.plugins.DigitalHuman {
		err = r.render(ctx)
	}
	final := r.finish(ctx, err)

	span.SetAttributes(
		attribute.String("pipeline.state", string(final)),
		attribute.Int("pipeline.chunks", r.chunks),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// request is the state of one run. It is owned by the run goroutine.
type request struct {
	o       *Orchestrator
	item    *domain.ChatItem
	plugins domain.PluginsInfo
	out     chan<- domain.Event
	m       *machine
	logger  *slog.Logger
	started time.Time
	rec     *storage.RequestRecord

	lastID   int
	text     string
	chunks   int
	degraded []string
}

func (r *request) generate(ctx context.Context) error {
	ctx, span := r.o.tracer.Start(ctx, "pipeline.generate")
	defer span.End()

	item := r.item
	if r.o.prompts.HasStages() {
		rewritten, res, err := r.o.prompts.Run(ctx, item, r.promptEnabled)
		if err != nil {
			return err
		}
		item = rewritten
		r.rec.PromptStage = res.Stage
	}

	deltas, err := r.o.source.Stream(ctx, item.Prompt, item.ChatConfig)
	if err != nil {
		return domain.ErrUpstreamGeneration(err)
	}

	seg := segmenter.New(item.RequestID, r.o.cfg.Segmenter)

loop:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				break loop
			}
			if d.Err != nil {
				return domain.ErrUpstreamGeneration(d.Err)
			}

			if chunk, ok := seg.Push(d.Text); ok {
				r.submitAudio(ctx, chunk)
			}
			r.text = seg.Text()

			if err := r.emit(ctx, domain.StepLLM, 0); err != nil {
				return err
			}
			if err := r.pause(ctx); err != nil {
				return err
			}
		}
	}

	for _, chunk := range seg.Drain() {
		r.submitAudio(ctx, chunk)
	}
	r.chunks = seg.Emitted()
	r.rec.Chunks = r.chunks

	span.SetAttributes(attribute.Int("pipeline.chunks", r.chunks))
	r.logger.Info("generation finished",
		slog.Int("chunks", r.chunks),
		slog.Int("chars", len([]rune(r.text))))
	return nil
}

func (r *request) promptEnabled(stage string) bool {
	switch stage {
	case prompt.StageAgent:
		return r.plugins.Agent
	case prompt.StageRAG:
		return r.plugins.RAG
	}
	return true
}

// submitAudio hands chunk to the TTS queue. After one failed submission the
// stage is degraded and later chunks are not submitted, so an unreachable
// broker costs at most one submit timeout.
func (r *request) submitAudio(ctx context.Context, chunk domain.SentenceChunk) {
	if !r.plugins.TTS || r.isDegraded(DegradedTTS) {
		return
	}
	job := queue.NewAudioJob(r.item.UserID, chunk.RequestID, chunk.ChunkID, chunk.Text)
	if err := r.o.bridge.Submit(ctx, queue.TTS, job); err != nil {
		r.degrade(DegradedTTS, domain.ErrQueueSubmission(string(domain.StepTTS), err))
		return
	}
	r.logger.Debug("tts job submitted",
		slog.Int("chunk_id", chunk.ChunkID),
		slog.String("sentence", chunk.Text))
}

// render drives the digital-human stages once generation has finished.
func (r *request) render(ctx context.Context) error {
	if r.isDegraded(DegradedTTS) {
		r.logger.Warn("skipping digital human: chunk audio is incomplete")
		return nil
	}

	layout := r.o.cfg.Layout
	requestID := r.item.RequestID

	if err := r.m.to(StateAwaitingAudio); err != nil {
		return err
	}
	paths := layout.ChunkAudioPaths(requestID, r.chunks)
	if err := r.await(ctx, "pipeline.await_audio", domain.StepTTS, paths, r.o.cfg.AudioTimeout); err != nil {
		return err
	}
	if len(paths) == 0 {
		// Nothing was spoken, so there is nothing to merge or render.
		r.logger.Info("no sentence chunks, skipping merge and video")
		return nil
	}

	if err := r.m.to(StateMerging); err != nil {
		return err
	}
	merged := layout.MergedAudio(requestID)
	if err := r.mergeAudio(ctx, merged, paths); err != nil {
		if domain.IsKind(err, domain.ErrorKindMergeFormatMismatch) {
			r.degrade(DegradedMerge, err)
			return nil
		}
		return err
	}

	if err := r.m.to(StateAwaitingVideo); err != nil {
		return err
	}
	job := queue.NewVideoJob(r.item.UserID, requestID, merged)
	if err := r.o.bridge.Submit(ctx, queue.DigitalHuman, job); err != nil {
		r.degrade(DegradedDigitalHuman, domain.ErrQueueSubmission(string(domain.StepDigitalHuman), err))
		return nil
	}
	marker := layout.CompletionMarker(merged)
	if err := r.await(ctx, "pipeline.await_video", domain.StepDigitalHuman, []string{marker}, r.o.cfg.VideoTimeout); err != nil {
		return err
	}
	r.rec.Video = layout.Video(merged)
	return nil
}

func (r *request) await(ctx context.Context, spanName string, step domain.Step, paths []string, timeout time.Duration) error {
	ctx, span := r.o.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.Int("artifacts", len(paths)),
	))
	defer span.End()

	w := artifact.NewWatcher(string(step), r.o.cfg.PollInterval, timeout)
	err := w.AwaitAll(ctx, paths, func(p artifact.Progress) {
		r.logger.Debug("waiting for artifacts",
			slog.String("step", string(step)),
			slog.Int("remaining", p.Remaining),
			slog.Int("total", p.Total))
		// A failed send means ctx is done; AwaitAll notices on its next select.
		_ = r.emit(ctx, step, p.Remaining)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *request) mergeAudio(ctx context.Context, merged string, paths []string) error {
	_, span := r.o.tracer.Start(ctx, "pipeline.merge", trace.WithAttributes(
		attribute.Int("chunks", len(paths)),
	))
	defer span.End()

	format, err := r.o.merge(merged, paths)
	if err != nil {
		span.RecordError(err)
		if domain.KindOf(err) != "" {
			return err
		}
		return fmt.Errorf("merge audio: %w", err)
	}
	r.rec.MergedAudio = merged

	removed := audio.Cleanup(paths, r.logger)
	if dir := r.o.cfg.Layout.ChunkDir(r.item.RequestID); removed == len(paths) {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("chunk audio dir not removed", slog.String("path", dir), slog.String("error", err.Error()))
		}
	}
	r.logger.Info("chunk audio merged",
		slog.String("path", merged),
		slog.String("format", format.String()),
		slog.Int("chunks", len(paths)),
		slog.Int("removed", removed))
	return nil
}

// finish moves to DONE or FAILED, records the outcome and emits the
// terminal event.
func (r *request) finish(ctx context.Context, err error) State {
	final := StateDone
	if err != nil {
		final = StateFailed
	}

	r.rec.Text = r.text
	r.rec.Degraded = slices.Clone(r.degraded)
	if r.o.counter != nil {
		r.rec.CompletionTokens = r.o.counter.CountText(r.text)
	}
	if err != nil {
		r.rec.Error = err.Error()
	}

	if terr := r.m.to(final); terr != nil {
		err = terr
		final = StateFailed
		r.rec.Error = terr.Error()
		_ = r.m.to(StateFailed)
	}

	ev := domain.NewEvent(r.lastID+1, domain.StepAll, r.text)
	ev.EndFlag = true
	ev.Degraded = slices.Clone(r.degraded)
	if err != nil {
		ev.Failed = true
		ev.Error = err.Error()
	}

	attrs := []any{
		slog.String("state", string(final)),
		slog.Int("chunks", r.chunks),
		slog.Duration("duration", time.Since(r.started)),
	}
	if len(r.degraded) > 0 {
		attrs = append(attrs, slog.Any("degraded", r.degraded))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if kind := domain.KindOf(err); kind != "" {
			attrs = append(attrs, slog.String("error_kind", string(kind)))
		}
		r.logger.Warn("request failed", attrs...)
	} else {
		r.logger.Info("request finished", attrs...)
	}

	if serr := r.send(ctx, ev); serr != nil {
		r.logger.Debug("terminal event not delivered", slog.String("error", serr.Error()))
	}
	return final
}

// checkpoint writes the journal record on every state change. Writes use a
// context that survives client disconnects.
func (r *request) checkpoint(ctx context.Context, s State) {
	if r.o.journal == nil {
		return
	}
	r.rec.State = string(s)
	switch s {
	case StateDone:
		r.rec.Status = storage.StatusDone
	case StateFailed:
		r.rec.Status = storage.StatusFailed
	default:
		r.rec.Status = storage.StatusRunning
	}
	r.rec.Duration = time.Since(r.started)

	if err := r.o.journal.SaveRequest(context.WithoutCancel(ctx), r.rec); err != nil {
		r.logger.Warn("failed to journal request", slog.String("error", err.Error()))
	}
}

func (r *request) emit(ctx context.Context, step domain.Step, pending int) error {
	ev := domain.NewEvent(r.lastID+1, step, r.text)
	ev.Pending = pending
	return r.send(ctx, ev)
}

func (r *request) send(ctx context.Context, ev domain.Event) error {
	select {
	case r.out <- ev:
		r.lastID = ev.ID
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *request) pause(ctx context.Context) error {
	d := r.o.cfg.EventDelay
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *request) degrade(stage string, err error) {
	r.logger.Warn("stage degraded",
		slog.String("stage", stage),
		slog.String("error", err.Error()))
	if !slices.Contains(r.degraded, stage) {
		r.degraded = append(r.degraded, stage)
	}
}

func (r *request) isDegraded(stage string) bool {
	return slices.Contains(r.degraded, stage)
}
