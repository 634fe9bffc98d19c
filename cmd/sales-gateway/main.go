package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/streamer-sales/sales-gateway/internal/api"
	"github.com/streamer-sales/sales-gateway/internal/artifact"
	"github.com/streamer-sales/sales-gateway/internal/catalog"
	"github.com/streamer-sales/sales-gateway/internal/config"
	"github.com/streamer-sales/sales-gateway/internal/llm"
	"github.com/streamer-sales/sales-gateway/internal/pipeline"
	"github.com/streamer-sales/sales-gateway/internal/prompt"
	"github.com/streamer-sales/sales-gateway/internal/queue"
	"github.com/streamer-sales/sales-gateway/internal/queue/memory"
	redisqueue "github.com/streamer-sales/sales-gateway/internal/queue/redis"
	"github.com/streamer-sales/sales-gateway/internal/segmenter"
	"github.com/streamer-sales/sales-gateway/internal/server"
	"github.com/streamer-sales/sales-gateway/internal/storage"
	memstore "github.com/streamer-sales/sales-gateway/internal/storage/memory"
	"github.com/streamer-sales/sales-gateway/internal/storage/sqlite"
	"github.com/streamer-sales/sales-gateway/internal/telemetry"
	"github.com/streamer-sales/sales-gateway/internal/tokens"
	"github.com/streamer-sales/sales-gateway/internal/worker"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		log.Fatalf("sales-gateway: %v", err)
	}
	logger.Info("shutdown complete")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	bridge, err := openBridge(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer bridge.Close()

	cat, err := catalog.Open(cfg.Catalog.StreamersPath, cfg.Catalog.RoomsPath, logger,
		catalog.WithPromptBase(cfg.Catalog.PromptBasePath))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()
	if cfg.Catalog.Watch {
		if err := cat.Watch(ctx); err != nil {
			logger.Warn("catalog hot reload disabled", slog.String("error", err.Error()))
		}
	}

	layout := artifact.Layout{TTSDir: cfg.Artifacts.TTSDir, VideoDir: cfg.Artifacts.VideoDir}
	for _, dir := range []string{layout.TTSDir, layout.VideoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}

	prompts, err := prompt.NewExecutorFromConfig(cfg.Prompt, logger)
	if err != nil {
		return fmt.Errorf("prompt stages: %w", err)
	}

	orch := pipeline.New(newTokenSource(cfg.LLM), bridge, pipeline.Config{
		Layout: layout,
		Segmenter: segmenter.Config{
			Symbols:  cfg.Segmenter.Symbols,
			MinChars: cfg.Segmenter.MinChars,
		},
		Features: pipeline.Features{
			Agent:        cfg.Plugins.Agent,
			RAG:          cfg.Plugins.RAG,
			TTS:          cfg.Plugins.TTS,
			DigitalHuman: cfg.Plugins.DigitalHuman,
		},
		PollInterval: cfg.Artifacts.PollInterval,
		AudioTimeout: cfg.Artifacts.AudioTimeout,
		VideoTimeout: cfg.Artifacts.VideoTimeout,
		EventDelay:   cfg.Artifacts.EventDelay,
	},
		pipeline.WithPromptExecutor(prompts),
		pipeline.WithJournal(store),
		pipeline.WithTokenCounter(tokens.New(cfg.LLM.TokenEncoding, logger)),
		pipeline.WithLogger(logger),
	)

	srv := server.New(cfg.Server, logger)
	api.New(api.Config{
		Chat:           orch,
		Catalog:        cat,
		Store:          store,
		Logger:         logger,
		RequestTimeout: srv.RequestTimeout,
	}).Routes(srv.Router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if cfg.Queue.Driver == "memory" || cfg.Queue.LocalWorkers {
		logger.Info("running local speech and render workers",
			slog.String("queue", cfg.Queue.Driver),
			slog.Int("parallel", cfg.Queue.Parallel))
		for _, p := range localWorkers(bridge, layout, cfg.Queue.Parallel, logger) {
			g.Go(func() error { return p.Run(gctx) })
		}
	}

	logger.Info("sales gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("tts", cfg.Plugins.TTS),
		slog.Bool("digital_human", cfg.Plugins.DigitalHuman))

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	var store storage.Store
	switch cfg.Type {
	case "memory":
		store = memstore.New()
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		s, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		store = s
	}

	if u := cfg.DefaultUser; u.Username != "" {
		created, err := store.EnsureUser(ctx, &storage.User{
			ID:        u.ID,
			Username:  u.Username,
			Email:     u.Email,
			Avatar:    u.Avatar,
			IPAddress: u.IPAddress,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed default user: %w", err)
		}
		if created {
			logger.Info("created default user", slog.Int64("user_id", u.ID), slog.String("username", u.Username))
		}
	}
	return store, nil
}

func openBridge(ctx context.Context, cfg config.QueueConfig) (queue.Bridge, error) {
	if cfg.Driver != "redis" {
		return memory.New(), nil
	}
	b, err := redisqueue.New(redisqueue.Config{
		URL:     cfg.Redis.URL,
		Prefix:  cfg.Redis.Prefix,
		Timeout: cfg.Redis.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open redis queue: %w", err)
	}
	if err := b.Ping(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return b, nil
}

func newTokenSource(cfg config.LLMConfig) llm.TokenSource {
	opts := []llm.ClientOption{
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if cfg.Model != "" {
		opts = append(opts, llm.WithModel(cfg.Model))
	}
	if cfg.TildeAsPeriod {
		opts = append(opts, llm.WithTildeAsPeriod())
	}
	return llm.NewClient(cfg.APIKey, opts...)
}

func localWorkers(bridge queue.Bridge, layout artifact.Layout, parallel int, logger *slog.Logger) []*worker.Pool {
	return []*worker.Pool{
		worker.NewPool(bridge, worker.Config{Queue: queue.TTS, Parallel: parallel},
			worker.SilentSpeech{Layout: layout}, logger),
		worker.NewPool(bridge, worker.Config{Queue: queue.DigitalHuman, Parallel: parallel},
			worker.MarkerRenderer{Layout: layout}, logger),
	}
}
