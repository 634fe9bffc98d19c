package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. SALES_SERVER__PORT=9000.
const EnvPrefix = "SALES_"

// DefaultPath is read when SALES_CONFIG is unset.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Plugins   PluginsConfig   `koanf:"plugins"`
	Prompt    PromptConfig    `koanf:"prompt"`
	Segmenter SegmenterConfig `koanf:"segmenter"`
	Queue     QueueConfig     `koanf:"queue"`
	Artifacts ArtifactsConfig `koanf:"artifacts"`
	Storage   StorageConfig   `koanf:"storage"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout bounds non-streaming handlers. The chat stream is
	// bounded by the artifact timeouts instead.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LLMConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	// Model is optional; the first model the endpoint lists is used otherwise.
	Model         string `koanf:"model"`
	TildeAsPeriod bool   `koanf:"tilde_as_period"`
	// TokenEncoding names the tiktoken encoding used to count completion
	// tokens. Unknown encodings fall back to an estimate.
	TokenEncoding string `koanf:"token_encoding"`
}

// PluginsConfig holds server-side enablement. A plugin runs only when both
// the server and the request enable it.
type PluginsConfig struct {
	Agent        bool `koanf:"agent"`
	RAG          bool `koanf:"rag"`
	TTS          bool `koanf:"tts"`
	DigitalHuman bool `koanf:"digital_human"`
}

type PromptConfig struct {
	Stages []PromptStageConfig `koanf:"stages"`
}

// PromptStageConfig configures one webhook-backed prompt stage.
type PromptStageConfig struct {
	Name     string            `koanf:"name"` // agent or rag
	URL      string            `koanf:"url"`
	Order    int               `koanf:"order"`
	Timeout  string            `koanf:"timeout"`  // Duration string like "10s"
	OnError  string            `koanf:"on_error"` // allow (default) or deny
	Retries  int               `koanf:"retries"`
	Template string            `koanf:"template"` // {info} and {query} placeholders
	Headers  map[string]string `koanf:"headers"`
}

type SegmenterConfig struct {
	Symbols  []string `koanf:"symbols"`
	MinChars int      `koanf:"min_chars"`
}

type QueueConfig struct {
	Driver string      `koanf:"driver"` // memory, redis
	Redis  RedisConfig `koanf:"redis"`
	// LocalWorkers runs the stand-in speech and render workers in process.
	// The memory driver always runs them, since nothing else can reach it.
	LocalWorkers bool `koanf:"local_workers"`
	// Parallel bounds concurrent jobs per local worker pool.
	Parallel int `koanf:"parallel"`
}

type RedisConfig struct {
	URL     string        `koanf:"url"`
	Prefix  string        `koanf:"prefix"`
	Timeout time.Duration `koanf:"timeout"`
}

type ArtifactsConfig struct {
	TTSDir       string        `koanf:"tts_dir"`
	VideoDir     string        `koanf:"video_dir"`
	PollInterval time.Duration `koanf:"poll_interval"`
	AudioTimeout time.Duration `koanf:"audio_timeout"`
	VideoTimeout time.Duration `koanf:"video_timeout"`
	EventDelay   time.Duration `koanf:"event_delay"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// DefaultUser is created at startup when no user with its id exists.
	// An empty username disables seeding.
	DefaultUser DefaultUserConfig `koanf:"default_user"`
}

type DefaultUserConfig struct {
	ID        int64  `koanf:"id"`
	Username  string `koanf:"username"`
	Email     string `koanf:"email"`
	Avatar    string `koanf:"avatar"`
	IPAddress string `koanf:"ip_address"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type CatalogConfig struct {
	StreamersPath  string `koanf:"streamers_path"`
	RoomsPath      string `koanf:"rooms_path"`
	PromptBasePath string `koanf:"prompt_base_path"`
	Watch          bool   `koanf:"watch"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":                     8000,
	"server.request_timeout":          30 * time.Second,
	"llm.base_url":                    "http://127.0.0.1:23333/v1",
	"llm.tilde_as_period":             true,
	"llm.token_encoding":              "cl100k_base",
	"plugins.agent":                   true,
	"plugins.rag":                     true,
	"plugins.tts":                     true,
	"plugins.digital_human":           true,
	"segmenter.min_chars":             3,
	"queue.driver":                    "memory",
	"queue.redis.prefix":              "streamer-sales",
	"queue.redis.timeout":             5 * time.Second,
	"queue.parallel":                  2,
	"artifacts.tts_dir":               "work_dirs/tts_wavs",
	"artifacts.video_dir":             "work_dirs/digital_human",
	"artifacts.poll_interval":         time.Second,
	"artifacts.audio_timeout":         5 * time.Minute,
	"artifacts.video_timeout":         10 * time.Minute,
	"artifacts.event_delay":           10 * time.Millisecond,
	"storage.type":                    "sqlite",
	"storage.sqlite.path":             "work_dirs/sales.db",
	"storage.default_user.id":         1,
	"storage.default_user.username":   "admin",
	"storage.default_user.ip_address": "127.0.0.1",
	"catalog.streamers_path":          "configs/streamer_info.yaml",
	"catalog.rooms_path":              "configs/streaming_room_cfg.yaml",
	"catalog.prompt_base_path":        "configs/conversation_cfg.yaml",
	"catalog.watch":                   true,
	"telemetry.service_name":          "sales-gateway",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the file named by SALES_CONFIG (or config.yaml), then applies
// SALES_* environment overrides and defaults.
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)
	cfg.Queue.Redis.URL = substituteEnvVars(cfg.Queue.Redis.URL)
	for i := range cfg.Prompt.Stages {
		for h, v := range cfg.Prompt.Stages[i].Headers {
			cfg.Prompt.Stages[i].Headers[h] = substituteEnvVars(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.URL == "" {
			return errors.New("queue.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}

	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	for _, s := range c.Prompt.Stages {
		if s.Name != "agent" && s.Name != "rag" {
			return fmt.Errorf("prompt stage %q: name must be agent or rag", s.Name)
		}
		if s.URL == "" {
			return fmt.Errorf("prompt stage %s: url is required", s.Name)
		}
	}

	if c.Plugins.DigitalHuman && !c.Plugins.TTS {
		return errors.New("plugins.digital_human requires plugins.tts")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
