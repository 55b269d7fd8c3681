// Package config provides configuration loading for shelve.
//
// Configuration is read from an optional YAML file and overridden by
// SHELVE_-prefixed environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store backends.
const (
	BackendChromem = "chromem"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Embedding providers.
const (
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
	ProviderOpenAI    = "openai"
)

// ErrInvalidConfig is returned by Validate for any rejected setting.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete shelve configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Tree          TreeConfig          `koanf:"tree"`
	Store         StoreConfig         `koanf:"store"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Sync          SyncConfig          `koanf:"sync"`
	Placement     PlacementConfig     `koanf:"placement"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	Host            string   `koanf:"http_host"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// StartupSyncDelay delays the first reconciliation after start.
	StartupSyncDelay   Duration `koanf:"startup_sync_delay"`
	DisableStartupSync bool     `koanf:"disable_startup_sync"`
}

// TreeConfig points at the bookmarks file backing the item tree.
type TreeConfig struct {
	Path          string   `koanf:"path"`
	Watch         bool     `koanf:"watch"`
	WatchDebounce Duration `koanf:"watch_debounce"`
}

// StoreConfig selects and configures the embedding record backend.
type StoreConfig struct {
	Backend       string `koanf:"backend"`
	Path          string `koanf:"path"`
	Collection    string `koanf:"collection"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword Secret `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
}

// EmbeddingsConfig configures the embedding model.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
	// MinContentChars is the non-whitespace character count below which a
	// text is never sent to the model.
	MinContentChars int `koanf:"min_content_chars"`
}

// SyncConfig controls reconciliation and content acquisition.
type SyncConfig struct {
	Concurrency       int      `koanf:"concurrency"`
	ContentTimeout    Duration `koanf:"content_timeout"`
	FetchTimeout      Duration `koanf:"fetch_timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	MaxContentBytes   int64    `koanf:"max_content_bytes"`
	UserAgent         string   `koanf:"user_agent"`
}

// PlacementConfig controls destination ranking.
type PlacementConfig struct {
	ExcludedRoots []string `koanf:"excluded_roots"`
	LogTopN       int      `koanf:"log_top_n"`
}

// EventsConfig configures the NATS item-event subscriber.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
	TLSSkipVerify   bool   `koanf:"tls_skip_verify"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// DefaultExcludedRoots are the host's built-in root containers. Their titles
// never contribute to a container path.
var DefaultExcludedRoots = []string{
	"root________",
	"menu________",
	"toolbar_____",
	"unfiled_____",
	"mobile______",
	"tags________",
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.StartupSyncDelay == 0 {
		cfg.Server.StartupSyncDelay = Duration(10 * time.Second)
	}

	if cfg.Tree.Path == "" {
		cfg.Tree.Path = "~/.config/shelve/bookmarks.json"
	}
	if cfg.Tree.WatchDebounce == 0 {
		cfg.Tree.WatchDebounce = Duration(2 * time.Second)
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendChromem
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case BackendSQLite:
			cfg.Store.Path = "~/.config/shelve/embeddings.db"
		default:
			cfg.Store.Path = "~/.config/shelve/vectorstore"
		}
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "shelve_embeddings"
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = "localhost:6379"
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "shelve:"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = ProviderFastEmbed
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.Provider == ProviderTEI {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/shelve/models"
	}
	if cfg.Embeddings.MinContentChars == 0 {
		cfg.Embeddings.MinContentChars = 3
	}

	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 3
	}
	if cfg.Sync.ContentTimeout == 0 {
		cfg.Sync.ContentTimeout = Duration(5 * time.Second)
	}
	if cfg.Sync.FetchTimeout == 0 {
		cfg.Sync.FetchTimeout = Duration(30 * time.Second)
	}
	if cfg.Sync.RequestsPerSecond == 0 {
		cfg.Sync.RequestsPerSecond = 5
	}
	if cfg.Sync.MaxContentBytes == 0 {
		cfg.Sync.MaxContentBytes = 2 << 20
	}
	if cfg.Sync.UserAgent == "" {
		cfg.Sync.UserAgent = "shelve/1.0 (+bookmark organizer)"
	}

	if len(cfg.Placement.ExcludedRoots) == 0 {
		cfg.Placement.ExcludedRoots = append([]string(nil), DefaultExcludedRoots...)
	}
	if cfg.Placement.LogTopN == 0 {
		cfg.Placement.LogTopN = 30
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "shelve.items"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "shelve"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be in 1..65535, got %d", c.Server.Port))
	}

	switch c.Store.Backend {
	case BackendChromem, BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q not supported", c.Store.Backend))
	}

	switch c.Embeddings.Provider {
	case ProviderFastEmbed:
	case ProviderTEI:
		if c.Embeddings.BaseURL == "" {
			errs = append(errs, errors.New("embeddings.base_url is required for the tei provider"))
		}
	case ProviderOpenAI:
		if !c.Embeddings.APIKey.IsSet() && c.Embeddings.BaseURL == "" {
			errs = append(errs, errors.New("embeddings.api_key or embeddings.base_url is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider %q not supported", c.Embeddings.Provider))
	}
	if c.Embeddings.MinContentChars < 1 {
		errs = append(errs, fmt.Errorf("embeddings.min_content_chars must be >= 1, got %d", c.Embeddings.MinContentChars))
	}

	if c.Sync.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be >= 1, got %d", c.Sync.Concurrency))
	}
	if c.Sync.ContentTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("sync.content_timeout must be positive"))
	}
	if c.Sync.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("sync.requests_per_second cannot be negative"))
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		errs = append(errs, errors.New("events.nats_url is required when events are enabled"))
	}

	switch c.Observability.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("observability.protocol %q not supported", c.Observability.Protocol))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
