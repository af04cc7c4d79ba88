// Package config loads tabchat settings: defaults, then the JSON config file,
// then TABCHAT_* environment variables. Secrets are read from the
// environment only.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Storage    StorageConfig
	Memory     MemoryConfig
	Relational RelationalConfig
	Vector     VectorConfig
	Retrieval  RetrievalConfig
	Search     SearchConfig
	Agent      AgentConfig
	Ingest     IngestConfig
	Log        LogConfig
	API        APIConfig
}

type ServerConfig struct {
	Port int
}

type EngineConfig struct {
	Backend    string
	BaseURL    string
	ChatModel  string
	EmbedModel string
	APIKey     string
	Timeout    string
}

type StorageConfig struct {
	DataDir string
}

type MemoryConfig struct {
	Backend string
	// Dir defaults to <data_dir>/memory when empty.
	Dir string
}

type RelationalConfig struct {
	DefaultProfile string
	WriteMode      string
	MaxRows        int
}

type VectorConfig struct {
	Collection string
}

type RetrievalConfig struct {
	TopK int
}

type SearchConfig struct {
	TavilyAPIKey string
	BaseURL      string
	MaxResults   int
	Timeout      string
}

type AgentConfig struct {
	ThreadID     string
	MaxToolCalls int
	ToolTimeout  string
	SystemPrompt string
}

type IngestConfig struct {
	EmbedConcurrency int
	ParseConcurrency int
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4000},
		Engine: EngineConfig{
			Backend:    "ollama",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
			Timeout:    "60s",
		},
		Storage:    StorageConfig{DataDir: defaultDataDir()},
		Memory:     MemoryConfig{Backend: "file"},
		Relational: RelationalConfig{DefaultProfile: "stored", WriteMode: "fail", MaxRows: 100},
		Vector:     VectorConfig{Collection: "tabular"},
		Retrieval:  RetrievalConfig{TopK: 2},
		Search: SearchConfig{
			BaseURL:    "https://api.tavily.com",
			MaxResults: 2,
			Timeout:    "15s",
		},
		Agent: AgentConfig{
			ThreadID:     "default",
			MaxToolCalls: 3,
			ToolTimeout:  "30s",
		},
		Ingest: IngestConfig{EmbedConcurrency: 4, ParseConcurrency: 4},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads configuration from the config file at FilePath() and
// environment variables (TABCHAT_*), which override file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	oneOf := func(key, v string, allowed ...string) error {
		for _, a := range allowed {
			if strings.EqualFold(v, a) {
				return nil
			}
		}
		return fmt.Errorf("invalid config %s=%q: must be one of %s", key, v, strings.Join(allowed, ", "))
	}
	if err := oneOf("engine.backend", c.Engine.Backend, "ollama", "openai"); err != nil {
		return err
	}
	if err := oneOf("memory.backend", c.Memory.Backend, "file", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("relational.write_mode", c.Relational.WriteMode, "fail", "replace"); err != nil {
		return err
	}
	if err := oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("missing required config: storage.data_dir")
	}
	return nil
}

// MemoryDir returns the directory of the file memory backend.
func (c Config) MemoryDir() string {
	if c.Memory.Dir != "" {
		return c.Memory.Dir
	}
	return filepath.Join(c.Storage.DataDir, "memory")
}

// SlogLevel maps log.level to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration parses a duration setting. An empty or invalid value logs a
// warning and yields fallback.
func Duration(key, raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		slog.Warn("invalid duration in config, using default", "key", key, "value", raw, "default", fallback, "error", err)
		return fallback
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "tabchat-data"
		}
	}
	return filepath.Join(dir, "tabchat")
}
