package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

// keySpec declares one setting: its dotted key, value type, environment
// override and how it maps onto Config. Secrets are never read from or
// written to the config file.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TABCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "engine.backend", typ: kString, env: "TABCHAT_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "engine.base_url", typ: kString, env: "TABCHAT_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.chat_model", typ: kString, env: "TABCHAT_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "TABCHAT_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.api_key", typ: kString, env: "TABCHAT_ENGINE_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "engine.timeout", typ: kString, env: "TABCHAT_ENGINE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TABCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "memory.backend", typ: kString, env: "TABCHAT_MEMORY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Memory.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.Backend },
	},
	{
		key: "memory.dir", typ: kString, env: "TABCHAT_MEMORY_DIR",
		apply:   func(cfg *Config, v any) { cfg.Memory.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.Dir },
	},
	{
		key: "relational.default_profile", typ: kString, env: "TABCHAT_RELATIONAL_DEFAULT_PROFILE",
		apply:   func(cfg *Config, v any) { cfg.Relational.DefaultProfile = v.(string) },
		extract: func(cfg Config) any { return cfg.Relational.DefaultProfile },
	},
	{
		key: "relational.write_mode", typ: kString, env: "TABCHAT_RELATIONAL_WRITE_MODE",
		apply:   func(cfg *Config, v any) { cfg.Relational.WriteMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Relational.WriteMode },
	},
	{
		key: "relational.max_rows", typ: kInt, env: "TABCHAT_RELATIONAL_MAX_ROWS",
		apply:   func(cfg *Config, v any) { cfg.Relational.MaxRows = v.(int) },
		extract: func(cfg Config) any { return cfg.Relational.MaxRows },
	},
	{
		key: "vector.collection", typ: kString, env: "TABCHAT_VECTOR_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Vector.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Collection },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "TABCHAT_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "search.tavily_api_key", typ: kString, env: "TABCHAT_SEARCH_TAVILY_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Search.TavilyAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.TavilyAPIKey },
	},
	{
		key: "search.base_url", typ: kString, env: "TABCHAT_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.max_results", typ: kInt, env: "TABCHAT_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
	{
		key: "search.timeout", typ: kString, env: "TABCHAT_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "agent.thread_id", typ: kString, env: "TABCHAT_AGENT_THREAD_ID",
		apply:   func(cfg *Config, v any) { cfg.Agent.ThreadID = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.ThreadID },
	},
	{
		key: "agent.max_tool_calls", typ: kInt, env: "TABCHAT_AGENT_MAX_TOOL_CALLS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxToolCalls = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxToolCalls },
	},
	{
		key: "agent.tool_timeout", typ: kString, env: "TABCHAT_AGENT_TOOL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.ToolTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.ToolTimeout },
	},
	{
		key: "agent.system_prompt", typ: kString, env: "TABCHAT_AGENT_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Agent.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.SystemPrompt },
	},
	{
		key: "ingest.embed_concurrency", typ: kInt, env: "TABCHAT_INGEST_EMBED_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.EmbedConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.EmbedConcurrency },
	},
	{
		key: "ingest.parse_concurrency", typ: kInt, env: "TABCHAT_INGEST_PARSE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ParseConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ParseConcurrency },
	},
	{
		key: "log.level", typ: kString, env: "TABCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "api.token", typ: kString, env: "TABCHAT_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
