package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kalambet/tabchat/internal/agent"
	"github.com/kalambet/tabchat/internal/config"
	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/ingest"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/retrieval"
	"github.com/kalambet/tabchat/internal/search"
	"github.com/kalambet/tabchat/internal/sqldb"
	"github.com/kalambet/tabchat/internal/storage"
	"github.com/kalambet/tabchat/internal/tools"
)

// app holds the components shared by the server and the local commands.
type app struct {
	cfg       config.Config
	store     *storage.Store
	engine    engine.Engine
	embedder  *retrieval.Embedder
	vectors   *retrieval.SQLiteStore
	retriever *retrieval.Retriever
	registry  *tools.Registry
	memory    memory.Store
	threads   memory.Lister
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newApp opens storage and builds every component from cfg. The caller
// must call close.
func newApp(cfg config.Config) (*app, error) {
	eng, err := engine.New(engine.Options{
		Backend: cfg.Engine.Backend,
		BaseURL: cfg.Engine.BaseURL,
		APIKey:  cfg.Engine.APIKey,
		Timeout: config.Duration("engine.timeout", cfg.Engine.Timeout, 60*time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("creating inference engine: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &app{cfg: cfg, store: store, engine: eng}
	a.embedder = retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel, cfg.Ingest.EmbedConcurrency)
	a.vectors = retrieval.NewSQLiteStore(store.DB())
	a.retriever = retrieval.NewRetriever(a.embedder, a.vectors)

	switch strings.ToLower(cfg.Memory.Backend) {
	case "sqlite":
		s := memory.NewSQLiteStore(store)
		a.memory, a.threads = s, s
	default:
		s, err := memory.NewFileStore(cfg.MemoryDir())
		if err != nil {
			store.Close()
			return nil, err
		}
		a.memory, a.threads = s, s
	}

	a.registry = tools.NewRegistry(config.Duration("agent.tool_timeout", cfg.Agent.ToolTimeout, 30*time.Second))
	registrations := []tools.Tool{
		tools.NewSQLTool(tools.SQLOptions{
			DataDir:        cfg.Storage.DataDir,
			DefaultProfile: cfg.Relational.DefaultProfile,
			MaxRows:        cfg.Relational.MaxRows,
			Writer:         tools.NewLLMQueryWriter(eng, cfg.Engine.ChatModel),
			Answerer:       tools.NewLLMAnswerer(eng, cfg.Engine.ChatModel, 0),
		}),
		tools.NewVectorTool(a.retriever, cfg.Vector.Collection, cfg.Retrieval.TopK),
		tools.NewWebTool(search.New(search.Options{
			APIKey:     cfg.Search.TavilyAPIKey,
			BaseURL:    cfg.Search.BaseURL,
			MaxResults: cfg.Search.MaxResults,
			Timeout:    config.Duration("search.timeout", cfg.Search.Timeout, 15*time.Second),
		})),
	}
	for _, t := range registrations {
		if err := a.registry.Register(t); err != nil {
			store.Close()
			return nil, err
		}
	}
	return a, nil
}

// orchestrator builds a conversation orchestrator. A nil planner routes
// through the model.
func (a *app) orchestrator(planner agent.Planner) *agent.Orchestrator {
	if planner == nil {
		planner = agent.NewLLMPlanner(a.engine, a.cfg.Engine.ChatModel, a.registry.Specs(), a.cfg.Agent.MaxToolCalls).
			WithProfiles(func() ([]string, error) { return sqldb.Profiles(a.cfg.Storage.DataDir) })
	}
	synth := agent.NewLLMSynthesizer(a.engine, a.cfg.Engine.ChatModel, a.cfg.Agent.SystemPrompt, 0)
	return agent.New(planner, synth, a.registry, a.memory, a.cfg.Agent.ThreadID)
}

func (a *app) sqlPipeline() *ingest.SQLPipeline {
	return ingest.NewSQLPipeline(a.cfg.Storage.DataDir, a.cfg.Ingest.ParseConcurrency)
}

func (a *app) vectorPipeline() *ingest.VectorPipeline {
	return ingest.NewVectorPipeline(a.embedder, a.vectors)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
