package main

import (
	"fmt"
	"path/filepath"

	"github.com/akshay-eng/ITSM-agent/internal/config"
	"github.com/akshay-eng/ITSM-agent/internal/confirm"
	"github.com/akshay-eng/ITSM-agent/internal/embedding"
	"github.com/akshay-eng/ITSM-agent/internal/execution"
	"github.com/akshay-eng/ITSM-agent/internal/extract"
	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/merge"
	"github.com/akshay-eng/ITSM-agent/internal/retrieval"
	"github.com/akshay-eng/ITSM-agent/internal/router"
	"github.com/akshay-eng/ITSM-agent/internal/session"
	"github.com/akshay-eng/ITSM-agent/internal/snow"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// agent bundles everything a front end (HTTP server or interactive chat)
// needs to run conversations.
type agent struct {
	cfg      *config.Config
	registry *ticket.Registry
	router   *router.Router
	sessions *session.Store
	history  *retrieval.HistoryStore // nil when retrieval is disabled
}

// buildAgent loads configuration and wires the conversation pipeline.
// Missing optional backends (embeddings, ServiceNow credentials) degrade the
// agent rather than failing the build.
func buildAgent(workspace string) (*agent, error) {
	cfg, err := config.Load(config.Path(workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := ticket.NewRegistry()
	if cfg.SchemaPath != "" {
		if err := registry.LoadInto(resolvePath(workspace, cfg.SchemaPath)); err != nil {
			return nil, fmt.Errorf("failed to load schema overrides: %w", err)
		}
		logging.Boot("Loaded schema overrides from %s", cfg.SchemaPath)
	}

	extractor, err := extract.NewPatternExtractor(registry)
	if err != nil {
		return nil, err
	}

	// Retrieval is best effort: without an embedding backend, drafts fall
	// back to schema defaults and say so.
	var gateway retrieval.Gateway
	var history *retrieval.HistoryStore
	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logging.Boot("Embedding engine unavailable, continuing without retrieval: %v", err)
	} else {
		history, err = retrieval.NewHistoryStore(resolvePath(workspace, cfg.Retrieval.DatabasePath), engine)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		cache := retrieval.NewResultCache(256, cfg.RetrievalCacheTTL())
		gateway = retrieval.NewCachedGateway(history, cache)
	}

	var dispatcher *execution.Dispatcher
	if cfg.Snow.InstanceURL != "" {
		client, err := snow.NewClient(cfg.Snow)
		if err != nil {
			return nil, err
		}
		dispatcher = execution.NewDispatcher(client)
	} else {
		logging.Boot("No ServiceNow instance configured; running draft-only")
	}

	sessions := session.NewStore(session.Config{HistoryLimit: cfg.Session.HistoryLimit})

	rt, err := router.New(router.Config{
		Registry:   registry,
		Extractor:  extractor,
		Merger:     merge.NewMerger(registry),
		Confirmer:  confirm.NewParser(registry),
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		TopK:       cfg.Retrieval.TopK,
	})
	if err != nil {
		return nil, err
	}

	return &agent{
		cfg:      cfg,
		registry: registry,
		router:   rt,
		sessions: sessions,
		history:  history,
	}, nil
}

// Close releases backend handles.
func (a *agent) Close() {
	if a.history != nil {
		_ = a.history.Close()
	}
}

func resolvePath(workspace, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
