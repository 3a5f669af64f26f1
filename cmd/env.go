package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/cache"
	"github.com/sells-group/knowledge-cli/internal/pipeline"
	"github.com/sells-group/knowledge-cli/internal/store"
	"github.com/sells-group/knowledge-cli/pkg/reasoner"
)

// pipelineEnv holds the initialized store, cache, and pipeline shared by
// the ingest/resume/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Cache    *cache.ResponseCache
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured session store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initCache opens the reasoner response cache.
func initCache() (*cache.ResponseCache, error) {
	if cfg.Cache.InMemory {
		return cache.New(cache.NewMemory()), nil
	}
	bs, err := cache.NewBadger(cfg.Cache.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return cache.New(bs), nil
}

// initPipeline sets up the store, cache, reasoner client and pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	c, err := initCache()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	r := reasoner.NewClient(reasoner.Config{
		APIKey:         cfg.Reasoner.Key,
		Model:          cfg.Reasoner.Model,
		MaxTokens:      int64(cfg.Reasoner.MaxTokens),
		RequestsPerSec: cfg.Reasoner.RequestsPerSec,
		Burst:          cfg.Reasoner.Burst,
	})

	zap.L().Debug("pipeline environment ready",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("model", cfg.Reasoner.Model),
	)

	return &pipelineEnv{
		Store:    st,
		Cache:    c,
		Pipeline: pipeline.New(cfg, st, c, r),
	}, nil
}
