package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dept-delivery/finsheet/internal/chat"
	"github.com/dept-delivery/finsheet/internal/config"
	"github.com/dept-delivery/finsheet/internal/index"
	"github.com/dept-delivery/finsheet/internal/ingest"
	"github.com/dept-delivery/finsheet/internal/normalize"
	"github.com/dept-delivery/finsheet/internal/store"
)

// appEnv bundles the wired components a subcommand needs.
type appEnv struct {
	Store        store.Store
	Index        index.Indexer
	Orchestrator *ingest.Orchestrator
}

func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initEnv validates config for the given mode and wires the store, the
// content index, and the ingestion orchestrator.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var idx index.Indexer
	if cfg.Index.BaseURL != "" {
		idx = index.NewHTTPIndexer(cfg.Index.BaseURL, cfg.Index.Key,
			index.WithRateLimit(cfg.Index.RatePerSecond))
		zap.L().Info("content index enabled", zap.String("base_url", cfg.Index.BaseURL))
	} else {
		idx = index.NewMemory()
		zap.L().Debug("FINSHEET_INDEX_BASE_URL not set, using in-process keyword index")
	}

	aliases, err := loadAliases()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orch := ingest.New(st, idx, normalize.New(aliases), ingest.Options{
		Concurrency:  cfg.Ingest.Concurrency,
		SheetTimeout: time.Duration(cfg.Ingest.SheetTimeoutSecs) * time.Second,
	})

	return &appEnv{Store: st, Index: idx, Orchestrator: orch}, nil
}

func loadAliases() (normalize.AliasTable, error) {
	if cfg.Ingest.AliasesPath == "" {
		return nil, nil
	}
	aliases, err := normalize.LoadAliases(cfg.Ingest.AliasesPath)
	if err != nil {
		return nil, eris.Wrapf(err, "load aliases %s", cfg.Ingest.AliasesPath)
	}
	return aliases, nil
}

// newAdvisor wires the scoped chat advisor on top of an existing env.
func newAdvisor(env *appEnv) *chat.Advisor {
	client := chat.NewClient(cfg.Anthropic.Key)
	return chat.NewAdvisor(env.Store, env.Index, client, cfg.Anthropic.Model)
}
