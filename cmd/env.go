package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/engine"
	"github.com/sells-group/docflow/internal/fetcher"
	"github.com/sells-group/docflow/internal/gateway"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/store"
	anthropicpkg "github.com/sells-group/docflow/pkg/anthropic"
)

// appEnv holds the wired service graph shared by the serve, run, and
// profiles commands.
type appEnv struct {
	Store   store.ObjectStore
	Catalog *catalog.Catalog
	Engine  *engine.Engine
}

// initStore opens the configured object store backend.
func initStore(ctx context.Context) (store.ObjectStore, error) {
	switch cfg.Store.Backend {
	case "fs":
		return store.NewFS(cfg.Store.Dir)
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = filepath.Join(cfg.Store.Dir, "docflow.db")
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// initEnv sets up the store, profile catalog, file normalizer, model
// gateway, and extraction engine from the loaded config.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	// Earlier sources win: configured dirs, then built-ins, then the
	// object store.
	var sources []catalog.Source
	for i, path := range cfg.Catalog.Paths {
		sources = append(sources, catalog.NewFSSource(fmt.Sprintf("fs:%d", i), expandHome(path)))
	}
	sources = append(sources, catalog.NewBuiltinSource())
	if cfg.Catalog.ObjectPrefix != "" {
		sources = append(sources, catalog.NewObjectSource("store", st, cfg.Catalog.ObjectPrefix))
	}
	cat := catalog.New(sources, time.Duration(cfg.Catalog.TTLSecs)*time.Second)

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
	})
	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
	})
	fetchOpts := fetcher.Options{MaxFileBytes: cfg.Fetch.MaxFileBytes}
	if !cfg.Provider.Stub {
		// The real backend cannot attach everything in the general
		// allow-list; gate those files at normalization time.
		fetchOpts.Attachable = fetcher.AnthropicMIMEAllowed
	}
	norm := fetcher.NewNormalizer(httpFetcher, ftpFetcher, st, fetchOpts)

	var gw gateway.Gateway
	if cfg.Provider.Stub {
		zap.L().Warn("provider stub enabled, model calls return schema skeletons")
		gw = gateway.NewStub()
	} else {
		gw = gateway.NewAnthropic(anthropicpkg.NewClient(cfg.Provider.Key), gateway.AnthropicOptions{
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			MaxOutputTokens:   cfg.Provider.MaxOutputTokens,
			Retry: resilience.FromRetryConfig(
				cfg.Provider.RetryMaxAttempts,
				cfg.Provider.RetryInitialBackoffMs,
				cfg.Provider.RetryMaxBackoffMs,
				0, -1,
			),
			Breaker: resilience.FromCircuitConfig(
				cfg.Provider.BreakerFailureThreshold,
				cfg.Provider.BreakerResetTimeoutSecs,
			),
		})
	}

	eng := engine.New(cat, gw, norm, engine.Options{
		DefaultWorkers:        cfg.Extract.DefaultWorkers,
		MaxWorkers:            cfg.Extract.MaxWorkers,
		MaxFiles:              cfg.Extract.MaxFiles,
		DefaultRepairAttempts: cfg.Extract.RepairAttempts,
		DefaultModel:          cfg.Provider.Model,
		RequestTimeout:        time.Duration(cfg.Extract.RequestTimeoutSecs) * time.Second,
		ConformanceRepair:     cfg.Extract.ConformanceRepair,
	})

	return &appEnv{Store: st, Catalog: cat, Engine: eng}, nil
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Close releases the environment's resources.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close", zap.Error(err))
	}
}
