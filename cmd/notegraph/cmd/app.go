package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/notegraph/internal/config"
	"github.com/Aman-CERP/notegraph/internal/engine"
	"github.com/Aman-CERP/notegraph/internal/graph"
	"github.com/Aman-CERP/notegraph/internal/lock"
	"github.com/Aman-CERP/notegraph/internal/page"
	"github.com/Aman-CERP/notegraph/internal/render"
	"github.com/Aman-CERP/notegraph/internal/telemetry"
	"github.com/Aman-CERP/notegraph/internal/ui"
)

// app is an opened data directory: config, lock, stores and engine.
type app struct {
	cfg       *config.Config
	dataDir   string
	lock      *lock.DataDirLock
	cache     *page.CachedStore
	telemetry *telemetry.SQLiteStore
	engine    *engine.Engine
	logger    *slog.Logger
}

// openOptions tunes openApp for a command.
type openOptions struct {
	// progress receives rebuild progress while existing pages are indexed.
	progress ui.Renderer
}

// loadConfig resolves configuration from --config or the working directory.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(wd)
}

// openApp loads config, locks the data directory, opens the page store and
// rebuilds the in-memory indices from it.
func (g *globalOptions) openApp(ctx context.Context, opts openOptions) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, dataDir: g.dataDir, logger: slog.Default()}

	memory := g.memory || cfg.Store.Backend == config.BackendMemory
	var store page.Store
	if memory {
		store = page.NewMemoryStore()
	} else {
		a.lock = lock.New(g.dataDir)
		if err := a.lock.Acquire(); err != nil {
			return nil, err
		}
		sqlite, err := page.NewSQLiteStore(cfg.StorePath(g.dataDir))
		if err != nil {
			_ = a.lock.Release()
			return nil, err
		}
		store = sqlite
	}
	a.cache = page.NewCachedStore(store, cfg.Store.CacheSize)

	engOpts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithRenderer(newRenderer(cfg)),
	}
	if !cfg.Telemetry.Disabled {
		metrics, err := a.openTelemetry(memory)
		if err != nil {
			a.logger.Warn("telemetry_disabled", slog.String("error", err.Error()))
		} else {
			engOpts = append(engOpts, engine.WithMetrics(metrics))
		}
	}

	eng, err := engine.New(a.cache, engineConfig(cfg), engOpts...)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.engine = eng

	progress := engine.ProgressFunc(nil)
	if opts.progress != nil {
		progress = ui.ProgressFunc(opts.progress, ui.StageIndexing)
	}
	stats, err := eng.Rebuild(ctx, progress)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.logger.Debug("indices_rebuilt",
		slog.Int("pages", stats.Pages),
		slog.Int("degraded", stats.Degraded),
		slog.Duration("duration", stats.Duration))
	return a, nil
}

func (a *app) openTelemetry(memory bool) (*telemetry.QueryMetrics, error) {
	cfg := telemetry.DefaultConfig()
	cfg.TopTerms = a.cfg.Telemetry.MaxQueries
	if memory {
		return telemetry.NewQueryMetrics(nil, cfg), nil
	}
	store, err := telemetry.OpenSQLiteStore(filepath.Join(a.dataDir, "telemetry.db"))
	if err != nil {
		return nil, err
	}
	a.telemetry = store
	return telemetry.NewQueryMetrics(store, cfg), nil
}

// engineConfig maps file configuration onto engine settings.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.DeletePolicy = graph.DeletePolicy(cfg.Graph.DeletePolicy)
	ec.MaxDepth = cfg.Graph.MaxDepth
	ec.DefaultLimit = cfg.Search.DefaultLimit
	ec.MaxLimit = cfg.Search.MaxLimit
	ec.SearchTimeout = cfg.SearchTimeout()
	ec.Workers = cfg.Sync.Workers
	ec.MaxContentBytes = cfg.Store.MaxContentBytes
	ec.Retry = cfg.RetryConfig()
	return ec
}

// newRenderer builds the goldmark renderer with pandoc for other formats,
// behind an LRU cache. The pandoc engine also takes over html.
func newRenderer(cfg *config.Config) render.Renderer {
	opts := []render.MarkdownOption{
		render.WithFallback(render.NewPandoc(cfg.Render.PandocPath, cfg.RenderTimeout())),
	}
	if cfg.Render.Engine == "pandoc" {
		opts = append(opts, render.WithExternalHTML())
	}
	return render.NewCached(render.NewMarkdown(opts...), cfg.Render.CacheSize)
}

// Close waits for background index retries, then closes the engine (which
// closes the stores) and releases the lock.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, st := range a.engine.Pending() {
			if err := a.engine.Await(ctx, st.ID); err != nil {
				a.logger.Warn("page_not_synced_at_exit",
					slog.String("page_id", st.ID),
					slog.String("error", err.Error()))
			}
		}
		cancel()
		errs = append(errs, a.engine.Close())
	} else {
		a.closeResources()
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}
	return errors.Join(errs...)
}

// closeResources closes what openApp opened before the engine existed.
func (a *app) closeResources() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
		a.lock = nil
	}
}

// withApp opens the data directory, runs fn and closes it again.
func (g *globalOptions) withApp(ctx context.Context, opts openOptions, fn func(*app) error) (err error) {
	a, err := g.openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
