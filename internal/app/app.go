// Package app wires all Agora subsystems into a running marketplace server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves traffic until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithEmbedder, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/agoramesh/agora/internal/analytics"
	"github.com/agoramesh/agora/internal/api"
	"github.com/agoramesh/agora/internal/config"
	"github.com/agoramesh/agora/internal/discovery"
	"github.com/agoramesh/agora/internal/execution"
	"github.com/agoramesh/agora/internal/health"
	"github.com/agoramesh/agora/internal/observe"
	"github.com/agoramesh/agora/internal/registry"
	"github.com/agoramesh/agora/internal/resilience"
	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/market/memstore"
	"github.com/agoramesh/agora/pkg/market/postgres"
	"github.com/agoramesh/agora/pkg/provider/embeddings"
	"github.com/agoramesh/agora/pkg/provider/embeddings/ollama"
	"github.com/agoramesh/agora/pkg/provider/embeddings/openai"
)

// Version is the build version, overridable at link time.
var Version = "dev"

// serviceName labels telemetry emitted by this process.
const serviceName = "agora"

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// App owns all subsystem lifetimes for the marketplace server.
type App struct {
	cfg *config.Config

	store    market.Store
	embedder embeddings.Provider
	guard    *resilience.GuardedEmbedder

	registry  *registry.Registry
	discovery *discovery.Service
	engine    *execution.Engine
	analytics *analytics.Service

	server  *api.Server
	watcher *config.Watcher

	promReg prometheus.Registerer

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a combined store instead of creating one from config.
func WithStore(s market.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEmbedder injects an embeddings provider instead of resolving one
// through the provider registry. The circuit breaker still wraps it.
func WithEmbedder(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithRegisterer sets the Prometheus registerer that receives the metric
// collectors. Tests pass an isolated prometheus.NewRegistry; the default is
// the process-wide registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.promReg = reg }
}

// DefaultRegistry returns a provider registry with the built-in embeddings
// backends registered under their config names.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(key, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollama.Option
		if dims, ok := entry.Options["dimensions"].(int); ok {
			opts = append(opts, ollama.WithDimensions(dims))
		}
		return ollama.New(entry.BaseURL, entry.Model, opts...)
	})

	return reg
}

// New creates an App by wiring all subsystems together. The providers
// registry resolves the configured embeddings backend; use Option functions
// to inject test doubles instead.
func New(ctx context.Context, cfg *config.Config, providers *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, serviceName, Version, a.promReg)
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return shutdownTelemetry(context.Background())
	})

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initEmbeddings(providers); err != nil {
		return nil, fmt.Errorf("app: init embeddings: %w", err)
	}

	a.registry = registry.New(a.store, a.guard, registry.WithMetrics(metrics))
	a.discovery = discovery.New(a.store, a.store, a.guard, discovery.WithMetrics(metrics))
	a.analytics = analytics.New(a.store, a.store)

	engineOpts := []execution.Option{execution.WithMetrics(metrics)}
	if cfg.Execution.ClientTimeout > 0 {
		engineOpts = append(engineOpts, execution.WithHTTPClient(&http.Client{
			Timeout: cfg.Execution.ClientTimeout,
		}))
	}
	a.engine = execution.New(a.store, a.store, engineOpts...)

	checks := health.New(
		health.StoreChecker(a.store),
		health.EmbeddingsChecker(a.guard),
	)

	apiCfg := api.Config{ListenAddr: cfg.Server.ListenAddr}
	if tls := cfg.Server.TLS; tls != nil {
		apiCfg.CertFile = tls.CertFile
		apiCfg.KeyFile = tls.KeyFile
	}
	a.server = api.NewServer(apiCfg, api.Deps{
		Registry:  a.registry,
		Discovery: a.discovery,
		Engine:    a.engine,
		Analytics: a.analytics,
		Usage:     a.store,
		Health:    checks,
		Metrics:   metrics,
	})

	return a, nil
}

// initStore connects the PostgreSQL store, or falls back to the in-memory
// store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Warn("store.postgres_dsn is empty, using in-memory store; nothing survives a restart")
		a.store = memstore.New()
		return nil
	}

	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = defaultEmbeddingDimensions
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initEmbeddings resolves the configured provider and wraps it in the
// circuit breaker.
func (a *App) initEmbeddings(providers *config.Registry) error {
	if a.embedder == nil {
		provider, err := providers.CreateEmbeddings(a.cfg.Embeddings)
		if err != nil {
			return err
		}
		a.embedder = provider
	}

	bc := resilience.CircuitBreakerConfig{Name: "embeddings"}
	if b := a.cfg.Embeddings.Breaker; b != nil {
		bc.MaxFailures = b.MaxFailures
		bc.ResetTimeout = b.ResetTimeout
		bc.HalfOpenMax = b.HalfOpenMax
	}
	a.guard = resilience.GuardEmbedder(a.embedder, resilience.NewCircuitBreaker(bc))

	slog.Info("embeddings provider ready",
		"model", a.embedder.ModelID(), "dimensions", a.embedder.Dimensions())
	return nil
}

// WatchConfig starts polling path for configuration changes. Log level
// changes apply immediately through level; changes that cannot be applied
// live are logged as needing a restart.
func (a *App) WatchConfig(path string, level *slog.LevelVar, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect",
				"reasons", d.RestartReasons)
		}
	}, opts...)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// Run serves the API until ctx is cancelled, then returns after a graceful
// drain. The config watcher, when started, stops alongside the server.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start(ctx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			<-ctx.Done()
			a.watcher.Stop()
			return nil
		})
	}

	slog.Info("marketplace server running",
		"addr", a.cfg.Server.ListenAddr, "version", Version)
	return g.Wait()
}

// Handler exposes the HTTP handler for in-process tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Shutdown releases all resources in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// slogLevel maps a config log level onto its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
