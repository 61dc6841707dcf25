package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/sceneboard/internal/config"
	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/engine"
	"github.com/dshills/sceneboard/internal/metrics"
	"github.com/dshills/sceneboard/internal/persist"
	"github.com/dshills/sceneboard/internal/telemetry"
)

// snapshotLoader is implemented by gateways that can read back the
// document they hold.
type snapshotLoader interface {
	Load(ctx context.Context) (document.Snapshot, error)
}

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app  *Application
	opts Options
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{app: app, opts: opts}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []func(context.Context) error{
		b.initConfig,   // 1. Config
		b.initLogging,  // 2. Logger
		b.initTracing,  // 3. Tracer provider
		b.initMetrics,  // 4. Registry and listener
		b.initGateway,  // 5. Remote store
		b.initDispatch, // 6. Write dispatcher
		b.initEngine,   // 7. Engine and initial document
		b.initWatcher,  // 8. Live reload
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			b.cleanup(ctx)
			return err
		}
	}
	return nil
}

func (b *bootstrapper) cleanup(ctx context.Context) {
	b.app.closed.Store(true)
	if err := b.app.shutdown(ctx); err != nil && b.app.logger != nil {
		b.app.logger.Warn("cleanup after failed start", "error", err)
	}
}

// initConfig loads configuration from file and environment.
func (b *bootstrapper) initConfig(context.Context) error {
	var cfg config.Config
	if b.opts.Config != nil {
		cfg = *b.opts.Config
		if err := cfg.Validate(); err != nil {
			return &InitError{Component: "config", Err: err}
		}
	} else {
		loaded, err := config.Load(b.opts.ConfigPath)
		if err != nil {
			return &InitError{Component: "config", Err: err}
		}
		cfg = loaded
	}
	if b.opts.Verbose {
		cfg.Log.Level = "debug"
	}
	b.app.cfg = cfg
	return nil
}

func (b *bootstrapper) initLogging(context.Context) error {
	b.app.logger = telemetry.NewLogger(b.app.cfg.Log, defaultLogOutput(b.opts.LogOutput))
	return nil
}

func (b *bootstrapper) initTracing(ctx context.Context) error {
	version := b.opts.Version
	if version == "" {
		version = "dev"
	}
	tp, shutdown, err := telemetry.Setup(ctx, b.app.cfg.Telemetry, version)
	if err != nil {
		return &InitError{Component: "tracing", Err: err}
	}
	b.app.tracer = tp
	b.app.shutdownTracer = shutdown
	return nil
}

// initMetrics creates the registry and, when an address is configured,
// serves it at /metrics.
func (b *bootstrapper) initMetrics(context.Context) error {
	b.app.registry = prometheus.NewRegistry()
	b.app.metrics = metrics.New(b.app.registry)

	addr := b.app.cfg.Metrics.Addr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &InitError{Component: "metrics", Err: err}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(b.app.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	b.app.metricsServer = srv

	logger := b.app.logger
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (b *bootstrapper) initGateway(ctx context.Context) error {
	p := b.app.cfg.Persist
	switch p.Driver {
	case config.DriverSQLite:
		gw, err := persist.OpenSQLite(ctx, p.Path)
		if err != nil {
			return &InitError{Component: "gateway", Err: err}
		}
		b.app.gateway = gw
	default:
		b.app.gateway = persist.NewMemoryGateway()
	}
	return nil
}

func (b *bootstrapper) initDispatch(context.Context) error {
	p := b.app.cfg.Persist
	d := persist.NewDispatcher(b.app.gateway,
		persist.WithQueueSize(p.QueueSize),
		persist.WithTimeout(p.Timeout.Std()),
		persist.WithMaxTries(p.MaxTries),
		persist.WithBackoff(p.BackoffInitial.Std(), p.BackoffMax.Std()),
		persist.WithMetrics(b.app.metrics),
		persist.WithTracerProvider(b.app.tracer),
		persist.WithLogger(b.app.logger.With("component", "persist")),
	)
	if err := d.Start(); err != nil {
		return &InitError{Component: "dispatcher", Err: err}
	}
	b.app.dispatcher = d
	return nil
}

// initEngine creates the engine over the seed document, or over what the
// gateway already holds when there is no seed.
func (b *bootstrapper) initEngine(ctx context.Context) error {
	var doc document.Snapshot
	switch {
	case b.opts.Seed != nil:
		doc = b.opts.Seed.Clone()
		if err := b.app.gateway.SaveDocument(ctx, doc); err != nil {
			return &InitError{Component: "engine", Err: fmt.Errorf("seeding remote document: %w", err)}
		}
	default:
		if l, ok := b.app.gateway.(snapshotLoader); ok {
			loaded, err := l.Load(ctx)
			if err != nil {
				return &InitError{Component: "engine", Err: fmt.Errorf("loading remote document: %w", err)}
			}
			doc = loaded
		}
	}

	eng, err := engine.New(
		engine.WithDocument(doc),
		engine.WithCapacity(b.app.cfg.History.Capacity),
		engine.WithDispatcher(b.app.dispatcher),
		engine.WithMetrics(b.app.metrics),
		engine.WithLogger(b.app.logger.With("component", "engine")),
	)
	if err != nil {
		return &InitError{Component: "engine", Err: err}
	}
	b.app.engine = eng
	return nil
}

// initWatcher applies history capacity changes from the config file to
// the running engine.
func (b *bootstrapper) initWatcher(context.Context) error {
	if !b.opts.Watch || b.opts.ConfigPath == "" {
		return nil
	}
	logger := b.app.logger
	eng := b.app.engine
	w, err := config.Watch(b.opts.ConfigPath,
		func(c config.Config) {
			if c.History.Capacity != eng.Capacity() {
				eng.SetCapacity(c.History.Capacity)
			}
		},
		config.WithErrorHandler(func(err error) {
			logger.Warn("config reload failed", "error", err)
		}),
	)
	if err != nil {
		return &InitError{Component: "config watcher", Err: err}
	}
	b.app.watcher = w
	return nil
}
