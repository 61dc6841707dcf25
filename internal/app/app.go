// Package app wires sceneboard's components into a running application.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/sceneboard/internal/config"
	"github.com/dshills/sceneboard/internal/document"
	"github.com/dshills/sceneboard/internal/engine"
	"github.com/dshills/sceneboard/internal/metrics"
	"github.com/dshills/sceneboard/internal/persist"
	"github.com/dshills/sceneboard/internal/telemetry"
)

// Application owns the engine and everything it depends on.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	tracer         trace.TracerProvider
	shutdownTracer telemetry.Shutdown

	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *http.Server

	gateway    persist.Gateway
	dispatcher *persist.Dispatcher
	engine     *engine.Engine
	watcher    *config.Watcher

	closed atomic.Bool
}

// Options configures application startup.
type Options struct {
	// ConfigPath is the TOML config file. Empty uses defaults and env only.
	ConfigPath string

	// Config, when set, is used as-is instead of loading ConfigPath.
	Config *config.Config

	// Seed replaces the remote document before editing starts. Without a
	// seed the engine starts from whatever the gateway already holds.
	Seed *document.Snapshot

	// Watch enables live reload of ConfigPath.
	Watch bool

	// Verbose forces debug logging.
	Verbose bool

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// Version is reported as the trace service version.
	Version string
}

// New builds and starts an application.
func New(ctx context.Context, opts Options) (*Application, error) {
	app := &Application{}
	if err := newBootstrapper(app, opts).bootstrap(ctx); err != nil {
		return nil, err
	}
	app.logger.Debug("application started",
		"driver", app.cfg.Persist.Driver,
		"capacity", app.cfg.History.Capacity,
	)
	return app, nil
}

// Config returns the configuration the application started with.
func (app *Application) Config() config.Config {
	return app.cfg
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// Engine returns the edit engine.
func (app *Application) Engine() *engine.Engine {
	return app.engine
}

// Dispatcher returns the persistence dispatcher.
func (app *Application) Dispatcher() *persist.Dispatcher {
	return app.dispatcher
}

// Gateway returns the remote store.
func (app *Application) Gateway() persist.Gateway {
	return app.gateway
}

// Registry returns the Prometheus registry holding application metrics.
func (app *Application) Registry() *prometheus.Registry {
	return app.registry
}

// Shutdown stops components in reverse start order. Queued writes are
// drained before the gateway closes. It is safe to call more than once.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.closed.CompareAndSwap(false, true) {
		return nil
	}
	return app.shutdown(ctx)
}

func (app *Application) shutdown(ctx context.Context) error {
	var errs []error

	// 1. Stop reacting to config changes
	if app.watcher != nil {
		errs = append(errs, app.watcher.Close())
	}

	// 2. Drain and stop persistence
	if app.dispatcher != nil && app.dispatcher.IsRunning() {
		errs = append(errs, app.dispatcher.Stop(ctx))
	}

	// 3. Close the remote store
	if app.gateway != nil {
		errs = append(errs, app.gateway.Close())
	}

	// 4. Stop serving metrics
	if app.metricsServer != nil {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		errs = append(errs, app.metricsServer.Shutdown(sctx))
		cancel()
	}

	// 5. Flush spans
	if app.shutdownTracer != nil {
		errs = append(errs, app.shutdownTracer(ctx))
	}

	return errors.Join(errs...)
}

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

func defaultLogOutput(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}
