// Package daemon assembles prwatchd: it opens the local store, builds the
// background service and serves the message bridge (and optionally the
// metrics endpoint) until a termination signal arrives.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/background"
	"github.com/dmitrijs2005/prwatch/internal/config"
	"github.com/dmitrijs2005/prwatch/internal/filex"
	"github.com/dmitrijs2005/prwatch/internal/github"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/metrics"
	"github.com/dmitrijs2005/prwatch/internal/notify"
	"github.com/dmitrijs2005/prwatch/internal/refresh"
	"github.com/dmitrijs2005/prwatch/internal/repositories/hidden"
	"github.com/dmitrijs2005/prwatch/internal/repositories/kv"
	"github.com/dmitrijs2005/prwatch/internal/rpc"
	"github.com/dmitrijs2005/prwatch/internal/securestore"
	"github.com/dmitrijs2005/prwatch/internal/session"
	"github.com/dmitrijs2005/prwatch/internal/storage"
	"github.com/dmitrijs2005/prwatch/internal/vault"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	provider *metrics.Provider
	service  *background.Service
	metrics  *http.Server
}

type Option func(*App)

// WithLogger replaces the JSON stdout logger.
func WithLogger(l logging.Logger) Option {
	return func(a *App) { a.logger = l }
}

func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{config: cfg}
	for _, o := range opts {
		o(app)
	}
	if app.logger == nil {
		app.logger = logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	}

	if _, err := filex.EnsurePrivateDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if _, err := filex.EnsurePrivateDir(cfg.RuntimeDir); err != nil {
		return nil, fmt.Errorf("runtime dir: %w", err)
	}

	db, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	provider, err := metrics.NewProvider()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	app.provider = provider

	recorder, err := metrics.NewRecorder(provider.MeterProvider())
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("metrics recorder: %w", err)
	}

	v := vault.New(kv.NewSQLiteRepository(db), vault.WithIterations(cfg.KDFIterations))
	store := securestore.New(kv.NewSQLiteRepository(db), v)

	app.service = background.New(background.Deps{
		Store:    store,
		Hidden:   hidden.NewSQLiteRepository(db),
		Volatile: session.NewFileStore(cfg.SessionPath()),
		GitHub:   github.New(cfg.GitHubAPIURL),
		Notifier: notify.LogNotifier{Logger: app.logger},
		Metrics:  recorder,
		Logger:   app.logger,
	}, serviceOptions(cfg))

	if cfg.MetricsAddr != "" {
		app.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           app.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	return app, nil
}

func serviceOptions(cfg *config.Config) background.Options {
	return background.Options{
		Refresh: refresh.Options{
			AutoGap:      cfg.AutoCheckGap,
			ManualGap:    cfg.ManualCheckGap,
			PollInterval: cfg.PollInterval,
		},
		RememberWindow: cfg.RememberWindow,
		NotifyThrottle: cfg.NotificationThrottle,
	}
}

func (app *App) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", app.provider.Handler())
	return mux
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			app.logger.Info(ctx, "Signal received", "signal", sig.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (app *App) startBridge(ctx context.Context, cancelFunc context.CancelFunc) error {
	s := rpc.NewServer(app.config.ListenAddr, app.service, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "bridge server failed", "error", err)
		cancelFunc()
		return fmt.Errorf("bridge server: %w", err)
	}
	return nil
}

func (app *App) startMetrics(ctx context.Context, cancelFunc context.CancelFunc) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := app.metrics.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(ctx, "metrics server shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.metrics.Addr)
	if err := app.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, a termination signal arrives or one of
// the servers fails. The store is closed on return.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			app.logger.Warn(ctx, "close", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting prwatchd...")
	app.initSignalHandler(ctx, cancelFunc)

	if err := app.service.Start(ctx); err != nil {
		return err
	}
	defer app.service.Stop()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(f func(context.Context, context.CancelFunc) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx, cancelFunc); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	run(app.startBridge)
	if app.metrics != nil {
		run(app.startMetrics)
	}

	wg.Wait()
	app.logger.Info(ctx, "prwatchd stopped")
	return errors.Join(errs...)
}

// Close flushes metrics and closes the store.
func (app *App) Close(ctx context.Context) error {
	var errs []error
	if app.provider != nil {
		errs = append(errs, app.provider.Shutdown(ctx))
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	return errors.Join(errs...)
}
