package appbootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"resetwatch/api"
	"resetwatch/config"
	"resetwatch/core/store"
	"resetwatch/core/tracker"
	"resetwatch/core/utils"
)

const shutdownTimeout = 15 * time.Second

// OpenDatabase opens the configured database and applies pending migrations.
func OpenDatabase(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, store.DialectFor(cfg), logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Tool is a tracker without the HTTP surface, for one-shot commands. Commands
// that reach the upstream API check RequireUpstream themselves.
type Tool struct {
	Engine  *tracker.Engine
	db      *sql.DB
	closers []func()
}

func NewTool(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Tool, error) {
	db, err := OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	engine, err := composeEngine(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	sinks, closers := composeSinks(cfg, logger)
	if len(sinks) > 0 {
		engine.SetSink(sinks)
	}
	return &Tool{Engine: engine, db: db, closers: closers}, nil
}

func (t *Tool) Close() error {
	for _, c := range t.closers {
		c()
	}
	return t.db.Close()
}

type App struct {
	cfg     *config.AppConfig
	db      *sql.DB
	server  *api.Server
	engine  *tracker.Engine
	workers []api.BackgroundWorker
	closers []func()
	logger  *utils.Logger
}

func New(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*App, error) {
	if err := cfg.RequireUpstream(); err != nil {
		return nil, err
	}
	db, err := OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	server, err := api.NewServer(cfg, comp.serverDeps, logger.With("http"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &App{
		cfg:     cfg,
		db:      db,
		server:  server,
		engine:  comp.engine,
		workers: comp.workers,
		closers: comp.closers,
		logger:  logger,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts the
// workers and the server down.
func (a *App) Run(ctx context.Context) error {
	for _, w := range a.workers {
		w.StartWithContext(ctx)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Errorf("http server: %v", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	for _, w := range a.workers {
		if err := w.StopWithContext(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	// The engine may have been started over the API without auto_start.
	if err := a.engine.StopWithContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracker stop: %w", err))
	}
	for _, c := range a.closers {
		c()
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Printf("shutdown complete")
	return errors.Join(errs...)
}
