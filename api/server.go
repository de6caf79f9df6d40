package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"resetwatch/api/handlers"
	"resetwatch/api/ws"
	"resetwatch/config"
	"resetwatch/core/auth"
	"resetwatch/core/utils"
)

// BackgroundWorker is started with the server and stopped on shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Engine   handlers.TrackerService
	Backups  handlers.BackupService
	Hub      *ws.Hub
	Keyring  *auth.Keyring
	Policy   *auth.Policy
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg      *config.AppConfig
	router   chi.Router
	httpSrv  *http.Server
	keyring  *auth.Keyring
	policy   *auth.Policy
	hub      *ws.Hub
	gatherer prometheus.Gatherer
	tracker  *handlers.TrackerHandler
	backups  *handlers.BackupsHandler
	logger   *utils.Logger

	bgCancel context.CancelFunc
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("tracker engine is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("policy is required")
	}
	if deps.Hub == nil {
		deps.Hub = ws.NewHub(logger)
	}
	bg, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		keyring:  deps.Keyring,
		policy:   deps.Policy,
		hub:      deps.Hub,
		gatherer: deps.Gatherer,
		tracker:  handlers.NewTrackerHandler(bg, deps.Engine, cfg.API.ReportCacheTTL, logger.With("api")),
		backups:  handlers.NewBackupsHandler(deps.Backups, logger.With("api")),
		logger:   logger,
		bgCancel: cancel,
	}
	s.registerRoutes()
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.bgCancel()
	s.hub.Close()
	err := s.httpSrv.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.tracker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
