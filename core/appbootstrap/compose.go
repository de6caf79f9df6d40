package appbootstrap

import (
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"resetwatch/api"
	"resetwatch/api/ws"
	"resetwatch/config"
	"resetwatch/core/auth"
	"resetwatch/core/backups"
	"resetwatch/core/pnw"
	"resetwatch/core/store"
	"resetwatch/core/tracker"
	"resetwatch/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	engine     *tracker.Engine
	workers    []api.BackgroundWorker
	closers    []func()
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := tracker.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	engine, err := composeEngine(cfg, db, logger)
	if err != nil {
		return nil, err
	}
	engine.SetMetrics(metrics)

	hub := ws.NewHub(logger.With("ws"))
	sinks, closers := composeSinks(cfg, logger)
	engine.SetSink(append(tracker.MultiSink{hub}, sinks...))

	keyring, err := auth.NewKeyring(cfg.API.Keys)
	if err != nil {
		return nil, err
	}
	if keyring.Empty() && !cfg.API.AllowLocalhost {
		logger.Warnf("no api keys configured and localhost access disabled; the api will reject every request")
	}
	policy, err := auth.NewPolicy()
	if err != nil {
		return nil, err
	}

	backupsSvc := backups.NewService(cfg.Backup, db, store.DialectFor(cfg), logger.With("backups"))
	backupsScheduler := backups.NewScheduler(cfg.Backup.Interval, backupsSvc)

	comp := &runtimeComposition{
		serverDeps: api.ServerDeps{
			Engine:   engine,
			Backups:  backupsSvc,
			Hub:      hub,
			Keyring:  keyring,
			Policy:   policy,
			Gatherer: registry,
		},
		engine:  engine,
		closers: closers,
	}
	if cfg.Tracker.AutoStart {
		comp.workers = append(comp.workers, engine)
	}
	if backupsScheduler.Enabled() {
		comp.workers = append(comp.workers, backupsScheduler)
	}
	return comp, nil
}

// composeEngine builds the tracker over db. The upstream key must be present;
// callers check RequireUpstream first.
func composeEngine(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*tracker.Engine, error) {
	client, err := pnw.New(pnw.Config{
		URL:               cfg.Upstream.URL,
		APIKey:            cfg.Upstream.APIKey,
		UserAgent:         cfg.Upstream.UserAgent,
		Timeout:           cfg.Upstream.Timeout,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		Burst:             cfg.Upstream.Burst,
		PageSize:          cfg.Upstream.PageSize,
	}, logger.With("pnw"))
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	st := store.NewTrackerStore(db, store.DialectFor(cfg))
	opts := tracker.OptionsFromConfig(cfg.Tracker, client.PageSize())
	return tracker.NewEngine(st, client, opts, logger.With("tracker"))
}

// composeSinks builds the optional external notifiers. A notifier that cannot
// be set up is logged and skipped.
func composeSinks(cfg *config.AppConfig, logger *utils.Logger) (tracker.MultiSink, []func()) {
	var sinks tracker.MultiSink
	var closers []func()
	if len(cfg.Notify.URLs) > 0 {
		sink, err := tracker.NewShoutrrrSink(cfg.Notify.URLs, cfg.Notify.Timeout)
		if err != nil {
			logger.Errorf("notifications disabled: %v", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Notify.MQTT.Broker != "" {
		sink, err := tracker.NewMQTTSink(cfg.Notify.MQTT)
		if err != nil {
			logger.Errorf("mqtt disabled: %v", err)
		} else {
			sinks = append(sinks, sink)
			closers = append(closers, sink.Close)
		}
	}
	return sinks, closers
}
