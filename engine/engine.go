// Package engine assembles the pipeline: session store, scheduler,
// gateway, collaborator clients, and the operational HTTP surface. It
// owns startup order, background loop supervision, and reverse-order
// shutdown.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kojaewoong0504/VibeMusic-sub000/analyzer"
	"github.com/Kojaewoong0504/VibeMusic-sub000/component"
	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/downstream"
	"github.com/Kojaewoong0504/VibeMusic-sub000/emotion"
	"github.com/Kojaewoong0504/VibeMusic-sub000/gateway"
	"github.com/Kojaewoong0504/VibeMusic-sub000/health"
	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
	"github.com/Kojaewoong0504/VibeMusic-sub000/natsclient"
	"github.com/Kojaewoong0504/VibeMusic-sub000/scheduler"
	"github.com/Kojaewoong0504/VibeMusic-sub000/session"
)

// Engine wires and supervises all pipeline components.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	core     *metric.CoreMetrics
	monitor  *health.Monitor

	store *session.Store
	sched *scheduler.Scheduler
	gw    *gateway.Gateway
	nats  *natsclient.Client

	httpServer *http.Server

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds the full pipeline from configuration. Nothing is started.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := metric.NewMetricsRegistry()
	core := registry.Core

	store := session.NewStore(cfg.Buffer, logger, core)

	var (
		nats        *natsclient.Client
		validator   downstream.Validator    = downstream.LocalValidator{}
		persistence downstream.Persistence  = downstream.NoopPersistence{}
		music       downstream.MusicTrigger = downstream.NoopMusicTrigger{}
	)
	if cfg.NATS.Enabled {
		nats = natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(core),
		)
		validator = downstream.NewNATSValidator(nats, cfg.NATS)
		persistence = downstream.NewNATSPersistence(nats, cfg.NATS)
		music = downstream.NewNATSMusicTrigger(nats, cfg.NATS)
	}

	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Store:       store,
		Extractor:   analyzer.New(cfg.Analysis.PauseThresholdMS),
		Mapper:      emotion.New(cfg.Emotion.SmoothingAlpha, cfg.Emotion.WPMNorm),
		Persistence: persistence,
		Music:       music,
		Logger:      logger,
		Metrics:     core,
		Registry:    registry,
	})

	mux := http.NewServeMux()
	gw, err := gateway.New(cfg.Server, cfg.QoS, gateway.Deps{
		Sink:            store,
		Patterns:        sched,
		Validator:       validator,
		Logger:          logger,
		Registry:        registry,
		Mux:             mux,
		BatchIntervalMS: cfg.Scheduler.TickIntervalMS,
	})
	if err != nil {
		return nil, err
	}
	sched.SetBroadcaster(gw)

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		registry: registry,
		core:     core,
		monitor:  health.NewMonitor(),
		store:    store,
		sched:    sched,
		gw:       gw,
		nats:     nats,
	}

	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", e.handleHealthz)
	e.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}

	return e, nil
}

// Start brings the pipeline up: collaborators first, then the scheduler,
// then the gateway, then the background loops.
func (e *Engine) Start(ctx context.Context) error {
	supCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.nats != nil {
		connectCtx, connectCancel := context.WithTimeout(supCtx, 10*time.Second)
		err := e.nats.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// collaborators are degraded, not fatal; the circuit
			// breaker keeps the hot path responsive
			e.logger.Warn("NATS unavailable at startup", "error", err)
		}
	}

	if err := e.sched.Start(supCtx); err != nil {
		cancel()
		e.setComponentState("scheduler", component.StateFailed)
		return fmt.Errorf("engine: start scheduler: %w", err)
	}
	e.setComponentState("scheduler", component.StateStarted)

	if err := e.gw.Initialize(); err != nil {
		cancel()
		e.setComponentState("gateway", component.StateFailed)
		return fmt.Errorf("engine: initialize gateway: %w", err)
	}
	e.setComponentState("gateway", component.StateInitialized)
	if err := e.gw.Start(supCtx); err != nil {
		cancel()
		e.setComponentState("gateway", component.StateFailed)
		return fmt.Errorf("engine: start gateway: %w", err)
	}
	e.setComponentState("gateway", component.StateStarted)

	group, groupCtx := errgroup.WithContext(supCtx)
	e.group = group

	group.Go(func() error { return e.sched.Run(groupCtx) })
	group.Go(func() error { return e.store.RunGC(groupCtx) })
	group.Go(func() error { return e.watchHealth(groupCtx) })
	group.Go(func() error {
		err := e.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("engine: http server: %w", err)
		}
		return nil
	})

	e.logger.Info("pipeline started",
		"http_port", e.cfg.Server.HTTPPort,
		"ws_path", e.cfg.Server.WSPath,
		"nats", e.nats != nil)
	return nil
}

// Stop shuts the pipeline down in reverse start order: gateway first so
// no new events arrive, scheduler next so in-flight analyses drain, then
// the background loops and collaborators.
func (e *Engine) Stop(timeout time.Duration) error {
	e.logger.Info("pipeline stopping", "timeout", timeout)

	var errs []error
	if err := e.gw.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop gateway: %w", err))
	}
	e.setComponentState("gateway", component.StateStopped)
	if err := e.sched.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	e.setComponentState("scheduler", component.StateStopped)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	_ = e.httpServer.Shutdown(shutdownCtx)
	cancel()

	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		if err := e.group.Wait(); err != nil && err != context.Canceled {
			errs = append(errs, err)
		}
	}

	if e.nats != nil {
		e.nats.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("engine: shutdown: %v", errs)
	}
	e.logger.Info("pipeline stopped")
	return nil
}

// Run starts the pipeline and blocks until ctx is cancelled, then stops
// it with the given timeout.
func (e *Engine) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop(shutdownTimeout)
}

// watchHealth refreshes the component health registry once a second.
func (e *Engine) watchHealth(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			gwHealth := e.gw.Health()
			e.monitor.Update("gateway", health.FromComponentHealth("gateway", gwHealth))
			e.setHealthGauge("gateway", gwHealth.Healthy)

			if e.nats != nil {
				if e.nats.IsConnected() {
					e.monitor.Update("nats", health.NewHealthy("nats", "connected"))
					e.setHealthGauge("nats", true)
				} else {
					e.monitor.Update("nats", health.NewDegraded("nats", "disconnected"))
					e.setHealthGauge("nats", false)
				}
			}
		}
	}
}

func (e *Engine) setComponentState(name string, state component.State) {
	e.core.ComponentStatus.WithLabelValues(name).Set(float64(state))
}

func (e *Engine) setHealthGauge(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	e.core.HealthStatus.WithLabelValues(name).Set(v)
}

// handleHealthz serves the aggregated component health. Degraded systems
// still answer 200; only unhealthy returns 503.
func (e *Engine) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := e.monitor.AggregateHealth("vibemusic")

	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
