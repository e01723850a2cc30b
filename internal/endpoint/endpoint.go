// Package endpoint assembles one synchronized map endpoint from configuration:
// its bus, its headless map and its sync engine, plus an optional metrics and
// health listener and a script of simulated user actions.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/clock"
	"github.com/dgnsrekt/mapsync/internal/config"
	"github.com/dgnsrekt/mapsync/internal/metrics"
	"github.com/dgnsrekt/mapsync/internal/simmap"
	mapsync "github.com/dgnsrekt/mapsync/internal/sync"
	"github.com/dgnsrekt/mapsync/internal/view"
)

const busCheckTimeout = 2 * time.Second

type Endpoint struct {
	cfg     *config.Config
	id      string
	clock   clock.Clock
	bus     bus.Bus
	ownsBus bool
	m       *simmap.Map
	engine  *mapsync.Engine
	reg     *prometheus.Registry
	health  healthcheck.Handler
	logger  *zap.Logger
}

type Option func(*Endpoint)

// WithBus makes the endpoint use b instead of opening the configured bus. The
// caller keeps ownership of b.
func WithBus(b bus.Bus) Option {
	return func(e *Endpoint) { e.bus = b }
}

// WithClock replaces the wall clock driving debounce windows and animations.
func WithClock(c clock.Clock) Option {
	return func(e *Endpoint) { e.clock = c }
}

// New builds an endpoint. Nothing is started until Run or Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Endpoint, error) {
	e := &Endpoint{
		cfg:    cfg,
		id:     fmt.Sprintf("%s-%s", cfg.Name, uuid.NewString()[:8]),
		clock:  clock.Real(),
		reg:    metrics.NewRegistry(),
		logger: logger.With(zap.String("name", cfg.Name)),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Sync.Enabled && e.bus == nil {
		b, err := bus.Open(ctx, cfg.Bus, e.logger)
		if err != nil {
			return nil, fmt.Errorf("opening %s bus: %w", cfg.Bus.Kind, err)
		}
		e.bus, e.ownsBus = b, true
	}

	e.m = simmap.New(simmap.Options{
		Width:     cfg.Map.Width,
		Height:    cfg.Map.Height,
		Animation: cfg.Map.Animation,
		Frames:    cfg.Map.Frames,
		Center:    cfg.InitialCenter(),
		Zoom:      cfg.Map.InitialZoom,
		MinZoom:   cfg.Map.MinZoom,
		MaxZoom:   cfg.Map.MaxZoom,
		Clock:     e.clock,
	})

	center := cfg.InitialCenter()
	zoom := cfg.Map.InitialZoom
	engine, err := mapsync.NewEngine(e.m, e.bus, mapsync.Options{
		EndpointID:     e.id,
		Group:          cfg.Sync.Group,
		EventType:      cfg.Sync.EventType,
		Mode:           cfg.SyncMode(),
		Synchronize:    cfg.Sync.Enabled,
		DebounceWindow: cfg.Sync.Debounce,
		WheelTick:      cfg.Sync.WheelTick,
		WheelGrace:     cfg.Sync.WheelGrace,
		DedupeSize:     cfg.Sync.DedupeSize,
		Startup: &mapsync.StartupView{
			Interaction:          cfg.Map.Interaction,
			MinZoom:              cfg.Map.MinZoom,
			MaxZoom:              cfg.Map.MaxZoom,
			InitialCenter:        &center,
			InitialZoom:          &zoom,
			InitialBounds:        cfg.InitialBounds(),
			InitialBoundsOptions: cfg.Map.InitialBoundsOptions,
		},
		Clock:    e.clock,
		Recorder: metrics.NewEngine(e.reg, cfg.Name),
	}, e.logger)
	if err != nil {
		e.closeBus()
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	e.engine = engine

	e.health = metrics.NewHealth(cfg.Metrics.GoroutineThreshold)
	if e.bus != nil {
		e.health.AddReadinessCheck("bus", metrics.BusCheck(e.bus, busCheckTimeout))
	}

	e.m.OnMovement(e.logSettled)
	return e, nil
}

func (e *Endpoint) ID() string                     { return e.id }
func (e *Endpoint) Map() *simmap.Map               { return e.m }
func (e *Endpoint) Engine() *mapsync.Engine        { return e.engine }
func (e *Endpoint) Registry() *prometheus.Registry { return e.reg }

// Start starts the engine.
func (e *Endpoint) Start(ctx context.Context) error {
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	snap := e.m.View()
	e.logger.Info("endpoint started",
		zap.String("id", e.id),
		zap.Bool("sync", e.cfg.Sync.Enabled),
		zap.String("topic", e.engine.Topic()),
		zap.Stringer("center", snap.Center),
		zap.Int("zoom", snap.Zoom),
	)
	return nil
}

// Run starts the endpoint, serves metrics and health when enabled, and runs
// the configured script. It returns when the script ends (unless configured
// to linger) or ctx is cancelled.
func (e *Endpoint) Run(ctx context.Context) error {
	defer e.Close()

	if err := e.Start(ctx); err != nil {
		return err
	}

	if e.cfg.Metrics.Enabled {
		srv := e.metricsServer()
		go func() {
			e.logger.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if e.cfg.Script.Path != "" {
		f, err := os.Open(e.cfg.Script.Path)
		if err != nil {
			return fmt.Errorf("opening script: %w", err)
		}
		err = NewScript(e, os.Stdout).Run(ctx, f)
		f.Close()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !e.cfg.Script.Linger {
			return nil
		}
	}

	<-ctx.Done()
	return nil
}

func (e *Endpoint) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(e.reg))
	mux.HandleFunc("/live", e.health.LiveEndpoint)
	mux.HandleFunc("/ready", e.health.ReadyEndpoint)
	return &http.Server{
		Addr:              e.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Close stops the engine and closes the bus if the endpoint opened it.
func (e *Endpoint) Close() error {
	err := e.engine.Close()
	if cerr := e.closeBus(); err == nil {
		err = cerr
	}
	e.logger.Info("endpoint stopped")
	return err
}

func (e *Endpoint) closeBus() error {
	if !e.ownsBus || e.bus == nil {
		return nil
	}
	e.ownsBus = false
	return e.bus.Close()
}

func (e *Endpoint) logSettled(kind mapsync.MovementKind, snap view.Snapshot) {
	if kind != mapsync.MovementSettled {
		return
	}
	tiles := e.m.Tiles()
	fields := []zap.Field{
		zap.Stringer("center", snap.Center),
		zap.Int("zoom", snap.Zoom),
		zap.Stringer("bounds", snap.Bounds),
		zap.Int("tiles", len(tiles)),
	}
	if len(tiles) > 0 {
		fields = append(fields, zap.String("firstTile", tiles[0].URL(e.cfg.Map.Tiles.URL)))
	}
	e.logger.Debug("view settled", fields...)
}
