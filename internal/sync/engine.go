package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/clock"
	"github.com/dgnsrekt/mapsync/internal/view"
)

const (
	DefaultEventType  = "mapmove"
	DefaultGroup      = "default"
	DefaultDedupeSize = 256
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNoBus          = errors.New("synchronization enabled without a bus")
)

// StartupView is the non-synchronization configuration applied once at start.
type StartupView struct {
	Interaction          bool
	MinZoom              int
	MaxZoom              int
	InitialCenter        *view.LatLng
	InitialZoom          *int
	InitialBounds        *view.Bounds
	InitialBoundsOptions view.BoundsOptions
}

// Options configures an Engine.
type Options struct {
	EndpointID     string
	Group          string
	EventType      string
	Mode           view.SyncMode
	Synchronize    bool
	DebounceWindow time.Duration
	WheelTick      time.Duration
	// WheelGrace of zero means DefaultWheelGrace; negative disables it.
	WheelGrace time.Duration
	DedupeSize int
	// Startup is applied once by Start. Nil leaves the adapter as it is.
	Startup   *StartupView
	Clock     clock.Clock
	Recorder  Recorder
	Extension any
}

// Engine composes the gesture tracker, sync lock, emitter and applier for one
// endpoint and wires them to its adapter and bus.
type Engine struct {
	opts    Options
	adapter ViewAdapter
	bus     bus.Bus
	topic   string
	logger  *zap.Logger

	gesture *GestureTracker
	lock    *SyncLock
	emitter *ChangeEmitter
	applier *ChangeApplier
	seen    *bus.Dedup

	mu        gosync.Mutex
	ctx       context.Context
	started   bool
	wired     bool
	sub       bus.Subscription
	listeners []func(MovementKind, view.Snapshot)
}

// NewEngine builds an engine for adapter. b may be nil when synchronization is
// disabled.
func NewEngine(adapter ViewAdapter, b bus.Bus, opts Options, logger *zap.Logger) (*Engine, error) {
	if adapter == nil {
		return nil, errors.New("engine requires a view adapter")
	}
	if opts.Synchronize && b == nil {
		return nil, ErrNoBus
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.EventType == "" {
		opts.EventType = DefaultEventType
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	switch {
	case opts.WheelGrace == 0:
		opts.WheelGrace = DefaultWheelGrace
	case opts.WheelGrace < 0:
		opts.WheelGrace = 0
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = DefaultDedupeSize
	}

	seen, err := bus.NewDedup(opts.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedupe cache: %w", err)
	}

	logger = logger.With(zap.String("endpoint", opts.EndpointID))

	e := &Engine{
		opts:    opts,
		adapter: adapter,
		bus:     b,
		topic:   bus.Topic(opts.Group, opts.EventType),
		logger:  logger,
		lock:    &SyncLock{},
		seen:    seen,
	}
	e.gesture = NewGestureTracker(opts.Clock, opts.WheelTick, opts.WheelGrace, logger.Named("gesture"))
	e.emitter = NewChangeEmitter(opts.Mode, e.gesture, e.lock, opts.Clock, opts.DebounceWindow,
		e.publish, opts.Recorder, logger.Named("emitter"))
	e.applier = NewChangeApplier(opts.Mode, adapter, e.gesture, e.lock, opts.Recorder, logger.Named("applier"))
	return e, nil
}

// Start applies the startup view, wires adapter notifications and, when
// synchronization is enabled, subscribes to the group topic. A failed Start
// leaves the engine unsubscribed and may be retried.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.ctx = ctx
	wire := !e.wired
	e.wired = true
	e.mu.Unlock()

	// Programmatic setup happens before any notification is wired, so it can
	// never be classified as a user change. On a retry the listeners are
	// already wired; startup moves carry no gesture and are not emitted.
	e.applyStartup()

	// Adapters cannot drop listeners, so they are wired once per engine.
	if wire {
		e.adapter.OnRawInteraction(e.gesture.OnRawEvent)
		e.adapter.OnMovement(e.onMovement)
	}

	if e.opts.Synchronize {
		h := e.seen.Wrap(e.onEnvelope, func(env bus.Envelope) {
			e.logger.Debug("dropping duplicate envelope", zap.String("id", env.ID))
			e.opts.Recorder.Dropped(ReasonDuplicate)
		})
		sub, err := e.bus.Subscribe(ctx, e.topic, h)
		if err != nil {
			e.abortStart()
			return fmt.Errorf("subscribing to %s: %w", e.topic, err)
		}
		e.mu.Lock()
		e.sub = sub
		e.mu.Unlock()
	}

	if init, ok := e.opts.Extension.(Initializer); ok {
		if err := init.Initialize(ctx, e); err != nil {
			e.abortStart()
			return fmt.Errorf("initializing extension: %w", err)
		}
	}

	e.logger.Info("sync engine started",
		zap.Bool("synchronize", e.opts.Synchronize),
		zap.String("topic", e.topic),
		zap.Stringer("mode", e.opts.Mode),
		zap.Duration("debounce", e.emitter.window),
	)
	return nil
}

// abortStart undoes a partial Start so that it can be called again.
func (e *Engine) abortStart() {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.started = false
	e.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Warn("unsubscribing after failed start", zap.Error(err))
		}
	}
}

func (e *Engine) applyStartup() {
	s := e.opts.Startup
	if s == nil {
		return
	}
	e.adapter.SetInteraction(s.Interaction)
	e.adapter.SetZoomLimits(s.MinZoom, s.MaxZoom)

	if s.InitialBounds != nil {
		e.adapter.SetBounds(*s.InitialBounds, s.InitialBoundsOptions)
		return
	}
	if s.InitialCenter == nil && s.InitialZoom == nil {
		return
	}

	current := e.adapter.View()
	center, zoom := current.Center, current.Zoom
	if s.InitialCenter != nil {
		center = *s.InitialCenter
	}
	if s.InitialZoom != nil {
		zoom = *s.InitialZoom
	}
	e.adapter.SetCenterZoom(center, zoom)
}

// HandleEvent processes an event delivered to the endpoint. The configured
// synchronization event is applied to the view; every event is then passed to
// the extension's EventHandler.
func (e *Engine) HandleEvent(eventType string, payload []byte) {
	if e.opts.Synchronize && eventType == e.opts.EventType {
		e.applier.OnInboundEvent(payload)
	}
	if h, ok := e.opts.Extension.(EventHandler); ok {
		h.HandleEvent(eventType, payload, e.adapter)
	}
}

// Render applies a programmatic view condition. It is never broadcast.
func (e *Engine) Render(c Condition) {
	if r, ok := e.opts.Extension.(Renderer); ok {
		r.Render(c, e.adapter)
		return
	}

	switch {
	case c.Center != nil:
		zoom := e.adapter.View().Zoom
		if c.Zoom != nil {
			zoom = *c.Zoom
		}
		e.adapter.SetCenterZoom(*c.Center, zoom)
	case c.Zoom != nil:
		e.adapter.SetCenterZoom(e.adapter.View().Center, *c.Zoom)
	}
}

// OnUserMovement registers a listener for movements attributed to the user
// that are not part of a sync application.
func (e *Engine) OnUserMovement(fn func(MovementKind, view.Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Close unsubscribes from the bus and drops any pending settle subscription.
func (e *Engine) Close() error {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	e.applier.Close()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// Adapter returns the engine's view adapter.
func (e *Engine) Adapter() ViewAdapter { return e.adapter }

// Gesture returns the engine's gesture tracker.
func (e *Engine) Gesture() *GestureTracker { return e.gesture }

// Lock returns the engine's sync lock.
func (e *Engine) Lock() *SyncLock { return e.lock }

// Topic returns the bus topic the engine publishes and subscribes on.
func (e *Engine) Topic() string { return e.topic }

// EndpointID returns the origin id stamped on outbound envelopes.
func (e *Engine) EndpointID() string { return e.opts.EndpointID }

func (e *Engine) onMovement(kind MovementKind, snap view.Snapshot) {
	user := e.gesture.IsActive() && !e.lock.Ongoing()

	if e.opts.Synchronize {
		e.emitter.OnMovement(kind, snap)
	}

	if !user {
		return
	}
	e.mu.Lock()
	listeners := make([]func(MovementKind, view.Snapshot), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l(kind, snap)
	}
}

func (e *Engine) publish(state view.State) {
	payload, err := view.Encode(state)
	if err != nil {
		e.logger.Warn("encoding view event", zap.Error(err))
		return
	}

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	env := bus.NewEnvelope(e.opts.EndpointID, e.opts.EventType, payload)
	if err := e.bus.Publish(ctx, e.topic, env); err != nil {
		e.logger.Warn("publishing view event",
			zap.String("topic", e.topic),
			zap.Error(err),
		)
		e.opts.Recorder.Dropped(ReasonPublish)
	}
}

func (e *Engine) onEnvelope(env bus.Envelope) {
	if env.Origin == e.opts.EndpointID {
		e.opts.Recorder.Dropped(ReasonOwnOrigin)
		return
	}
	e.HandleEvent(env.Type, env.Payload)
}
