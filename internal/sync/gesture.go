package sync

import (
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/clock"
)

const (
	// DefaultWheelTick is how far a release is deferred past the end of a wheel
	// zoom, so the trailing movement notifications of that zoom still count as
	// the user's.
	DefaultWheelTick = time.Millisecond

	// DefaultWheelGrace returns the tracker to idle when wheel ticks stop and no
	// release ever arrives.
	DefaultWheelGrace = time.Second
)

// GestureState is the two-state model of "is the user's hand on the map".
type GestureState int

const (
	GestureIdle GestureState = iota
	GestureActive
)

func (s GestureState) String() string {
	if s == GestureActive {
		return "active"
	}
	return "idle"
}

// GestureTracker classifies the endpoint's current motion as user-driven or not.
// Dragging, pinching and wheel zooming all collapse into GestureActive.
type GestureTracker struct {
	clock  clock.Clock
	tick   time.Duration
	grace  time.Duration
	logger *zap.Logger

	mu      gosync.Mutex
	state   GestureState
	wheel   bool
	gen     uint64
	pending clock.Timer
}

// NewGestureTracker creates an idle tracker. A zero tick falls back to
// DefaultWheelTick; a zero grace disables the wheel grace timer.
func NewGestureTracker(clk clock.Clock, tick, grace time.Duration, logger *zap.Logger) *GestureTracker {
	if tick <= 0 {
		tick = DefaultWheelTick
	}
	return &GestureTracker{
		clock:  clk,
		tick:   tick,
		grace:  grace,
		logger: logger,
	}
}

// OnRawEvent advances the state machine for one raw interaction notification.
func (g *GestureTracker) OnRawEvent(kind RawEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch kind {
	case RawPress:
		g.cancelPending()
		g.setState(GestureActive)

	case RawWheel:
		g.cancelPending()
		g.wheel = true
		g.setState(GestureActive)
		if g.grace > 0 {
			g.schedule(g.grace, "wheel grace expired")
		}

	case RawRelease:
		g.cancelPending()
		if g.wheel {
			g.schedule(g.tick, "wheel release")
			return
		}
		g.setState(GestureIdle)
	}
}

// IsActive reports whether a user gesture is in progress.
func (g *GestureTracker) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GestureActive
}

// State returns the current gesture state.
func (g *GestureTracker) State() GestureState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// schedule arms a deferred transition to idle. Caller holds mu.
func (g *GestureTracker) schedule(d time.Duration, reason string) {
	g.gen++
	gen := g.gen
	g.pending = g.clock.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		// A newer event superseded this timer after it had already fired.
		if gen != g.gen {
			return
		}
		g.pending = nil
		g.wheel = false
		g.logger.Debug("deferred gesture end", zap.String("reason", reason))
		g.setState(GestureIdle)
	})
}

// cancelPending drops any deferred transition. Caller holds mu.
func (g *GestureTracker) cancelPending() {
	g.gen++
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}

func (g *GestureTracker) setState(s GestureState) {
	if g.state == s {
		return
	}
	g.state = s
	g.logger.Debug("gesture state changed", zap.Stringer("state", s))
}
