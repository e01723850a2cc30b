package sync

import (
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/mapsync/internal/clock"
	"github.com/dgnsrekt/mapsync/internal/view"
)

// DefaultDebounceWindow is the minimum spacing of in-progress emissions.
const DefaultDebounceWindow = 100 * time.Millisecond

// ChangeEmitter turns movement notifications into at most one outbound payload
// each. Movement caused by a sync application, or not attributable to the user,
// is suppressed; in-progress movement is throttled to one emission per window,
// while the settled position is always emitted.
type ChangeEmitter struct {
	mode     view.SyncMode
	gesture  *GestureTracker
	lock     *SyncLock
	clock    clock.Clock
	window   time.Duration
	sink     func(view.State)
	recorder Recorder
	logger   *zap.Logger

	mu      gosync.Mutex
	limiter *rate.Limiter
}

// NewChangeEmitter creates an emitter that hands emitted payloads to sink.
func NewChangeEmitter(
	mode view.SyncMode,
	gesture *GestureTracker,
	lock *SyncLock,
	clk clock.Clock,
	window time.Duration,
	sink func(view.State),
	recorder Recorder,
	logger *zap.Logger,
) *ChangeEmitter {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ChangeEmitter{
		mode:     mode,
		gesture:  gesture,
		lock:     lock,
		clock:    clk,
		window:   window,
		sink:     sink,
		recorder: recorder,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(window), 1),
	}
}

// OnMovement handles one movement notification and reports whether a payload
// was emitted.
func (e *ChangeEmitter) OnMovement(kind MovementKind, snap view.Snapshot) bool {
	if e.lock.Ongoing() {
		e.suppress(kind, ReasonSyncOngoing)
		return false
	}
	if !e.gesture.IsActive() {
		e.suppress(kind, ReasonNoGesture)
		return false
	}

	now := e.clock.Now()

	e.mu.Lock()
	if kind == MovementSettled {
		// The settled position always goes out and opens a fresh window.
		e.limiter = rate.NewLimiter(rate.Every(e.window), 1)
		e.limiter.AllowN(now, 1)
	} else if !e.limiter.AllowN(now, 1) {
		e.mu.Unlock()
		e.suppress(kind, ReasonDebounced)
		return false
	}
	e.mu.Unlock()

	state := snap.State(e.mode)
	e.logger.Debug("emitting view change",
		zap.Stringer("kind", kind),
		zap.Stringer("state", state),
	)
	e.recorder.Emitted(kind)
	e.sink(state)
	return true
}

func (e *ChangeEmitter) suppress(kind MovementKind, reason string) {
	e.logger.Debug("movement suppressed",
		zap.Stringer("kind", kind),
		zap.String("reason", reason),
	)
	e.recorder.Suppressed(reason)
}
