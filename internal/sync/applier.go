package sync

import (
	gosync "sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/view"
)

// ChangeApplier applies inbound view events to the local adapter while holding
// the SyncLock, releasing it when the adapter reports the view has settled.
type ChangeApplier struct {
	mode     view.SyncMode
	adapter  ViewAdapter
	gesture  *GestureTracker
	lock     *SyncLock
	recorder Recorder
	logger   *zap.Logger

	mu           gosync.Mutex
	cancelSettle func()
}

// NewChangeApplier creates an applier for adapter.
func NewChangeApplier(
	mode view.SyncMode,
	adapter ViewAdapter,
	gesture *GestureTracker,
	lock *SyncLock,
	recorder Recorder,
	logger *zap.Logger,
) *ChangeApplier {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ChangeApplier{
		mode:     mode,
		adapter:  adapter,
		gesture:  gesture,
		lock:     lock,
		recorder: recorder,
		logger:   logger,
	}
}

// OnInboundEvent applies one synchronization payload and reports whether it
// reached the adapter.
func (a *ChangeApplier) OnInboundEvent(payload []byte) bool {
	state, err := view.Decode(payload)
	if err != nil {
		a.logger.Debug("dropping malformed view event", zap.Error(err))
		a.recorder.Dropped(ReasonMalformed)
		return false
	}
	return a.Apply(state)
}

// Apply applies an already decoded state.
func (a *ChangeApplier) Apply(state view.State) bool {
	shape := state.Shape()
	if shape == view.ShapeNone {
		a.recorder.Dropped(ReasonMalformed)
		return false
	}
	if shape == view.ShapeBoth {
		if a.mode == view.ModeBounds {
			shape = view.ShapeBounds
		} else {
			shape = view.ShapeCenterZoom
		}
	}

	if a.gesture.IsActive() {
		a.logger.Debug("dropping view event during user gesture", zap.Stringer("state", state))
		a.recorder.Dropped(ReasonUserGesture)
		return false
	}

	token := a.lock.Acquire()

	// Register before issuing the call: adapters may settle synchronously.
	cancel := a.adapter.OnSettled(func() {
		if a.lock.Release(token) {
			a.logger.Debug("sync application settled", zap.String("token", string(token)))
		}
	})

	a.mu.Lock()
	prev := a.cancelSettle
	a.cancelSettle = cancel
	a.mu.Unlock()
	if prev != nil {
		prev()
	}

	switch shape {
	case view.ShapeBounds:
		a.adapter.SetBounds(*state.Bounds, view.BoundsOptions{})
	default:
		a.adapter.SetCenterZoom(*state.Center, *state.Zoom)
	}

	a.logger.Debug("applied view event",
		zap.Stringer("shape", shape),
		zap.Stringer("state", state),
		zap.String("token", string(token)),
	)
	a.recorder.Applied(shape.String())
	return true
}

// Close removes a pending settle subscription, if any.
func (a *ChangeApplier) Close() {
	a.mu.Lock()
	cancel := a.cancelSettle
	a.cancelSettle = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
