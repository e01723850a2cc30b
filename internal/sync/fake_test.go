package sync

import (
	gosync "sync"
	"time"

	"github.com/dgnsrekt/mapsync/internal/clock"
	"github.com/dgnsrekt/mapsync/internal/view"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClock() *clock.Manual { return clock.NewManual(t0) }

type centerZoomCall struct {
	Center view.LatLng
	Zoom   int
}

// fakeAdapter records calls made by the engine and lets tests fire
// notifications. With syncSettle it reports a complete movement from inside
// SetCenterZoom and SetBounds, like a widget without animation.
type fakeAdapter struct {
	syncSettle bool

	mu          gosync.Mutex
	view        view.Snapshot
	raw         []func(RawEvent)
	moves       []func(MovementKind, view.Snapshot)
	settled     map[int]func()
	nextID      int
	centerZoom  []centerZoomCall
	bounds      []view.Bounds
	boundsOpts  []view.BoundsOptions
	interaction []bool
	limits      [][2]int
}

func newFakeAdapter(syncSettle bool) *fakeAdapter {
	return &fakeAdapter{
		syncSettle: syncSettle,
		settled:    make(map[int]func()),
		view:       view.Snapshot{Center: view.LatLng{}, Zoom: 6},
	}
}

func (f *fakeAdapter) SetCenterZoom(center view.LatLng, zoom int) {
	f.mu.Lock()
	f.centerZoom = append(f.centerZoom, centerZoomCall{center, zoom})
	f.view.Center, f.view.Zoom = center, zoom
	f.mu.Unlock()
	if f.syncSettle {
		f.completeMove()
	}
}

func (f *fakeAdapter) SetBounds(b view.Bounds, opts view.BoundsOptions) {
	f.mu.Lock()
	f.bounds = append(f.bounds, b)
	f.boundsOpts = append(f.boundsOpts, opts)
	f.view.Bounds = b
	f.view.Center = b.Center()
	f.mu.Unlock()
	if f.syncSettle {
		f.completeMove()
	}
}

func (f *fakeAdapter) SetInteraction(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interaction = append(f.interaction, enabled)
}

func (f *fakeAdapter) SetZoomLimits(minZoom, maxZoom int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, [2]int{minZoom, maxZoom})
}

func (f *fakeAdapter) View() view.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeAdapter) OnRawInteraction(fn func(RawEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, fn)
}

func (f *fakeAdapter) OnMovement(fn func(MovementKind, view.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, fn)
}

func (f *fakeAdapter) OnSettled(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.settled[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.settled, id)
	}
}

func (f *fakeAdapter) fireRaw(ev RawEvent) {
	f.mu.Lock()
	fns := append([]func(RawEvent){}, f.raw...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeAdapter) fireMove(kind MovementKind, snap view.Snapshot) {
	f.mu.Lock()
	f.view = snap
	fns := append([]func(MovementKind, view.Snapshot){}, f.moves...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(kind, snap)
	}
}

// fireSettled runs and removes every pending settle subscription.
func (f *fakeAdapter) fireSettled() {
	f.mu.Lock()
	var fns []func()
	for id := 1; id <= f.nextID; id++ {
		if fn, ok := f.settled[id]; ok {
			fns = append(fns, fn)
			delete(f.settled, id)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeAdapter) completeMove() {
	snap := f.View()
	f.fireMove(MovementInProgress, snap)
	f.fireMove(MovementSettled, snap)
	f.fireSettled()
}

func (f *fakeAdapter) pendingSettles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.settled)
}

func (f *fakeAdapter) centerZoomCalls() []centerZoomCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]centerZoomCall{}, f.centerZoom...)
}

func (f *fakeAdapter) boundsCalls() []view.Bounds {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]view.Bounds{}, f.bounds...)
}

// countingRecorder counts recorder calls by reason, shape or kind.
type countingRecorder struct {
	mu         gosync.Mutex
	emitted    map[MovementKind]int
	suppressed map[string]int
	applied    map[string]int
	dropped    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		emitted:    make(map[MovementKind]int),
		suppressed: make(map[string]int),
		applied:    make(map[string]int),
		dropped:    make(map[string]int),
	}
}

func (r *countingRecorder) Emitted(kind MovementKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted[kind]++
}

func (r *countingRecorder) Suppressed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressed[reason]++
}

func (r *countingRecorder) Applied(shape string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[shape]++
}

func (r *countingRecorder) Dropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason]++
}

func (r *countingRecorder) suppressedCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed[reason]
}

func (r *countingRecorder) droppedCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[reason]
}

func (r *countingRecorder) appliedCount(shape string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied[shape]
}
