// Package simmap is a headless map widget. It keeps a Web Mercator viewport,
// animates programmatic moves with a clock and reports movements the way an
// interactive map does, so an endpoint can run without a browser.
package simmap

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dgnsrekt/mapsync/internal/clock"
	mapsync "github.com/dgnsrekt/mapsync/internal/sync"
	"github.com/dgnsrekt/mapsync/internal/view"
)

// ErrInteractionDisabled is returned by user simulation calls when
// interaction has been turned off.
var ErrInteractionDisabled = errors.New("map interaction disabled")

const (
	DefaultWidth  = 800
	DefaultHeight = 600
	DefaultFrames = 4
)

// Options configures a Map.
type Options struct {
	Width  int
	Height int
	// Animation is the duration of programmatic moves. Zero settles them
	// synchronously.
	Animation time.Duration
	// Frames is the number of in-progress notifications of an animated move.
	Frames  int
	Center  view.LatLng
	Zoom    int
	MinZoom int
	MaxZoom int
	Clock   clock.Clock
}

// Map implements sync.ViewAdapter.
type Map struct {
	width, height int
	animation     time.Duration
	frames        int
	clock         clock.Clock

	mu          sync.Mutex
	center      view.LatLng
	zoom        int
	minZoom     int
	maxZoom     int
	interaction bool
	pressed     bool
	moved       bool
	animGen     uint64
	animTimer   clock.Timer
	wheeling    bool

	raw     []func(mapsync.RawEvent)
	moves   []func(mapsync.MovementKind, view.Snapshot)
	settled map[uint64]func()
	nextSub uint64
}

var _ mapsync.ViewAdapter = (*Map)(nil)

// New creates a map showing opts.Center at opts.Zoom.
func New(opts Options) *Map {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Frames <= 0 {
		opts.Frames = DefaultFrames
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.MaxZoom == 0 && opts.MinZoom == 0 {
		opts.MaxZoom = 20
	}
	return &Map{
		width:       opts.Width,
		height:      opts.Height,
		animation:   opts.Animation,
		frames:      opts.Frames,
		clock:       opts.Clock,
		center:      opts.Center,
		zoom:        clampZoom(opts.Zoom, opts.MinZoom, opts.MaxZoom),
		minZoom:     opts.MinZoom,
		maxZoom:     opts.MaxZoom,
		interaction: true,
		settled:     make(map[uint64]func()),
	}
}

// View returns the current view.
func (m *Map) View() view.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Map) snapshotLocked() view.Snapshot {
	return view.Snapshot{
		Center: m.center,
		Zoom:   m.zoom,
		Bounds: boundsAt(m.center, m.zoom, m.width, m.height),
	}
}

// Tiles lists the tiles covering the current view.
func (m *Map) Tiles() []Tile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tilesFor(m.center, m.zoom, m.width, m.height)
}

// Interaction reports whether user interaction is enabled.
func (m *Map) Interaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interaction
}

func (m *Map) SetCenterZoom(center view.LatLng, zoom int) {
	m.moveTo(center, zoom, m.animation > 0)
}

func (m *Map) SetBounds(b view.Bounds, opts view.BoundsOptions) {
	m.mu.Lock()
	minZoom, maxZoom := m.minZoom, m.maxZoom
	m.mu.Unlock()

	center, zoom := fitBounds(b, m.width, m.height, minZoom, maxZoom)
	m.moveTo(center, zoom, opts.Animate && m.animation > 0)
}

// SetInteraction turns every user interaction on or off. Turning it off
// abandons a press in progress without a release.
func (m *Map) SetInteraction(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interaction = enabled
	if !enabled {
		m.pressed, m.moved = false, false
	}
}

// SetZoomLimits sets the zoom range and moves the view into it if needed.
func (m *Map) SetZoomLimits(minZoom, maxZoom int) {
	m.mu.Lock()
	m.minZoom, m.maxZoom = minZoom, maxZoom
	center, zoom := m.center, m.zoom
	clamped := clampZoom(zoom, minZoom, maxZoom)
	m.mu.Unlock()

	if clamped != zoom {
		m.moveTo(center, clamped, false)
	}
}

func (m *Map) OnRawInteraction(fn func(mapsync.RawEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, fn)
}

func (m *Map) OnMovement(fn func(mapsync.MovementKind, view.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, fn)
}

// OnSettled registers fn for the next settled movement only.
func (m *Map) OnSettled(fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.settled[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.settled, id)
	}
}

// SettleSubscribers returns the number of pending settle subscriptions.
func (m *Map) SettleSubscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.settled)
}

// moveTo changes the view, either at once or as an animation. A new move
// supersedes an animation in progress: the superseded move does not settle on
// its own, and pending settle subscriptions fire when the new move settles.
func (m *Map) moveTo(center view.LatLng, zoom int, animate bool) {
	m.mu.Lock()
	zoom = clampZoom(zoom, m.minZoom, m.maxZoom)
	center.Lng = wrapLng(center.Lng)
	m.stopAnimationLocked()

	if !animate {
		m.center, m.zoom = center, zoom
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.notifyMovement(mapsync.MovementInProgress, snap)
		m.settle(snap)
		return
	}

	m.animGen++
	gen := m.animGen
	from, fromZoom := m.center, m.zoom
	m.mu.Unlock()

	m.animateFrame(gen, 1, from, fromZoom, center, zoom)
}

// stopAnimationLocked cancels the animation in progress, if any, and reports
// whether there was one.
func (m *Map) stopAnimationLocked() bool {
	running := m.animTimer != nil
	if running {
		m.animTimer.Stop()
		m.animTimer = nil
	}
	m.animGen++
	return running
}

func (m *Map) animateFrame(gen uint64, frame int, from view.LatLng, fromZoom int, to view.LatLng, toZoom int) {
	step := m.animation / time.Duration(m.frames)

	m.mu.Lock()
	if gen != m.animGen {
		m.mu.Unlock()
		return
	}
	m.animTimer = m.clock.AfterFunc(step, func() {
		m.mu.Lock()
		if gen != m.animGen {
			m.mu.Unlock()
			return
		}
		m.animTimer = nil
		t := float64(frame) / float64(m.frames)
		m.center = view.LatLng{
			Lat: from.Lat + (to.Lat-from.Lat)*t,
			Lng: from.Lng + (to.Lng-from.Lng)*t,
		}
		m.zoom = int(math.Round(float64(fromZoom) + float64(toZoom-fromZoom)*t))
		done := frame >= m.frames
		if done {
			m.center, m.zoom = to, toZoom
		}
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.notifyMovement(mapsync.MovementInProgress, snap)
		if done {
			m.settle(snap)
			return
		}
		m.animateFrame(gen, frame+1, from, fromZoom, to, toZoom)
	})
	m.mu.Unlock()
}

// settle reports a settled movement to the movement listeners, then fires and
// removes the pending settle subscriptions. A settled wheel zoom ends with a
// release.
func (m *Map) settle(snap view.Snapshot) {
	m.notifyMovement(mapsync.MovementSettled, snap)

	m.mu.Lock()
	wheeling := m.wheeling
	m.wheeling = false
	subs := make([]uint64, 0, len(m.settled))
	for id := range m.settled {
		subs = append(subs, id)
	}
	fns := make([]func(), 0, len(subs))
	slices.Sort(subs)
	for _, id := range subs {
		fns = append(fns, m.settled[id])
		delete(m.settled, id)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if wheeling {
		m.notifyRaw(mapsync.RawRelease)
	}
}

func (m *Map) notifyMovement(kind mapsync.MovementKind, snap view.Snapshot) {
	m.mu.Lock()
	fns := append([]func(mapsync.MovementKind, view.Snapshot){}, m.moves...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(kind, snap)
	}
}

func (m *Map) notifyRaw(ev mapsync.RawEvent) {
	m.mu.Lock()
	fns := append([]func(mapsync.RawEvent){}, m.raw...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
