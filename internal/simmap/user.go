package simmap

import (
	mapsync "github.com/dgnsrekt/mapsync/internal/sync"
	"github.com/dgnsrekt/mapsync/internal/view"
)

// The methods below simulate a user. They produce the raw interaction and
// movement notifications a pointer-driven map widget produces, in the same
// order: a drag reports its settled movement before the pointer release.

// Press puts the pointer down on the map. An animation in progress stops
// where it is and settles there before the press is reported.
func (m *Map) Press() error {
	m.mu.Lock()
	if !m.interaction {
		m.mu.Unlock()
		return ErrInteractionDisabled
	}
	interrupted := m.stopAnimationLocked()
	m.pressed, m.moved = true, false
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if interrupted {
		m.settle(snap)
	}
	m.notifyRaw(mapsync.RawPress)
	return nil
}

// MoveBy pans the view by dx, dy pixels while the pointer is down. Positive dx
// moves the content right, revealing what lies west.
func (m *Map) MoveBy(dx, dy float64) error {
	m.mu.Lock()
	if !m.interaction {
		m.mu.Unlock()
		return ErrInteractionDisabled
	}
	if !m.pressed {
		m.mu.Unlock()
		return nil
	}
	c := project(m.center, float64(m.zoom))
	center := unproject(point{c.X - dx, c.Y - dy}, float64(m.zoom))
	center.Lng = wrapLng(center.Lng)
	m.center = center
	m.moved = true
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notifyMovement(mapsync.MovementInProgress, snap)
	return nil
}

// Release lifts the pointer. A press that moved the view settles first.
func (m *Map) Release() error {
	m.mu.Lock()
	if !m.interaction {
		m.mu.Unlock()
		return ErrInteractionDisabled
	}
	moved := m.pressed && m.moved
	m.pressed, m.moved = false, false
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if moved {
		m.settle(snap)
	}
	m.notifyRaw(mapsync.RawRelease)
	return nil
}

// Drag performs a complete press, move and release in steps moves.
func (m *Map) Drag(dx, dy float64, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	if err := m.Press(); err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		if err := m.MoveBy(dx/float64(steps), dy/float64(steps)); err != nil {
			return err
		}
	}
	return m.Release()
}

// Wheel zooms by delta levels around the current centre. The zoom settles
// like any other move and is followed by a release once it has.
func (m *Map) Wheel(delta int) error {
	m.mu.Lock()
	if !m.interaction {
		m.mu.Unlock()
		return ErrInteractionDisabled
	}
	center, zoom := m.center, m.zoom+delta
	animate := m.animation > 0
	m.wheeling = true
	m.mu.Unlock()

	m.notifyRaw(mapsync.RawWheel)
	m.moveTo(center, zoom, animate)
	return nil
}

// Jump moves the view by user action without a pointer, e.g. a keyboard
// shortcut. It is reported as press, settled move and release.
func (m *Map) Jump(center view.LatLng, zoom int) error {
	if err := m.Press(); err != nil {
		return err
	}
	m.moveTo(center, zoom, false)
	return m.Release()
}
