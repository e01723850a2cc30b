package sync

import "github.com/dgnsrekt/mapsync/internal/view"

// RawEvent is a low-level interaction notification from the map widget.
type RawEvent int

const (
	// RawPress covers mouse down and touch start.
	RawPress RawEvent = iota
	// RawWheel is a single scroll wheel tick.
	RawWheel
	// RawRelease covers mouse up, touch end and the end of a wheel zoom.
	RawRelease
)

func (e RawEvent) String() string {
	switch e {
	case RawPress:
		return "press"
	case RawWheel:
		return "wheel"
	case RawRelease:
		return "release"
	default:
		return "unknown"
	}
}

// MovementKind distinguishes movement still in progress from a settled view.
type MovementKind int

const (
	MovementInProgress MovementKind = iota
	MovementSettled
)

func (k MovementKind) String() string {
	if k == MovementSettled {
		return "settled"
	}
	return "inProgress"
}

// ViewAdapter is the narrow surface of the mapping widget the engine drives.
//
// Implementations may deliver notifications synchronously from inside
// SetCenterZoom and SetBounds; the engine never holds a lock while calling them.
type ViewAdapter interface {
	SetCenterZoom(center view.LatLng, zoom int)
	SetBounds(bounds view.Bounds, opts view.BoundsOptions)
	SetInteraction(enabled bool)
	SetZoomLimits(min, max int)

	// View returns the current view without notifying anyone.
	View() view.Snapshot

	OnRawInteraction(func(RawEvent))
	OnMovement(func(MovementKind, view.Snapshot))

	// OnSettled registers a one-shot callback for the next settle notification.
	// The returned func removes the callback if it has not fired yet and is a
	// no-op afterwards.
	OnSettled(func()) (cancel func())
}
