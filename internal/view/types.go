package view

import (
	"fmt"
	"math"
)

// LatLng is a geographic position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lng)
}

func (p LatLng) finite() bool {
	return isFinite(p.Lat) && isFinite(p.Lng)
}

// Bounds is a rectangular area encoded as [[north, east], [south, west]].
type Bounds [2][2]float64

// NewBounds builds bounds from its four edges.
func NewBounds(north, east, south, west float64) Bounds {
	return Bounds{{north, east}, {south, west}}
}

func (b Bounds) North() float64 { return b[0][0] }
func (b Bounds) East() float64  { return b[0][1] }
func (b Bounds) South() float64 { return b[1][0] }
func (b Bounds) West() float64  { return b[1][1] }

// Center returns the midpoint of the bounds.
func (b Bounds) Center() LatLng {
	return LatLng{
		Lat: (b.North() + b.South()) / 2,
		Lng: (b.East() + b.West()) / 2,
	}
}

func (b Bounds) finite() bool {
	return isFinite(b[0][0]) && isFinite(b[0][1]) && isFinite(b[1][0]) && isFinite(b[1][1])
}

func (b Bounds) String() string {
	return fmt.Sprintf("[[%.6f, %.6f], [%.6f, %.6f]]", b[0][0], b[0][1], b[1][0], b[1][1])
}

// BoundsOptions tunes how an adapter fits a view to bounds.
type BoundsOptions struct {
	Animate bool `json:"animate" mapstructure:"animate"`
}

// SyncMode selects which payload shape an endpoint group exchanges.
type SyncMode int

const (
	ModeCenterZoom SyncMode = iota
	ModeBounds
)

func (m SyncMode) String() string {
	switch m {
	case ModeCenterZoom:
		return "centerZoom"
	case ModeBounds:
		return "bounds"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// ParseSyncMode parses the configuration spelling of a SyncMode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "centerZoom", "centerzoom", "center_zoom", "":
		return ModeCenterZoom, nil
	case "bounds":
		return ModeBounds, nil
	default:
		return ModeCenterZoom, fmt.Errorf("invalid sync mode %q (must be 'centerZoom' or 'bounds')", s)
	}
}

// Snapshot is the view an adapter reports alongside a movement notification.
// Both representations are filled in; the emitter picks one per SyncMode.
type Snapshot struct {
	Center LatLng
	Zoom   int
	Bounds Bounds
}

// State builds the synchronization payload for mode.
func (s Snapshot) State(mode SyncMode) State {
	if mode == ModeBounds {
		return BoundsState(s.Bounds)
	}
	return CenterZoomState(s.Center, s.Zoom)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
