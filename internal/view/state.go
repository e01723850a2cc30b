package view

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// ErrMalformed is returned when a payload carries neither a complete
// center+zoom pair nor bounds.
var ErrMalformed = errors.New("malformed view payload")

// MaxZoom is the largest zoom level a payload may carry.
const MaxZoom = 30

// Shape classifies which representation a State carries.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeCenterZoom
	ShapeBounds
	ShapeBoth
)

func (s Shape) String() string {
	switch s {
	case ShapeCenterZoom:
		return "centerZoom"
	case ShapeBounds:
		return "bounds"
	case ShapeBoth:
		return "both"
	default:
		return "none"
	}
}

// State is the synchronization payload exchanged over the bus:
// {"center": {"lat", "lng"}, "zoom": int} or {"bounds": [[n, e], [s, w]]}.
type State struct {
	Center *LatLng `json:"center,omitempty"`
	Zoom   *int    `json:"zoom,omitempty"`
	Bounds *Bounds `json:"bounds,omitempty"`
}

// CenterZoomState builds a center+zoom payload.
func CenterZoomState(center LatLng, zoom int) State {
	return State{Center: &center, Zoom: &zoom}
}

// BoundsState builds a bounds payload.
func BoundsState(b Bounds) State {
	return State{Bounds: &b}
}

// Shape reports which representations are complete in s.
func (s State) Shape() Shape {
	cz := s.Center != nil && s.Zoom != nil
	b := s.Bounds != nil
	switch {
	case cz && b:
		return ShapeBoth
	case cz:
		return ShapeCenterZoom
	case b:
		return ShapeBounds
	default:
		return ShapeNone
	}
}

func (s State) String() string {
	switch s.Shape() {
	case ShapeCenterZoom:
		return fmt.Sprintf("center=%s zoom=%d", s.Center, *s.Zoom)
	case ShapeBounds:
		return "bounds=" + s.Bounds.String()
	case ShapeBoth:
		return fmt.Sprintf("center=%s zoom=%d bounds=%s", s.Center, *s.Zoom, s.Bounds)
	default:
		return "empty"
	}
}

// wireState mirrors State with a float zoom so that integral values written
// as 5.0 by foreign encoders are still accepted.
type wireState struct {
	Center *LatLng      `json:"center"`
	Zoom   *float64     `json:"zoom"`
	Bounds *[][]float64 `json:"bounds"`
}

// Decode parses a synchronization payload. Anything that does not carry a
// complete, finite center+zoom pair or a complete, finite bounds array yields
// ErrMalformed.
func Decode(data []byte) (State, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var s State

	if w.Center != nil || w.Zoom != nil {
		if w.Center == nil || w.Zoom == nil {
			return State{}, fmt.Errorf("%w: center and zoom must be sent together", ErrMalformed)
		}
		if !w.Center.finite() {
			return State{}, fmt.Errorf("%w: center is not finite", ErrMalformed)
		}
		z := *w.Zoom
		if !isFinite(z) || z != math.Trunc(z) {
			return State{}, fmt.Errorf("%w: zoom %v is not an integer", ErrMalformed, z)
		}
		if z < 0 || z > MaxZoom {
			return State{}, fmt.Errorf("%w: zoom %v outside 0..%d", ErrMalformed, z, MaxZoom)
		}
		s = CenterZoomState(*w.Center, int(z))
	}

	if w.Bounds != nil {
		rows := *w.Bounds
		if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 2 {
			return State{}, fmt.Errorf("%w: bounds must be [[north, east], [south, west]]", ErrMalformed)
		}
		b := NewBounds(rows[0][0], rows[0][1], rows[1][0], rows[1][1])
		if !b.finite() {
			return State{}, fmt.Errorf("%w: bounds are not finite", ErrMalformed)
		}
		s.Bounds = &b
	}

	if s.Shape() == ShapeNone {
		return State{}, fmt.Errorf("%w: neither center+zoom nor bounds present", ErrMalformed)
	}
	return s, nil
}

// Encode serializes a payload. An empty state is rejected so that nothing
// malformed is ever published.
func Encode(s State) ([]byte, error) {
	if s.Shape() == ShapeNone {
		return nil, ErrMalformed
	}
	return json.Marshal(s)
}
