package simmap

import (
	"math"

	"github.com/dgnsrekt/mapsync/internal/view"
)

const (
	// TileSize is the edge of a map tile in pixels.
	TileSize = 256
	// MaxLatitude is the latitude limit of the Web Mercator projection.
	MaxLatitude = 85.0511287798
)

type point struct{ X, Y float64 }

func scale(zoom float64) float64 {
	return TileSize * math.Exp2(zoom)
}

// project converts ll to world pixel coordinates at zoom.
func project(ll view.LatLng, zoom float64) point {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, ll.Lat))
	sin := math.Sin(lat * math.Pi / 180)
	s := scale(zoom)
	return point{
		X: (ll.Lng + 180) / 360 * s,
		Y: (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * s,
	}
}

// unproject is the inverse of project.
func unproject(p point, zoom float64) view.LatLng {
	s := scale(zoom)
	n := math.Pi - 2*math.Pi*p.Y/s
	return view.LatLng{
		Lat: 180 / math.Pi * math.Atan(math.Sinh(n)),
		Lng: p.X/s*360 - 180,
	}
}

// boundsAt returns the geographic bounds of a width x height viewport centred
// on center at zoom.
func boundsAt(center view.LatLng, zoom, width, height int) view.Bounds {
	c := project(center, float64(zoom))
	hw, hh := float64(width)/2, float64(height)/2
	ne := unproject(point{c.X + hw, c.Y - hh}, float64(zoom))
	sw := unproject(point{c.X - hw, c.Y + hh}, float64(zoom))
	return view.NewBounds(ne.Lat, ne.Lng, sw.Lat, sw.Lng)
}

// fitBounds returns the centre and the largest integral zoom in [minZoom,
// maxZoom] at which b fits a width x height viewport.
func fitBounds(b view.Bounds, width, height, minZoom, maxZoom int) (view.LatLng, int) {
	ne := project(view.LatLng{Lat: b.North(), Lng: b.East()}, 0)
	sw := project(view.LatLng{Lat: b.South(), Lng: b.West()}, 0)
	center := unproject(point{(ne.X + sw.X) / 2, (ne.Y + sw.Y) / 2}, 0)

	dx, dy := math.Abs(ne.X-sw.X), math.Abs(sw.Y-ne.Y)
	zoom := maxZoom
	if dx > 0 || dy > 0 {
		ratio := math.Inf(1)
		if dx > 0 {
			ratio = float64(width) / dx
		}
		if dy > 0 {
			ratio = math.Min(ratio, float64(height)/dy)
		}
		zoom = int(math.Floor(math.Log2(ratio)))
	}
	return center, clampZoom(zoom, minZoom, maxZoom)
}

func clampZoom(z, minZoom, maxZoom int) int {
	if z < minZoom {
		return minZoom
	}
	if z > maxZoom {
		return maxZoom
	}
	return z
}

// wrapLng folds a longitude outside [-180, 180] back into [-180, 180).
// In-range values are returned as is.
func wrapLng(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	w := math.Mod(lng+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}
