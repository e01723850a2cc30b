package simmap

import (
	"math"
	"strconv"
	"strings"

	"github.com/dgnsrekt/mapsync/internal/view"
)

// Tile addresses one slippy-map tile.
type Tile struct {
	X, Y, Z int
}

// URL expands a "{z}/{x}/{y}" style template. "{s}" is replaced with a
// subdomain chosen from the tile coordinates.
func (t Tile) URL(template string) string {
	sub := string(rune('a' + (t.X+t.Y)%3))
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{s}", sub,
	).Replace(template)
}

// tilesFor lists the tiles covering a width x height viewport centred on
// center at zoom.
func tilesFor(center view.LatLng, zoom, width, height int) []Tile {
	c := project(center, float64(zoom))
	n := 1 << zoom
	hw, hh := float64(width)/2, float64(height)/2

	x0 := int(math.Floor((c.X - hw) / TileSize))
	x1 := int(math.Floor((c.X + hw - 1) / TileSize))
	if x1-x0 >= n {
		x1 = x0 + n - 1
	}
	y0 := max(0, int(math.Floor((c.Y-hh)/TileSize)))
	y1 := min(n-1, int(math.Floor((c.Y+hh-1)/TileSize)))

	var tiles []Tile
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			tiles = append(tiles, Tile{X: ((x % n) + n) % n, Y: y, Z: zoom})
		}
	}
	return tiles
}
