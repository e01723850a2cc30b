package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/view"
)

// ErrMissingTiles is reported when no tile source is configured. A map
// without tiles cannot be shown, so it is never a warning.
var ErrMissingTiles = errors.New("map.tiles.url is required")

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	MissingTiles bool
	Problems     []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return e.MissingTiles || len(e.Problems) > 0
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	if e.MissingTiles {
		sb.WriteString(fmt.Sprintf("  - %s (set MAPSYNC_TILES_URL env var)\n", ErrMissingTiles))
	}
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrMissingTiles) hold when the tile source is missing.
func (e *ValidationErrors) Is(target error) bool {
	return target == ErrMissingTiles && e.MissingTiles
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if strings.TrimSpace(c.Map.Tiles.URL) == "" {
		errs.MissingTiles = true
	}
	if c.Name == "" {
		errs.add("name must not be empty")
	}
	validateMap(errs, c.Map)
	validateSync(errs, c.Sync)
	if c.Sync.Enabled {
		validateBus(errs, c.Bus)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs.add("metrics.address is required when metrics are enabled")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateMap(errs *ValidationErrors, m MapConfig) {
	if m.Width < 1 || m.Height < 1 {
		errs.add("map size must be positive, got %dx%d", m.Width, m.Height)
	}
	if m.MinZoom < 0 {
		errs.add("map.min_zoom must be >= 0, got %d", m.MinZoom)
	}
	if m.MaxZoom < m.MinZoom {
		errs.add("map.max_zoom (%d) must be >= map.min_zoom (%d)", m.MaxZoom, m.MinZoom)
	}
	if m.InitialZoom < 0 {
		errs.add("map.initial_zoom must be >= 0, got %d", m.InitialZoom)
	}
	if n := len(m.InitialPosition); n != 0 && n != 2 {
		errs.add("map.initial_position must be [lat, lng], got %d values", n)
	}
	if len(m.InitialBounds) > 0 {
		if len(m.InitialBounds) != 2 || len(m.InitialBounds[0]) != 2 || len(m.InitialBounds[1]) != 2 {
			errs.add("map.initial_bounds must be [[north, east], [south, west]]")
		}
	}
	if m.Animation < 0 {
		errs.add("map.animation must not be negative")
	}
}

func validateSync(errs *ValidationErrors, s SyncConfig) {
	if _, err := view.ParseSyncMode(s.Mode); err != nil {
		errs.add("sync.mode: %v", err)
	}
	if s.Debounce < 0 {
		errs.add("sync.debounce must not be negative")
	}
	if !s.Enabled {
		return
	}
	if s.EventType == "" {
		errs.add("sync.event_type is required when sync is enabled")
	}
	if s.Group == "" || strings.HasSuffix(s.Group, "/") {
		errs.add("sync.group %q is not a valid group name", s.Group)
	}
	if strings.Contains(s.EventType, "/") {
		errs.add("sync.event_type %q must not contain '/'", s.EventType)
	}
}

func validateBus(errs *ValidationErrors, b bus.Config) {
	switch b.Kind {
	case bus.KindMemory:
	case bus.KindWebSocket, bus.KindMQTT, bus.KindRedis:
		if b.URL == "" {
			errs.add("bus.url is required for the %s bus", b.Kind)
		}
	default:
		errs.add("invalid bus.kind: %q (must be one of %s)", b.Kind,
			strings.Join([]string{bus.KindMemory, bus.KindWebSocket, bus.KindMQTT, bus.KindRedis}, ", "))
	}
	if b.QoS > 2 {
		errs.add("bus.qos must be 0, 1 or 2, got %d", b.QoS)
	}
}
