package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/view"
)

// Config is the configuration of one map endpoint.
type Config struct {
	// Name is the endpoint role, e.g. "display" or "monitor". It is used as
	// the endpoint id on the bus.
	Name    string        `mapstructure:"name"`
	Map     MapConfig     `mapstructure:"map"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Bus     bus.Config    `mapstructure:"bus"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Script  ScriptConfig  `mapstructure:"script"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MapConfig struct {
	Tiles                TilesConfig        `mapstructure:"tiles"`
	Width                int                `mapstructure:"width"`
	Height               int                `mapstructure:"height"`
	Interaction          bool               `mapstructure:"interaction"`
	MinZoom              int                `mapstructure:"min_zoom"`
	MaxZoom              int                `mapstructure:"max_zoom"`
	InitialZoom          int                `mapstructure:"initial_zoom"`
	InitialPosition      []float64          `mapstructure:"initial_position"`
	InitialBounds        [][]float64        `mapstructure:"initial_bounds"`
	InitialBoundsOptions view.BoundsOptions `mapstructure:"initial_bounds_options"`
	Animation            time.Duration      `mapstructure:"animation"`
	Frames               int                `mapstructure:"frames"`
}

type TilesConfig struct {
	URL         string `mapstructure:"url"`
	Attribution string `mapstructure:"attribution"`
}

type SyncConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Group      string        `mapstructure:"group"`
	EventType  string        `mapstructure:"event_type"`
	Mode       string        `mapstructure:"mode"`
	Debounce   time.Duration `mapstructure:"debounce"`
	WheelTick  time.Duration `mapstructure:"wheel_tick"`
	WheelGrace time.Duration `mapstructure:"wheel_grace"`
	DedupeSize int           `mapstructure:"dedupe_size"`
}

type MetricsConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Address            string `mapstructure:"address"`
	GoroutineThreshold int    `mapstructure:"goroutine_threshold"`
}

// ScriptConfig points at a file of simulated user actions run after start.
type ScriptConfig struct {
	Path string `mapstructure:"path"`
	// Linger keeps the endpoint running after the script ends.
	Linger bool `mapstructure:"linger"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("name", "map")
	v.SetDefault("map.tiles.url", "")
	v.SetDefault("map.tiles.attribution", "")
	v.SetDefault("map.width", 800)
	v.SetDefault("map.height", 600)
	v.SetDefault("map.interaction", true)
	v.SetDefault("map.min_zoom", 0)
	v.SetDefault("map.max_zoom", 20)
	v.SetDefault("map.initial_zoom", 6)
	v.SetDefault("map.initial_position", []float64{0, 0})
	v.SetDefault("map.animation", "0s")
	v.SetDefault("map.frames", 4)
	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.group", "default")
	v.SetDefault("sync.event_type", "mapmove")
	v.SetDefault("sync.mode", "centerZoom")
	v.SetDefault("sync.debounce", "100ms")
	v.SetDefault("sync.wheel_tick", "0s")
	v.SetDefault("sync.wheel_grace", "0s")
	v.SetDefault("sync.dedupe_size", 256)
	v.SetDefault("bus.kind", bus.KindMemory)
	v.SetDefault("bus.url", "")
	v.SetDefault("bus.api_key", "")
	v.SetDefault("bus.protocol", "")
	v.SetDefault("bus.topic_prefix", "mapsync")
	v.SetDefault("bus.qos", 1)
	v.SetDefault("bus.connect_timeout", "10s")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("metrics.goroutine_threshold", 10000)
	v.SetDefault("script.path", "")
	v.SetDefault("script.linger", false)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("MAPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("bus.api_key", "MAPSYNC_API_KEY")
	_ = v.BindEnv("map.tiles.url", "MAPSYNC_TILES_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("mapsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SyncMode returns the parsed sync.mode. Validate has already rejected
// unknown spellings.
func (c *Config) SyncMode() view.SyncMode {
	mode, _ := view.ParseSyncMode(c.Sync.Mode)
	return mode
}

// InitialCenter returns map.initial_position as a LatLng.
func (c *Config) InitialCenter() view.LatLng {
	if len(c.Map.InitialPosition) != 2 {
		return view.LatLng{}
	}
	return view.LatLng{Lat: c.Map.InitialPosition[0], Lng: c.Map.InitialPosition[1]}
}

// InitialBounds returns map.initial_bounds, or nil when none is configured.
func (c *Config) InitialBounds() *view.Bounds {
	if len(c.Map.InitialBounds) != 2 || len(c.Map.InitialBounds[0]) != 2 || len(c.Map.InitialBounds[1]) != 2 {
		return nil
	}
	b := view.NewBounds(
		c.Map.InitialBounds[0][0], c.Map.InitialBounds[0][1],
		c.Map.InitialBounds[1][0], c.Map.InitialBounds[1][1],
	)
	return &b
}
