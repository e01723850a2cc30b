package endpoint

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/bus"
	"github.com/dgnsrekt/mapsync/internal/clock"
	"github.com/dgnsrekt/mapsync/internal/config"
	"github.com/dgnsrekt/mapsync/internal/simmap"
	"github.com/dgnsrekt/mapsync/internal/view"
)

func testConfig(name string) *config.Config {
	return &config.Config{
		Name: name,
		Map: config.MapConfig{
			Tiles:           config.TilesConfig{URL: "https://tile.example.org/{z}/{x}/{y}.png"},
			Width:           800,
			Height:          600,
			Interaction:     true,
			MaxZoom:         20,
			InitialZoom:     6,
			InitialPosition: []float64{0, 0},
		},
		Sync: config.SyncConfig{
			Enabled:   true,
			Group:     "room",
			EventType: "mapmove",
			Mode:      "centerZoom",
			Debounce:  100 * time.Millisecond,
		},
		Bus: bus.Config{Kind: bus.KindMemory},
	}
}

func newTestEndpoint(t *testing.T, cfg *config.Config, b bus.Bus, clk clock.Clock) *Endpoint {
	t.Helper()
	e, err := New(context.Background(), cfg, zap.NewNop(), WithBus(b), WithClock(clk))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close() })
	return e
}

func newClock() *clock.Manual {
	return clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestEndpointsFollowDrag(t *testing.T) {
	clk := newClock()
	b := bus.NewMemory()
	display := newTestEndpoint(t, testConfig("display"), b, clk)
	monitor := newTestEndpoint(t, testConfig("monitor"), b, clk)

	require.NoError(t, display.Map().Drag(200, -100, 4))

	want := display.Map().View()
	got := monitor.Map().View()
	assert.NotEqual(t, view.LatLng{}, want.Center)
	assert.InDelta(t, want.Center.Lat, got.Center.Lat, 1e-9)
	assert.InDelta(t, want.Center.Lng, got.Center.Lng, 1e-9)
	assert.Equal(t, want.Zoom, got.Zoom)

	emitted, err := testutil.GatherAndCount(display.Registry(), "mapsync_engine_emitted_total")
	require.NoError(t, err)
	assert.Positive(t, emitted)
	assert.NotEqual(t, display.ID(), monitor.ID())
	assert.True(t, strings.HasPrefix(display.ID(), "display-"))
}

func TestStartupBoundsApplied(t *testing.T) {
	cfg := testConfig("display")
	cfg.Sync.Enabled = false
	cfg.Map.InitialBounds = [][]float64{{10, 20}, {0, 0}}

	e := newTestEndpoint(t, cfg, nil, newClock())

	center := e.Map().View().Center
	assert.InDelta(t, 10.0, center.Lng, 1e-6)
	assert.InDelta(t, 5.0, center.Lat, 0.1)
}

func TestScript(t *testing.T) {
	clk := newClock()
	b := bus.NewMemory()
	display := newTestEndpoint(t, testConfig("display"), b, clk)
	monitor := newTestEndpoint(t, testConfig("monitor"), b, clk)

	var out bytes.Buffer
	script := NewScript(display, &out)
	var slept time.Duration
	script.Sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		clk.Advance(d)
		return nil
	}

	err := script.Run(context.Background(), strings.NewReader(`
# user jumps to Paris, then the page renders elsewhere locally
jump 48.85 2.35 12
view
wait 250ms
render 10 20 5
render zoom 7
view
`))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "center=(48.850000, 2.350000) zoom=12"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "center=(10.000000, 20.000000) zoom=7"), lines[1])
	assert.Equal(t, 250*time.Millisecond, slept)

	// The monitor followed the user jump but not the local renders.
	assert.Equal(t, view.LatLng{Lat: 48.85, Lng: 2.35}, monitor.Map().View().Center)
	assert.Equal(t, 12, monitor.Map().View().Zoom)
}

func TestScriptEvent(t *testing.T) {
	clk := newClock()
	e := newTestEndpoint(t, testConfig("display"), bus.NewMemory(), clk)

	err := NewScript(e, &bytes.Buffer{}).Run(context.Background(),
		strings.NewReader(`event mapmove {"center":{"lat":1,"lng":2},"zoom":9}`))
	require.NoError(t, err)

	assert.Equal(t, view.LatLng{Lat: 1, Lng: 2}, e.Map().View().Center)
	assert.Equal(t, 9, e.Map().View().Zoom)
}

func TestScriptErrors(t *testing.T) {
	e := newTestEndpoint(t, testConfig("display"), bus.NewMemory(), newClock())

	tests := []struct {
		script string
		want   string
	}{
		{"fly 1 2", `script line 1 "fly 1 2": unknown action "fly"`},
		{"\n\ndrag 1", "script line 3"},
		{"zoom in", "invalid zoom delta"},
		{"jump a 1 2", `invalid number "a"`},
		{"render 1", "usage: render"},
		{"wait soon", "invalid duration"},
		{"interaction maybe", "usage: interaction on|off"},
		{"event mapmove", "usage: event"},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			err := NewScript(e, &bytes.Buffer{}).Run(context.Background(), strings.NewReader(tt.script))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScriptInteractionOff(t *testing.T) {
	e := newTestEndpoint(t, testConfig("display"), bus.NewMemory(), newClock())

	err := NewScript(e, &bytes.Buffer{}).Run(context.Background(), strings.NewReader("interaction off\ndrag 10 0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, simmap.ErrInteractionDisabled))
}

func TestScriptCancelled(t *testing.T) {
	e := newTestEndpoint(t, testConfig("display"), bus.NewMemory(), newClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewScript(e, &bytes.Buffer{}).Run(ctx, strings.NewReader("view"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunScriptFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tour.txt")
	require.NoError(t, os.WriteFile(path, []byte("zoom 2\n"), 0o644))

	cfg := testConfig("display")
	cfg.Script.Path = path

	e, err := New(context.Background(), cfg, zap.NewNop(), WithClock(newClock()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, 8, e.Map().View().Zoom)
}

func TestRunMissingScript(t *testing.T) {
	cfg := testConfig("display")
	cfg.Script.Path = filepath.Join(t.TempDir(), "missing.txt")

	e, err := New(context.Background(), cfg, zap.NewNop(), WithBus(bus.NewMemory()), WithClock(newClock()))
	require.NoError(t, err)
	assert.ErrorContains(t, e.Run(context.Background()), "opening script")
}

func TestNewRejectsUnknownBus(t *testing.T) {
	cfg := testConfig("display")
	cfg.Bus.Kind = "carrier-pigeon"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrUnknownKind)
}
