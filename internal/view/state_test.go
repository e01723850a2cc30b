package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCenterZoom(t *testing.T) {
	s, err := Decode([]byte(`{"center":{"lat":10,"lng":20},"zoom":5}`))
	require.NoError(t, err)
	require.Equal(t, ShapeCenterZoom, s.Shape())
	assert.Equal(t, LatLng{Lat: 10, Lng: 20}, *s.Center)
	assert.Equal(t, 5, *s.Zoom)
}

func TestDecodeAcceptsZoomZeroAndIntegralFloat(t *testing.T) {
	s, err := Decode([]byte(`{"center":{"lat":0,"lng":0},"zoom":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, *s.Zoom)

	s, err = Decode([]byte(`{"center":{"lat":1,"lng":2},"zoom":7.0}`))
	require.NoError(t, err)
	assert.Equal(t, 7, *s.Zoom)

	s, err = Decode([]byte(`{"center":{"lat":1,"lng":2},"zoom":30}`))
	require.NoError(t, err)
	assert.Equal(t, MaxZoom, *s.Zoom)
}

func TestDecodeBounds(t *testing.T) {
	s, err := Decode([]byte(`{"bounds":[[52.6,13.8],[52.3,13.1]]}`))
	require.NoError(t, err)
	require.Equal(t, ShapeBounds, s.Shape())
	assert.Equal(t, 52.6, s.Bounds.North())
	assert.Equal(t, 13.8, s.Bounds.East())
	assert.Equal(t, 52.3, s.Bounds.South())
	assert.Equal(t, 13.1, s.Bounds.West())
}

func TestDecodeBothShapes(t *testing.T) {
	s, err := Decode([]byte(`{"center":{"lat":1,"lng":2},"zoom":3,"bounds":[[2,3],[0,1]]}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeBoth, s.Shape())
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty object":      `{}`,
		"null":              `null`,
		"not json":          `{"center":`,
		"center only":       `{"center":{"lat":1,"lng":2}}`,
		"zoom only":         `{"zoom":4}`,
		"fractional zoom":   `{"center":{"lat":1,"lng":2},"zoom":4.5}`,
		"huge zoom":         `{"center":{"lat":1,"lng":2},"zoom":1e300}`,
		"zoom above max":    `{"center":{"lat":1,"lng":2},"zoom":31}`,
		"negative zoom":     `{"center":{"lat":1,"lng":2},"zoom":-1}`,
		"short bounds":      `{"bounds":[[1,2]]}`,
		"ragged bounds":     `{"bounds":[[1,2],[3]]}`,
		"unrelated payload": `{"foo":"bar"}`,
		"string payload":    `"mapmove"`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeMatchesWireShape(t *testing.T) {
	data, err := Encode(CenterZoomState(LatLng{Lat: 10, Lng: 20}, 5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"center":{"lat":10,"lng":20},"zoom":5}`, string(data))

	data, err = Encode(BoundsState(NewBounds(4, 3, 2, 1)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bounds":[[4,3],[2,1]]}`, string(data))

	_, err = Encode(State{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSnapshotStateFollowsMode(t *testing.T) {
	snap := Snapshot{
		Center: LatLng{Lat: 1, Lng: 2},
		Zoom:   9,
		Bounds: NewBounds(2, 3, 0, 1),
	}

	assert.Equal(t, ShapeCenterZoom, snap.State(ModeCenterZoom).Shape())
	assert.Equal(t, ShapeBounds, snap.State(ModeBounds).Shape())
}

func TestParseSyncMode(t *testing.T) {
	m, err := ParseSyncMode("bounds")
	require.NoError(t, err)
	assert.Equal(t, ModeBounds, m)

	m, err = ParseSyncMode("centerZoom")
	require.NoError(t, err)
	assert.Equal(t, ModeCenterZoom, m)

	_, err = ParseSyncMode("viewport")
	assert.Error(t, err)
}
