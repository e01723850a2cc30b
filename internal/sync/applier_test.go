package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/view"
)

type applierHarness struct {
	adapter  *fakeAdapter
	gesture  *GestureTracker
	lock     *SyncLock
	recorder *countingRecorder
	applier  *ChangeApplier
}

func newApplierHarness(mode view.SyncMode, syncSettle bool) *applierHarness {
	h := &applierHarness{
		adapter:  newFakeAdapter(syncSettle),
		lock:     &SyncLock{},
		recorder: newCountingRecorder(),
	}
	h.gesture = NewGestureTracker(newTestClock(), 0, DefaultWheelGrace, zap.NewNop())
	h.applier = NewChangeApplier(mode, h.adapter, h.gesture, h.lock, h.recorder, zap.NewNop())
	return h
}

func TestApplierCenterZoom(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, false)

	require.True(t, h.applier.OnInboundEvent([]byte(`{"center":{"lat":10,"lng":20},"zoom":5}`)))

	assert.Equal(t, []centerZoomCall{{view.LatLng{Lat: 10, Lng: 20}, 5}}, h.adapter.centerZoomCalls())
	assert.True(t, h.lock.Ongoing(), "lock is held until the adapter settles")
	assert.Equal(t, 1, h.adapter.pendingSettles())

	h.adapter.fireSettled()
	assert.False(t, h.lock.Ongoing())
	assert.Equal(t, 0, h.adapter.pendingSettles())
	assert.Equal(t, 1, h.recorder.appliedCount(view.ShapeCenterZoom.String()))
}

func TestApplierZoomZero(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, true)

	require.True(t, h.applier.OnInboundEvent([]byte(`{"center":{"lat":0,"lng":0},"zoom":0}`)))
	assert.Equal(t, []centerZoomCall{{view.LatLng{}, 0}}, h.adapter.centerZoomCalls())
	assert.False(t, h.lock.Ongoing(), "a synchronously settling adapter releases the lock before Apply returns")
}

func TestApplierBounds(t *testing.T) {
	h := newApplierHarness(view.ModeBounds, false)

	require.True(t, h.applier.OnInboundEvent([]byte(`{"bounds":[[52,14],[50,12]]}`)))
	assert.Equal(t, []view.Bounds{view.NewBounds(52, 14, 50, 12)}, h.adapter.boundsCalls())
	assert.Empty(t, h.adapter.centerZoomCalls())
}

func TestApplierBothShapesFollowMode(t *testing.T) {
	payload := []byte(`{"center":{"lat":1,"lng":2},"zoom":3,"bounds":[[4,5],[0,1]]}`)

	cz := newApplierHarness(view.ModeCenterZoom, true)
	require.True(t, cz.applier.OnInboundEvent(payload))
	assert.Len(t, cz.adapter.centerZoomCalls(), 1)
	assert.Empty(t, cz.adapter.boundsCalls())

	b := newApplierHarness(view.ModeBounds, true)
	require.True(t, b.applier.OnInboundEvent(payload))
	assert.Empty(t, b.adapter.centerZoomCalls())
	assert.Len(t, b.adapter.boundsCalls(), 1)
}

func TestApplierDropsDuringGesture(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, true)
	h.gesture.OnRawEvent(RawPress)

	assert.False(t, h.applier.OnInboundEvent([]byte(`{"center":{"lat":10,"lng":20},"zoom":5}`)))
	assert.Empty(t, h.adapter.centerZoomCalls())
	assert.False(t, h.lock.Ongoing())
	assert.Equal(t, 1, h.recorder.droppedCount(ReasonUserGesture))
}

func TestApplierDropsMalformed(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, true)

	for _, payload := range []string{
		`not json`,
		`{"center":{"lat":10,"lng":20}}`,
		`{"zoom":4}`,
		`{"center":{"lat":10,"lng":20},"zoom":4.5}`,
		`{}`,
	} {
		assert.False(t, h.applier.OnInboundEvent([]byte(payload)), payload)
	}
	assert.Empty(t, h.adapter.centerZoomCalls())
	assert.Equal(t, 5, h.recorder.droppedCount(ReasonMalformed))
	assert.False(t, h.lock.Ongoing())
}

func TestApplierKeepsOneSettleSubscription(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, false)

	for i := 0; i < 50; i++ {
		require.True(t, h.applier.Apply(view.CenterZoomState(view.LatLng{Lat: float64(i)}, 4)))
	}
	assert.Equal(t, 1, h.adapter.pendingSettles(), "superseded subscriptions are removed")
	assert.True(t, h.lock.Ongoing())

	h.adapter.fireSettled()
	assert.False(t, h.lock.Ongoing(), "the latest application releases the lock")
}

func TestApplierStaleSettleDoesNotRelease(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, false)

	require.True(t, h.applier.Apply(view.CenterZoomState(view.LatLng{Lat: 1}, 4)))
	first := h.lock.Current()
	require.True(t, h.applier.Apply(view.CenterZoomState(view.LatLng{Lat: 2}, 4)))

	assert.False(t, h.lock.Release(first))
	assert.True(t, h.lock.Ongoing())
}

func TestApplierClose(t *testing.T) {
	h := newApplierHarness(view.ModeCenterZoom, false)

	require.True(t, h.applier.Apply(view.CenterZoomState(view.LatLng{Lat: 1}, 4)))
	h.applier.Close()
	assert.Equal(t, 0, h.adapter.pendingSettles())
}
