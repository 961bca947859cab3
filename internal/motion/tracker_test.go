package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

func TestObserve_FirstSampleIsZero(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	speed, _, first := tr.Observe("p1", model.Position3D{X: 100, Y: 200, Z: 30}, now)

	assert.True(t, first)
	assert.Zero(t, speed)
	assert.Equal(t, 1, tr.Len())
}

func TestObserve_DerivesSpeedFromConsecutiveSamples(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Observe("p1", model.Position3D{X: 0, Y: 0, Z: 0}, t0)
	// 1000 units in 0.5s = 2000 units/s
	speed, prev, first := tr.Observe("p1", model.Position3D{X: 1000, Y: 0, Z: 0}, t0.Add(500*time.Millisecond))

	assert.False(t, first)
	assert.Equal(t, model.Position3D{}, prev)
	assert.InDelta(t, 2000*UnitsPerSecondToKMH, speed, 1e-9)
}

func TestObserve_Uses3DDistance(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Observe("p1", model.Position3D{X: 0, Y: 0, Z: 0}, t0)
	// 3-4-12 box has diagonal 13
	speed, _, _ := tr.Observe("p1", model.Position3D{X: 300, Y: 400, Z: 1200}, t0.Add(time.Second))

	assert.InDelta(t, 1300*UnitsPerSecondToKMH, speed, 1e-9)
}

func TestObserve_ZeroElapsedYieldsZero(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Observe("p1", model.Position3D{X: 0, Y: 0, Z: 0}, t0)
	speed, _, first := tr.Observe("p1", model.Position3D{X: 9999, Y: 0, Z: 0}, t0)

	assert.False(t, first)
	assert.Zero(t, speed)
}

func TestObserve_NegativeElapsedYieldsZero(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Observe("p1", model.Position3D{X: 0, Y: 0, Z: 0}, t0)
	speed, _, _ := tr.Observe("p1", model.Position3D{X: 9999, Y: 0, Z: 0}, t0.Add(-time.Second))

	assert.Zero(t, speed)
}

func TestObserve_ReturnsPreviousPosition(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	p0 := model.Position3D{X: 10, Y: 20, Z: 30}
	tr.Observe("p1", p0, t0)
	_, prev, _ := tr.Observe("p1", model.Position3D{X: 11, Y: 21, Z: 31}, t0.Add(time.Second))

	assert.Equal(t, p0, prev)
}

func TestObserve_OnlyOneSampleRetained(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Observe("p1", model.Position3D{X: 0}, t0)
	tr.Observe("p1", model.Position3D{X: 100}, t0.Add(time.Second))
	_, prev, _ := tr.Observe("p1", model.Position3D{X: 200}, t0.Add(2*time.Second))

	assert.Equal(t, model.Position3D{X: 100}, prev)
}

func TestPurge_EvictsStaleEntities(t *testing.T) {
	tr := NewTrackerTTL(time.Minute)
	t0 := time.Now()

	tr.Observe("stale", model.Position3D{}, t0)
	tr.Observe("fresh", model.Position3D{}, t0.Add(2*time.Minute))

	removed := tr.Purge(t0.Add(2 * time.Minute))

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Len())

	// Evicted entity starts over as a first observation.
	_, _, first := tr.Observe("stale", model.Position3D{}, t0.Add(3*time.Minute))
	assert.True(t, first)
}
