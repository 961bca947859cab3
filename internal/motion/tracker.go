package motion

import (
	"sync"
	"time"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// UnitsPerSecondToKMH converts world units per second into km/h for the
// game's coordinate scale.
const UnitsPerSecondToKMH = 0.03701298701

// DefaultTTL is how long a stored sample survives without being refreshed
// before Purge evicts it.
const DefaultTTL = 5 * time.Minute

type sample struct {
	pos  model.Position3D
	seen time.Time
}

// Tracker keeps the last observed position per entity and derives
// instantaneous speed from consecutive samples. One writer per polling
// loop; reads may come from any goroutine.
type Tracker struct {
	mu      sync.Mutex
	samples map[string]sample
	ttl     time.Duration
}

// NewTracker creates a tracker with the default sample TTL.
func NewTracker() *Tracker {
	return NewTrackerTTL(DefaultTTL)
}

// NewTrackerTTL creates a tracker whose samples expire after ttl.
func NewTrackerTTL(ttl time.Duration) *Tracker {
	return &Tracker{
		samples: make(map[string]sample),
		ttl:     ttl,
	}
}

// Observe records a new position sample for the entity and returns the
// derived speed in km/h together with the previous position.
//
// The first observation for an entity returns speed 0 and first=true.
// A zero or negative elapsed time also yields speed 0; the stored sample
// is still overwritten so a clock stall self-heals on the next cycle.
func (t *Tracker) Observe(id string, pos model.Position3D, now time.Time) (speedKMH float64, prev model.Position3D, first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.samples[id]
	t.samples[id] = sample{pos: pos, seen: now}

	if !ok {
		return 0, model.Position3D{}, true
	}

	elapsed := now.Sub(last.seen).Seconds()
	if elapsed <= 0 {
		return 0, last.pos, false
	}

	speedKMH = pos.DistanceTo(last.pos) / elapsed * UnitsPerSecondToKMH
	return speedKMH, last.pos, false
}

// Purge evicts samples that have not been refreshed within the TTL and
// returns how many were removed.
func (t *Tracker) Purge(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := now.Add(-t.ttl)
	for id, s := range t.samples {
		if s.seen.Before(cutoff) {
			delete(t.samples, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entities.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}
