package cache

import (
	"sync"
	"time"
)

// Snapshot statuses surfaced through the read API.
const (
	StatusInit = "initializing"
	StatusOK   = "ok"
)

// Meta describes the freshness of a snapshot. A failed fetch never
// discards the last good data; it flips Stale and records the failure
// status instead.
type Meta struct {
	Status    string    `json:"status"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updatedAt"`
	HasData   bool      `json:"-"`
}

// Snapshot is the latest wholesale-replaced result of one polling loop,
// written by that loop and read by the enforcement pass and the read API.
type Snapshot[T any] struct {
	mu   sync.RWMutex
	data T
	meta Meta
}

// NewSnapshot creates an empty snapshot in the initializing state.
func NewSnapshot[T any]() *Snapshot[T] {
	return &Snapshot[T]{
		meta: Meta{Status: StatusInit},
	}
}

// Publish replaces the snapshot contents wholesale and clears staleness.
func (s *Snapshot[T]) Publish(v T, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = v
	s.meta = Meta{
		Status:    StatusOK,
		Stale:     false,
		UpdatedAt: now,
		HasData:   true,
	}
}

// MarkFailed records a fetch failure. Existing data is retained; only the
// status string and staleness flag change.
func (s *Snapshot[T]) MarkFailed(status string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Status = status
	s.meta.Stale = true
	if s.meta.UpdatedAt.IsZero() {
		s.meta.UpdatedAt = now
	}
}

// Get returns the current data and its freshness metadata.
func (s *Snapshot[T]) Get() (T, Meta) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.meta
}
