// Package hr holds the live heart-rate value shared by the sensor session and every output.
package hr

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable copy of the live value.
// BPM is 0 when no reading is available or the sensor is disconnected.
type Snapshot struct {
	BPM       int       `json:"heart_rate"`
	Connected bool      `json:"connected"`
	Address   string    `json:"address,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status renders the connection flag the way push clients expect it.
func (s Snapshot) Status() string {
	if s.Connected {
		return "connected"
	}
	return "disconnected"
}

// Store is the single mutable heart-rate value.
//
// Writers replace the whole snapshot atomically, so readers on any goroutine
// never observe a BPM from one write paired with the connection flag of another.
// Last write wins.
type Store struct {
	v   atomic.Pointer[Snapshot]
	now func() time.Time
}

// NewStore creates a store holding (0, disconnected).
func NewStore() *Store {
	s := &Store{now: time.Now}
	s.v.Store(&Snapshot{UpdatedAt: s.now()})
	return s
}

// Set replaces the value. Negative BPM values are clamped to 0.
func (s *Store) Set(bpm int, connected bool) Snapshot {
	if bpm < 0 {
		bpm = 0
	}
	for {
		old := s.v.Load()
		next := &Snapshot{
			BPM:       bpm,
			Connected: connected,
			Address:   old.Address,
			UpdatedAt: s.now(),
		}
		if s.v.CompareAndSwap(old, next) {
			return *next
		}
	}
}

// Get returns the current snapshot.
func (s *Store) Get() Snapshot {
	return *s.v.Load()
}

// Reset is the disconnect write: (0, false).
func (s *Store) Reset() Snapshot {
	return s.Set(0, false)
}

// SetAddress records which device the value belongs to without touching the reading.
func (s *Store) SetAddress(address string) {
	for {
		old := s.v.Load()
		next := *old
		next.Address = address
		if s.v.CompareAndSwap(old, &next) {
			return
		}
	}
}
