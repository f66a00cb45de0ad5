// Package buffer implements the per-machine sliding window of historian
// readings. One poller goroutine writes; evaluator reads see copied
// snapshots and never block the writer for long.
package buffer

import (
	"sync"
	"time"

	"github.com/extrusight/extrusight/internal/models"
)

// DefaultCapacity fits 10 minutes of data at the historian's fastest
// emission rate (1 Hz).
const DefaultCapacity = 600

// Ring is a thread-safe, time-ordered ring buffer of readings. Late or
// duplicate timestamps are rejected to keep the window strictly monotonic.
type Ring struct {
	mu       sync.RWMutex
	data     []models.Reading
	capacity int
}

// New creates a Ring with the specified capacity. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		data:     make([]models.Reading, 0, capacity),
		capacity: capacity,
	}
}

// Append inserts a reading. If the ring is full, the oldest reading is
// dropped. Returns false when the reading is not newer than the last
// accepted one.
func (r *Ring) Append(reading models.Reading) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.data); n > 0 && !reading.Timestamp.After(r.data[n-1].Timestamp) {
		return false
	}
	if len(r.data) >= r.capacity {
		// Drop oldest (shift left)
		copy(r.data, r.data[1:])
		r.data = r.data[:len(r.data)-1]
	}
	r.data = append(r.data, reading)
	return true
}

// Snapshot returns a copy of the buffered readings in ascending timestamp
// order.
func (r *Ring) Snapshot() []models.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Reading, len(r.data))
	copy(out, r.data)
	return out
}

// TailSince returns a copy of the readings with timestamps within d of the
// newest buffered reading.
func (r *Ring) TailSince(d time.Duration) []models.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.data)
	if n == 0 {
		return nil
	}
	cutoff := r.data[n-1].Timestamp.Add(-d)
	i := n
	for i > 0 && !r.data[i-1].Timestamp.Before(cutoff) {
		i--
	}
	out := make([]models.Reading, n-i)
	copy(out, r.data[i:])
	return out
}

// Latest returns the newest reading, or false when the ring is empty.
func (r *Ring) Latest() (models.Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.data) == 0 {
		return models.Reading{}, false
	}
	return r.data[len(r.data)-1], true
}

// Len returns the current number of buffered readings.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// IsEmpty reports whether the ring holds no readings.
func (r *Ring) IsEmpty() bool {
	return r.Len() == 0
}
