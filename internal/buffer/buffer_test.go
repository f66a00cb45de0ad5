package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extrusight/extrusight/internal/models"
)

func reading(machine string, at time.Time) models.Reading {
	return models.Reading{MachineID: machine, Timestamp: at}
}

func TestAppendOrdersAndRejects(t *testing.T) {
	r := New(10)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	assert.True(t, r.Append(reading("ex-01", base)))
	assert.True(t, r.Append(reading("ex-01", base.Add(time.Second))))

	// Duplicate timestamp is rejected.
	assert.False(t, r.Append(reading("ex-01", base.Add(time.Second))))
	// Late arrival is rejected.
	assert.False(t, r.Append(reading("ex-01", base.Add(500*time.Millisecond))))

	assert.Equal(t, 2, r.Len())
	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[0].Timestamp.Before(snap[1].Timestamp))
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	r := New(3)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.True(t, r.Append(reading("ex-01", base.Add(time.Duration(i)*time.Second))))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, base.Add(2*time.Second), snap[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Second), snap[2].Timestamp)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(5)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.True(t, r.Append(reading("ex-01", base)))

	snap := r.Snapshot()
	snap[0].MachineID = "mutated"

	again := r.Snapshot()
	assert.Equal(t, "ex-01", again[0].MachineID)
}

func TestTailSince(t *testing.T) {
	r := New(100)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.True(t, r.Append(reading("ex-01", base.Add(time.Duration(i)*time.Minute))))
	}

	// Tail is measured from the newest reading, inclusive at the cutoff.
	tail := r.TailSince(3 * time.Minute)
	require.Len(t, tail, 4)
	assert.Equal(t, base.Add(6*time.Minute), tail[0].Timestamp)
	assert.Equal(t, base.Add(9*time.Minute), tail[3].Timestamp)

	assert.Nil(t, New(5).TailSince(time.Minute))
}

func TestLatestAndEmpty(t *testing.T) {
	r := New(5)
	assert.True(t, r.IsEmpty())
	_, ok := r.Latest()
	assert.False(t, ok)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.True(t, r.Append(reading("ex-01", base)))
	require.True(t, r.Append(reading("ex-01", base.Add(time.Second))))

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Second), latest.Timestamp)
	assert.False(t, r.IsEmpty())
}

func TestNewFallsBackToDefaultCapacity(t *testing.T) {
	r := New(0)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultCapacity+5; i++ {
		require.True(t, r.Append(reading("ex-01", base.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, DefaultCapacity, r.Len())
}
