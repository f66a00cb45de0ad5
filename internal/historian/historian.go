// Package historian pulls extruder snapshots from the external time-series
// source. The client is stateless between calls; the poller owns the
// high-watermark and must not advance it when a fetch fails.
package historian

import (
	"context"
	"time"

	"github.com/extrusight/extrusight/internal/models"
)

// FetchResult carries one page of rows plus the count of rows that could
// not be parsed and were dropped.
type FetchResult struct {
	Readings  []models.Reading
	Malformed int
}

// Source is the historian contract: rows with timestamps strictly greater
// than the watermark, ascending, capped at limit.
type Source interface {
	FetchSince(ctx context.Context, machineID string, watermark time.Time, limit int) (FetchResult, error)
	Close() error
}
