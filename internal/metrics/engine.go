// Package metrics derives secondary quantities (averages, spreads, slopes,
// stabilities) from the sliding window of readings. All computations are
// null-safe: an absent input never becomes a zero.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/extrusight/extrusight/internal/models"
)

const (
	// SlopeWindow is how far back the temperature slope looks.
	SlopeWindow = 5 * time.Minute

	// StabilityWindow is the window for standard-deviation metrics.
	StabilityWindow = 10 * time.Minute

	// minSlopeSpan is the minimum elapsed time between the two samples of a
	// slope computation.
	minSlopeSpan = 60 * time.Second

	// minStabilitySamples is the minimum number of valid samples for a
	// standard deviation to be meaningful.
	minStabilitySamples = 3
)

// TempAvg returns the mean of the non-null temperature zones, or nil when
// no zone is present.
func TempAvg(r *models.Reading) *float64 {
	var sum float64
	var n int
	for _, z := range r.TempZones {
		if z != nil {
			sum += *z
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return models.Float(sum / float64(n))
}

// TempSpread returns max minus min of the non-null temperature zones, or
// nil when fewer than two zones are present.
func TempSpread(r *models.Reading) *float64 {
	lo := math.Inf(1)
	hi := math.Inf(-1)
	var n int
	for _, z := range r.TempZones {
		if z != nil {
			lo = math.Min(lo, *z)
			hi = math.Max(hi, *z)
			n++
		}
	}
	if n < 2 {
		return nil
	}
	return models.Float(hi - lo)
}

// Derive computes the full set of derived metrics for the current reading
// against a window of earlier readings. The window must be in ascending
// timestamp order and should cover at least StabilityWindow.
func Derive(window []models.Reading, current models.Reading) models.DerivedMetrics {
	d := models.DerivedMetrics{
		TempAvg:    TempAvg(&current),
		TempSpread: TempSpread(&current),
	}
	d.DTempAvg = tempSlope(window, current, d.TempAvg)
	d.RPMStability = CurrentStd(window, current.Timestamp, models.MetricScrewRPM)
	d.PressureStability = CurrentStd(window, current.Timestamp, models.MetricPressure)
	return d
}

// tempSlope computes the temp_avg slope in °C per minute between the sample
// closest to (current − SlopeWindow) and the current reading.
func tempSlope(window []models.Reading, current models.Reading, currentAvg *float64) *float64 {
	if currentAvg == nil {
		return nil
	}
	target := current.Timestamp.Add(-SlopeWindow)

	var ref *models.Reading
	best := time.Duration(math.MaxInt64)
	for i := range window {
		r := &window[i]
		if !r.Timestamp.Before(current.Timestamp) {
			continue
		}
		dist := r.Timestamp.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if dist < best {
			best = dist
			ref = r
		}
	}
	if ref == nil {
		return nil
	}
	elapsed := current.Timestamp.Sub(ref.Timestamp)
	if elapsed < minSlopeSpan {
		return nil
	}
	refAvg := TempAvg(ref)
	if refAvg == nil {
		return nil
	}
	minutes := elapsed.Minutes()
	return models.Float((*currentAvg - *refAvg) / minutes)
}

// CurrentStd computes the sample standard deviation of a metric over the
// StabilityWindow ending at `at`. Derived metrics temp_avg and temp_spread
// are recomputed per reading; anything else resolves against the raw
// reading columns. Returns nil with fewer than three valid samples.
func CurrentStd(window []models.Reading, at time.Time, metric string) *float64 {
	cutoff := at.Add(-StabilityWindow)
	values := make([]float64, 0, len(window))
	for i := range window {
		r := &window[i]
		if r.Timestamp.Before(cutoff) || r.Timestamp.After(at) {
			continue
		}
		var v *float64
		switch metric {
		case models.MetricTempAvg:
			v = TempAvg(r)
		case models.MetricTempSpread:
			v = TempSpread(r)
		default:
			v = r.Metric(metric)
		}
		if v != nil {
			values = append(values, *v)
		}
	}
	if len(values) < minStabilitySamples {
		return nil
	}
	return models.Float(SampleStd(values))
}

// Mean returns the arithmetic mean of values. Callers guarantee non-empty
// input.
func Mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStd returns the sample standard deviation (divisor n−1) of values.
// Returns 0 for fewer than two values.
func SampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		diff := v - mean
		ss += diff * diff
	}
	return math.Sqrt(ss / float64(n-1))
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks. values need not be sorted; the input
// slice is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
