// Package baseline implements the per-profile learning lifecycle: sample
// collection gated by PRODUCTION, transactional finalize into frozen
// statistics, and reset with optional archival.
package baseline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/metrics"
	"github.com/extrusight/extrusight/internal/models"
	"github.com/extrusight/extrusight/internal/store"
)

// DefaultMinSamples is the minimum sample count per metric before a
// baseline can be finalized.
const DefaultMinSamples = 100

// Learner manages baseline learning. Operations on the same profile are
// serialized; different profiles proceed independently.
type Learner struct {
	store      *store.Store
	minSamples int
	nowFn      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a learner. minSamples <= 0 selects DefaultMinSamples.
func New(st *store.Store, minSamples int) *Learner {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Learner{
		store:      st,
		minSamples: minSamples,
		nowFn:      time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (l *Learner) profileLock(profileID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[profileID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[profileID] = lock
	}
	return lock
}

// StartLearning flips the profile into learning mode, discarding previous
// stats and samples. Idempotent for a profile already learning.
func (l *Learner) StartLearning(profileID string) error {
	lock := l.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.StartLearning(profileID, l.nowFn().UTC()); err != nil {
		return err
	}
	log.Info().Str("profile", profileID).Msg("Baseline learning started")
	return nil
}

// Ingest persists one sample. Nil values and non-PRODUCTION states are
// dropped silently; ingesting against a profile that is not learning is an
// invariant breach and returns ErrNotLearning. Duplicate (profile, metric,
// timestamp) combinations are ignored.
func (l *Learner) Ingest(profileID, metric string, value *float64, stateAtSample models.MachineState, timestamp time.Time) error {
	if value == nil {
		return nil
	}
	if stateAtSample != models.StateProduction {
		return nil
	}

	lock := l.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.store.GetProfile(profileID)
	if err != nil {
		return err
	}
	if !p.BaselineLearning {
		return monerrors.ErrNotLearning
	}
	return l.store.InsertSample(models.BaselineSample{
		ProfileID: profileID,
		Metric:    metric,
		Value:     *value,
		Timestamp: timestamp,
	})
}

// IsLearning reports whether the profile is collecting samples. The alarm
// subsystem consults this to suppress alarms during learning.
func (l *Learner) IsLearning(profileID string) bool {
	p, err := l.store.GetProfile(profileID)
	if err != nil {
		return false
	}
	return p.BaselineLearning
}

// Finalize computes per-metric statistics from the collected samples and
// freezes them. Requires at least the configured minimum sample count for
// every expected metric; otherwise it returns an InsufficientSamplesError
// naming the deficient metrics and changes nothing.
func (l *Learner) Finalize(profileID string) error {
	lock := l.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.store.GetProfile(profileID)
	if err != nil {
		return err
	}
	if !p.BaselineLearning {
		return monerrors.ErrNotLearning
	}

	counts, err := l.store.CountSamplesByMetric(profileID)
	if err != nil {
		return err
	}
	deficient := make(map[string]int)
	for _, metric := range models.ExpectedBaselineMetrics {
		if counts[metric] < l.minSamples {
			deficient[metric] = counts[metric]
		}
	}
	if len(deficient) > 0 {
		return &monerrors.InsufficientSamplesError{Required: l.minSamples, Deficient: deficient}
	}

	stats := make([]models.BaselineStats, 0, len(models.ExpectedBaselineMetrics))
	for _, metric := range models.ExpectedBaselineMetrics {
		values, err := l.store.SampleValues(profileID, metric)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return fmt.Errorf("no samples for %s despite count check", metric)
		}
		stats = append(stats, models.BaselineStats{
			ProfileID:   profileID,
			Metric:      metric,
			Mean:        metrics.Mean(values),
			Std:         metrics.SampleStd(values),
			P05:         metrics.Percentile(values, 5),
			P95:         metrics.Percentile(values, 95),
			SampleCount: len(values),
		})
	}

	if err := l.store.Finalize(profileID, stats, l.nowFn().UTC()); err != nil {
		return err
	}
	log.Info().
		Str("profile", profileID).
		Int("metrics", len(stats)).
		Msg("Baseline finalized")
	return nil
}

// Reset clears flags, stats and samples. With archive=true the stats are
// retained under an archive key carrying the reset timestamp.
func (l *Learner) Reset(profileID string, archive bool) error {
	lock := l.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	now := l.nowFn().UTC()
	archiveKey := fmt.Sprintf("%s@%d", profileID, now.UnixMilli())
	if err := l.store.Reset(profileID, archive, archiveKey, now); err != nil {
		return err
	}
	log.Info().
		Str("profile", profileID).
		Bool("archived", archive).
		Msg("Baseline reset")
	return nil
}

// Stats loads the frozen stats for a profile keyed by metric. Returns
// ErrNotFound semantics as an empty map; callers check baseline_ready on
// the profile.
func (l *Learner) Stats(profileID string) (map[string]models.BaselineStats, error) {
	return l.store.GetStats(profileID)
}

// MinSamples exposes the configured minimum for diagnostics.
func (l *Learner) MinSamples() int { return l.minSamples }

// IsNotLearning reports whether err is the not-learning invariant breach.
func IsNotLearning(err error) bool {
	return errors.Is(err, monerrors.ErrNotLearning)
}
