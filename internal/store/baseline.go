package store

import (
	"fmt"
	"time"

	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/models"
)

// StartLearning atomically flips the profile into learning mode and drops
// any previous stats and samples. Idempotent for a profile already
// learning.
func (s *Store) StartLearning(profileID string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin start-learning: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE profiles SET baseline_learning = 1, baseline_ready = 0, updated_at = ?
		WHERE id = ?`, now.UnixMilli(), profileID)
	if err != nil {
		return fmt.Errorf("update profile flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return monerrors.ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM baseline_stats WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete stats: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM baseline_samples WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	return tx.Commit()
}

// InsertSample persists one learning sample. Duplicate (profile, metric,
// timestamp) rows are silently ignored.
func (s *Store) InsertSample(sample models.BaselineSample) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO baseline_samples (profile_id, metric_name, value, timestamp)
		VALUES (?, ?, ?, ?)`,
		sample.ProfileID, sample.Metric, sample.Value, sample.Timestamp.UnixMilli())
	if err != nil {
		return monerrors.NewMonitorError(monerrors.ErrorTypeStorage, "insert_sample", "", err)
	}
	return nil
}

// CountSamplesByMetric returns the per-metric sample counts for a profile.
func (s *Store) CountSamplesByMetric(profileID string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT metric_name, COUNT(*) FROM baseline_samples
		WHERE profile_id = ? GROUP BY metric_name`, profileID)
	if err != nil {
		return nil, fmt.Errorf("count samples: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var metric string
		var n int
		if err := rows.Scan(&metric, &n); err != nil {
			return nil, fmt.Errorf("scan sample count: %w", err)
		}
		counts[metric] = n
	}
	return counts, rows.Err()
}

// SampleValues returns all sample values for one (profile, metric) in
// timestamp order.
func (s *Store) SampleValues(profileID, metric string) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT value FROM baseline_samples
		WHERE profile_id = ? AND metric_name = ?
		ORDER BY timestamp`, profileID, metric)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Finalize writes the computed stats, deletes the samples and flips the
// profile to ready, all in one transaction. A crash mid-way leaves the
// prior learning state intact.
func (s *Store) Finalize(profileID string, stats []models.BaselineStats, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE profiles SET baseline_learning = 0, baseline_ready = 1, updated_at = ?
		WHERE id = ? AND baseline_learning = 1`, now.UnixMilli(), profileID)
	if err != nil {
		return fmt.Errorf("update profile flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return monerrors.ErrNotLearning
	}

	if _, err := tx.Exec(`DELETE FROM baseline_stats WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete old stats: %w", err)
	}
	for _, st := range stats {
		if _, err := tx.Exec(`
			INSERT INTO baseline_stats (profile_id, metric_name, mean, std, p05, p95, sample_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			profileID, st.Metric, st.Mean, st.Std, st.P05, st.P95, st.SampleCount); err != nil {
			return fmt.Errorf("insert stats for %s: %w", st.Metric, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM baseline_samples WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	return tx.Commit()
}

// Reset clears flags, stats and samples for a profile in one transaction.
// With archive=true the stats are first copied under the archive key.
func (s *Store) Reset(profileID string, archive bool, archiveKey string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE profiles SET baseline_learning = 0, baseline_ready = 0, updated_at = ?
		WHERE id = ?`, now.UnixMilli(), profileID)
	if err != nil {
		return fmt.Errorf("update profile flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return monerrors.ErrNotFound
	}

	if archive {
		if _, err := tx.Exec(`
			INSERT INTO baseline_stats_archive
				(archive_key, archived_at, profile_id, metric_name, mean, std, p05, p95, sample_count)
			SELECT ?, ?, profile_id, metric_name, mean, std, p05, p95, sample_count
			FROM baseline_stats WHERE profile_id = ?`,
			archiveKey, now.UnixMilli(), profileID); err != nil {
			return fmt.Errorf("archive stats: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM baseline_stats WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete stats: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM baseline_samples WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	return tx.Commit()
}

// GetStats returns the frozen baseline stats for a profile, keyed by
// metric. Empty map when none exist.
func (s *Store) GetStats(profileID string) (map[string]models.BaselineStats, error) {
	rows, err := s.db.Query(`
		SELECT profile_id, metric_name, mean, std, p05, p95, sample_count
		FROM baseline_stats WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]models.BaselineStats)
	for rows.Next() {
		var st models.BaselineStats
		if err := rows.Scan(&st.ProfileID, &st.Metric, &st.Mean, &st.Std, &st.P05, &st.P95, &st.SampleCount); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[st.Metric] = st
	}
	return stats, rows.Err()
}

// ArchivedStats returns the archived stats under one archive key.
func (s *Store) ArchivedStats(archiveKey string) ([]models.BaselineStats, error) {
	rows, err := s.db.Query(`
		SELECT profile_id, metric_name, mean, std, p05, p95, sample_count
		FROM baseline_stats_archive WHERE archive_key = ?`, archiveKey)
	if err != nil {
		return nil, fmt.Errorf("load archived stats: %w", err)
	}
	defer rows.Close()

	var stats []models.BaselineStats
	for rows.Next() {
		var st models.BaselineStats
		if err := rows.Scan(&st.ProfileID, &st.Metric, &st.Mean, &st.Std, &st.P05, &st.P95, &st.SampleCount); err != nil {
			return nil, fmt.Errorf("scan archived stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
