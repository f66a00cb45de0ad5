package store

import (
	"fmt"
	"time"

	"github.com/extrusight/extrusight/internal/models"
)

// InsertStateTransition appends to the state-transition log. Duplicate
// (machine, at) rows are ignored; the hysteresis filter guarantees strictly
// increasing commit times per machine.
func (s *Store) InsertStateTransition(t models.StateTransition) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO state_transitions (machine_id, at, from_state, to_state, confidence)
		VALUES (?, ?, ?, ?, ?)`,
		t.MachineID, t.At.UnixMilli(), string(t.FromState), string(t.ToState), t.Confidence)
	if err != nil {
		return fmt.Errorf("insert state transition: %w", err)
	}
	return nil
}

// InsertMaterialChange appends to the material-change log.
func (s *Store) InsertMaterialChange(m models.MaterialChange) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO material_changes (machine_id, at, previous_material, new_material)
		VALUES (?, ?, ?, ?)`,
		m.MachineID, m.At.UnixMilli(), m.PreviousMaterial, m.NewMaterial)
	if err != nil {
		return fmt.Errorf("insert material change: %w", err)
	}
	return nil
}

// StateTransitions returns the transition log for a machine within
// [from, to], ascending.
func (s *Store) StateTransitions(machineID string, from, to time.Time) ([]models.StateTransition, error) {
	rows, err := s.db.Query(`
		SELECT machine_id, at, from_state, to_state, confidence
		FROM state_transitions
		WHERE machine_id = ? AND at >= ? AND at <= ?
		ORDER BY at`, machineID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load state transitions: %w", err)
	}
	defer rows.Close()

	var out []models.StateTransition
	for rows.Next() {
		var t models.StateTransition
		var at int64
		var fromState, toState string
		if err := rows.Scan(&t.MachineID, &at, &fromState, &toState, &t.Confidence); err != nil {
			return nil, fmt.Errorf("scan state transition: %w", err)
		}
		t.At = time.UnixMilli(at).UTC()
		t.FromState = models.MachineState(fromState)
		t.ToState = models.MachineState(toState)
		out = append(out, t)
	}
	return out, rows.Err()
}

// MaterialChanges returns the material-change log for a machine within
// [from, to], ascending.
func (s *Store) MaterialChanges(machineID string, from, to time.Time) ([]models.MaterialChange, error) {
	rows, err := s.db.Query(`
		SELECT machine_id, at, previous_material, new_material
		FROM material_changes
		WHERE machine_id = ? AND at >= ? AND at <= ?
		ORDER BY at`, machineID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load material changes: %w", err)
	}
	defer rows.Close()

	var out []models.MaterialChange
	for rows.Next() {
		var m models.MaterialChange
		var at int64
		if err := rows.Scan(&m.MachineID, &at, &m.PreviousMaterial, &m.NewMaterial); err != nil {
			return nil, fmt.Errorf("scan material change: %w", err)
		}
		m.At = time.UnixMilli(at).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
