package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/models"
)

const profileColumns = "id, machine_id, material_id, baseline_learning, baseline_ready, created_at, updated_at"

// InsertProfile persists a new profile. A duplicate (machine, material)
// pair maps to ErrProfileExists.
func (s *Store) InsertProfile(p *models.Profile) error {
	_, err := s.db.Exec(`
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullableString(p.MachineID), p.MaterialID,
		boolInt(p.BaselineLearning), boolInt(p.BaselineReady),
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return monerrors.ErrProfileExists
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetProfile loads a profile by ID.
func (s *Store) GetProfile(id string) (*models.Profile, error) {
	row := s.db.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// FindProfile loads the profile for an exact (machine, material) scope.
// machineID nil selects the material-default profile.
func (s *Store) FindProfile(machineID *string, materialID string) (*models.Profile, error) {
	row := s.db.QueryRow(`
		SELECT `+profileColumns+` FROM profiles
		WHERE IFNULL(machine_id, '') = ? AND material_id = ?`,
		stringOrEmpty(machineID), materialID)
	return scanProfile(row)
}

// ListProfiles returns all profiles ordered by creation time.
func (s *Store) ListProfiles() ([]models.Profile, error) {
	rows, err := s.db.Query(`SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfileRows(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile; samples and stats cascade.
func (s *Store) DeleteProfile(id string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return monerrors.ErrNotFound
	}
	return nil
}

func scanProfile(row *sql.Row) (*models.Profile, error) {
	var (
		p                models.Profile
		machineID        sql.NullString
		learning, ready  int
		created, updated int64
	)
	err := row.Scan(&p.ID, &machineID, &p.MaterialID, &learning, &ready, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	fillProfile(&p, machineID, learning, ready, created, updated)
	return &p, nil
}

func scanProfileRows(rows *sql.Rows) (*models.Profile, error) {
	var (
		p                models.Profile
		machineID        sql.NullString
		learning, ready  int
		created, updated int64
	)
	if err := rows.Scan(&p.ID, &machineID, &p.MaterialID, &learning, &ready, &created, &updated); err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	fillProfile(&p, machineID, learning, ready, created, updated)
	return &p, nil
}

func fillProfile(p *models.Profile, machineID sql.NullString, learning, ready int, created, updated int64) {
	if machineID.Valid && machineID.String != "" {
		m := machineID.String
		p.MachineID = &m
	}
	p.BaselineLearning = learning != 0
	p.BaselineReady = ready != 0
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
}

func nullableString(v *string) interface{} {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
