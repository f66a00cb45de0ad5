// Package profiles manages the (machine, material) baseline profiles and
// their resolution rules.
package profiles

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/models"
	"github.com/extrusight/extrusight/internal/store"
)

// Registry enforces profile uniqueness and implements the lookup fallback:
// machine-specific profile first, then the material default, then absent.
type Registry struct {
	store *store.Store
	nowFn func() time.Time
}

// New creates a registry over the given store.
func New(st *store.Store) *Registry {
	return &Registry{store: st, nowFn: time.Now}
}

// Create adds a profile for the scope. machineID nil creates the
// material-default profile. New profiles start in learning mode so samples
// begin accumulating once production is observed.
func (r *Registry) Create(machineID *string, materialID string) (*models.Profile, error) {
	now := r.nowFn().UTC()
	p := &models.Profile{
		ID:               uuid.NewString(),
		MachineID:        machineID,
		MaterialID:       materialID,
		BaselineLearning: true,
		BaselineReady:    false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.InsertProfile(p); err != nil {
		return nil, err
	}
	log.Info().
		Str("profile", p.ID).
		Str("material", materialID).
		Msg("Profile created, baseline learning started")
	return p, nil
}

// Get loads a profile by ID.
func (r *Registry) Get(id string) (*models.Profile, error) {
	return r.store.GetProfile(id)
}

// List returns all profiles.
func (r *Registry) List() ([]models.Profile, error) {
	return r.store.ListProfiles()
}

// Delete removes a profile and its baseline data.
func (r *Registry) Delete(id string) error {
	return r.store.DeleteProfile(id)
}

// Resolve returns the profile governing a runtime (machine, material) pair:
// the machine-specific profile when present, else the material default,
// else ErrNotFound.
func (r *Registry) Resolve(machineID, materialID string) (*models.Profile, error) {
	if machineID != "" {
		p, err := r.store.FindProfile(&machineID, materialID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, monerrors.ErrNotFound) {
			return nil, err
		}
	}
	return r.store.FindProfile(nil, materialID)
}

// SuppressAlarms reports whether alarm generation must be suppressed for
// the (machine, material) pair: true while the resolved profile is in
// learning mode. A pure predicate; the alarm subsystem consults it.
func (r *Registry) SuppressAlarms(machineID, materialID string) bool {
	p, err := r.Resolve(machineID, materialID)
	if err != nil {
		return false
	}
	return p.BaselineLearning
}
