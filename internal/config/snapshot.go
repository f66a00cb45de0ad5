package config

import (
	"sync"
)

// Store holds the live configuration as a versioned, read-mostly snapshot.
// Pollers call Snapshot at most once per cycle and compare versions to
// detect a reload.
type Store struct {
	mu      sync.RWMutex
	cfg     *Config
	version uint64
}

// NewStore creates a Store seeded with cfg at version 1.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg, version: 1}
}

// Snapshot returns the current configuration and its version. The returned
// Config must be treated as read-only.
func (s *Store) Snapshot() (*Config, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.version
}

// Replace swaps in a new configuration and bumps the version.
func (s *Store) Replace(cfg *Config) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.version++
	return s.version
}

// Version returns the current snapshot version without copying the config.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
