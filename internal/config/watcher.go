package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the .env and thresholds files and replaces the Store
// snapshot when either changes. Pollers notice the version bump on their
// next cycle.
type Watcher struct {
	store          *Store
	envPath        string
	thresholdsPath string
	watcher        *fsnotify.Watcher
	stopChan       chan struct{}
	stopOnce       sync.Once

	mu       sync.RWMutex
	onReload func()
}

// NewWatcher creates a watcher for the files backing the given store.
func NewWatcher(store *Store) (*Watcher, error) {
	cfg, _ := store.Snapshot()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:          store,
		envPath:        ".env",
		thresholdsPath: cfg.ThresholdsFile,
		watcher:        watcher,
		stopChan:       make(chan struct{}),
	}
	return w, nil
}

// SetReloadCallback registers a function invoked after a successful reload,
// typically to nudge sleeping pollers.
func (w *Watcher) SetReloadCallback(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Start begins watching. Watch failures fall back to no-op; the pollers
// still pick up SIGHUP-triggered reloads through Reload.
func (w *Watcher) Start() error {
	watched := 0
	for _, path := range []string{w.envPath, w.thresholdsPath} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if err := w.watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory")
			continue
		}
		watched++
	}
	if watched == 0 {
		log.Warn().Msg("No config files watched; changes require SIGHUP or restart")
		return nil
	}

	go w.watchForChanges()
	log.Info().
		Str("envPath", w.envPath).
		Str("thresholdsPath", w.thresholdsPath).
		Msg("Started watching config files for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

// Reload re-reads the configuration and swaps the store snapshot.
func (w *Watcher) Reload() {
	cfg, err := LoadPath(w.envPath)
	if err != nil {
		log.Error().Err(err).Msg("Config reload failed, keeping previous snapshot")
		return
	}
	version := w.store.Replace(cfg)
	log.Info().Uint64("version", version).Msg("Configuration reloaded")

	w.mu.RLock()
	callback := w.onReload
	w.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (w *Watcher) watchForChanges() {
	// Editors often emit bursts of events for one save; debounce them.
	var pending <-chan time.Time
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if base == filepath.Base(w.envPath) {
		return true
	}
	return w.thresholdsPath != "" && base == filepath.Base(w.thresholdsPath)
}
