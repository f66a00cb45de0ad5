// Package monitoring supervises the per-machine processing pipelines. One
// poller goroutine per machine owns that machine's ring buffer, state
// detector and historian watermark; readers consume atomically swapped
// snapshots and never touch the detector itself.
package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/extrusight/extrusight/internal/baseline"
	"github.com/extrusight/extrusight/internal/buffer"
	"github.com/extrusight/extrusight/internal/config"
	"github.com/extrusight/extrusight/internal/events"
	"github.com/extrusight/extrusight/internal/historian"
	"github.com/extrusight/extrusight/internal/ml"
	"github.com/extrusight/extrusight/internal/models"
	"github.com/extrusight/extrusight/internal/profiles"
	"github.com/extrusight/extrusight/internal/statedetect"
	"github.com/extrusight/extrusight/internal/store"
)

// machineSnapshot is the read side of a poller: swapped atomically after
// every processed cycle.
type machineSnapshot struct {
	Reading  models.Reading
	Derived  models.DerivedMetrics
	State    models.MachineStateInfo
	Window   []models.Reading
	Material string
	At       time.Time // timestamp of the newest processed reading
}

// machineRuntime is owned by exactly one poller goroutine. Only the
// snapshot pointer is shared.
type machineRuntime struct {
	machineID string
	ring      *buffer.Ring
	detector  *statedetect.Detector
	watermark time.Time
	material  string
	profile   *models.Profile

	snapshot atomic.Pointer[machineSnapshot]
}

// Monitor wires the pipeline together and runs one poller per machine.
type Monitor struct {
	cfgStore *config.Store
	source   historian.Source
	store    *store.Store
	registry *profiles.Registry
	learner  *baseline.Learner
	sink     events.Sink
	mlClient *ml.Client // optional

	mu       sync.RWMutex
	machines map[string]*machineRuntime
	reloadCh chan struct{}

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Options collects the monitor's collaborators.
type Options struct {
	ConfigStore *config.Store
	Source      historian.Source
	Store       *store.Store
	Registry    *profiles.Registry
	Learner     *baseline.Learner
	Sink        events.Sink
	MLClient    *ml.Client
}

// New creates a monitor. The machine set comes from the config snapshot.
func New(opts Options) *Monitor {
	m := &Monitor{
		cfgStore: opts.ConfigStore,
		source:   opts.Source,
		store:    opts.Store,
		registry: opts.Registry,
		learner:  opts.Learner,
		sink:     opts.Sink,
		mlClient: opts.MLClient,
		machines: make(map[string]*machineRuntime),
		reloadCh: make(chan struct{}),
	}

	cfg, _ := m.cfgStore.Snapshot()
	capacity := int(cfg.WindowDuration() / time.Second)
	for _, machineID := range cfg.Machines {
		m.machines[machineID] = &machineRuntime{
			machineID: machineID,
			ring:      buffer.New(capacity),
			detector:  statedetect.New(machineID, cfg.Thresholds.ForMachine(machineID)),
		}
	}
	return m
}

// Start launches the pollers. It returns immediately; Stop waits for them.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.group, ctx = errgroup.WithContext(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rt := range m.machines {
		rt := rt
		m.group.Go(func() error {
			m.runPoller(ctx, rt)
			return nil
		})
	}
	log.Info().Int("machines", len(m.machines)).Msg("Monitoring started")
}

// Stop cancels all pollers and waits for them to wind down. In-flight
// baseline finalize operations complete or roll back in their own
// transactions; the grace period bounds the wait.
func (m *Monitor) Stop(grace time.Duration) {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		m.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("Pollers did not stop within grace period")
	}
}

// Reload nudges sleeping pollers so they pick up a new config snapshot
// before their next scheduled poll.
func (m *Monitor) Reload() {
	m.mu.Lock()
	close(m.reloadCh)
	m.reloadCh = make(chan struct{})
	m.mu.Unlock()
	log.Info().Msg("Reload signal delivered to pollers")
}

func (m *Monitor) reloadSignal() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reloadCh
}

// Machines lists the supervised machine IDs.
func (m *Monitor) Machines() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.machines))
	for id := range m.machines {
		out = append(out, id)
	}
	return out
}

func (m *Monitor) runtime(machineID string) *machineRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.machines[machineID]
}
