package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extrusight/extrusight/internal/baseline"
	"github.com/extrusight/extrusight/internal/config"
	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/models"
	"github.com/extrusight/extrusight/internal/profiles"
	"github.com/extrusight/extrusight/internal/store"
)

type testPipeline struct {
	monitor  *Monitor
	store    *store.Store
	registry *profiles.Registry
	cfg      *config.Config
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	st, err := store.OpenPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Defaults()
	cfg.Machines = []string{"ex-01"}
	cfg.MinSamplesForBaseline = 10

	registry := profiles.New(st)
	monitor := New(Options{
		ConfigStore: config.NewStore(cfg),
		Store:       st,
		Registry:    registry,
		Learner:     baseline.New(st, cfg.MinSamplesForBaseline),
	})
	return &testPipeline{monitor: monitor, store: st, registry: registry, cfg: cfg}
}

func productionReading(machine string, at time.Time, material string) models.Reading {
	return models.Reading{
		MachineID: machine,
		Timestamp: at,
		Material:  material,
		ScrewRPM:  models.Float(85),
		Pressure:  models.Float(120),
		TempZones: [models.TempZoneCount]*float64{
			models.Float(230), models.Float(231), models.Float(229), models.Float(230),
		},
	}
}

func TestProcessBatchCommitsStateAndAdvancesWatermark(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")
	require.NotNil(t, rt)

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	var readings []models.Reading
	for i := 0; i < 5; i++ {
		readings = append(readings, productionReading("ex-01", base.Add(time.Duration(i)*time.Second), "PP-H350"))
	}

	p.monitor.processBatch(context.Background(), rt, p.cfg, readings)

	assert.Equal(t, base.Add(4*time.Second), rt.watermark)
	assert.Equal(t, "PP-H350", rt.material)
	assert.Equal(t, 5, rt.ring.Len())

	info, err := p.monitor.StateInfo("ex-01")
	require.NoError(t, err)
	assert.Equal(t, models.StateProduction, info.State)

	// The first observation commits and lands in the transition log.
	transitions, err := p.store.StateTransitions("ex-01", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.StateUnknown, transitions[0].FromState)
	assert.Equal(t, models.StateProduction, transitions[0].ToState)
}

func TestProcessBatchDropsNonMonotonicReadings(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	readings := []models.Reading{
		productionReading("ex-01", base, "PP-H350"),
		productionReading("ex-01", base, "PP-H350"),                   // duplicate
		productionReading("ex-01", base.Add(-time.Second), "PP-H350"), // late
		productionReading("ex-01", base.Add(time.Second), "PP-H350"),
	}

	p.monitor.processBatch(context.Background(), rt, p.cfg, readings)
	assert.Equal(t, 2, rt.ring.Len())
	assert.Equal(t, base.Add(time.Second), rt.watermark)
}

func TestProcessBatchIngestsSamplesWhileLearning(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")

	machine := "ex-01"
	profile, err := p.registry.Create(&machine, "PP-H350")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	var readings []models.Reading
	for i := 0; i < 5; i++ {
		readings = append(readings, productionReading("ex-01", base.Add(time.Duration(i)*time.Second), "PP-H350"))
	}
	p.monitor.processBatch(context.Background(), rt, p.cfg, readings)

	counts, err := p.store.CountSamplesByMetric(profile.ID)
	require.NoError(t, err)
	for _, metric := range models.ExpectedBaselineMetrics {
		assert.Equal(t, 5, counts[metric], "metric %s", metric)
	}

	assert.True(t, p.monitor.SuppressAlarms("ex-01"), "learning profiles suppress alarms")
}

func TestProcessBatchSkipsSamplesWithoutProfile(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	p.monitor.processBatch(context.Background(), rt, p.cfg, []models.Reading{
		productionReading("ex-01", base, "PP-H350"),
	})

	list, err := p.registry.List()
	require.NoError(t, err)
	assert.Empty(t, list, "ingestion never creates profiles implicitly")
	assert.False(t, p.monitor.SuppressAlarms("ex-01"))
}

func TestProcessBatchRecordsMaterialChange(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	p.monitor.processBatch(context.Background(), rt, p.cfg, []models.Reading{
		productionReading("ex-01", base, "PP-H350"),
	})
	p.monitor.processBatch(context.Background(), rt, p.cfg, []models.Reading{
		productionReading("ex-01", base.Add(time.Second), "PE-LD22"),
	})

	assert.Equal(t, "PE-LD22", rt.material)

	changes, err := p.store.MaterialChanges("ex-01", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "PP-H350", changes[0].PreviousMaterial)
	assert.Equal(t, "PE-LD22", changes[0].NewMaterial)
}

func TestProcessBatchBoundsSnapshotWindow(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")
	p.cfg.WindowMinutes = 1

	base := time.Now().UTC().Add(-3 * time.Minute).Truncate(time.Millisecond)
	p.monitor.processBatch(context.Background(), rt, p.cfg, []models.Reading{
		productionReading("ex-01", base, "PP-H350"),
		productionReading("ex-01", base.Add(30*time.Second), "PP-H350"),
		productionReading("ex-01", base.Add(2*time.Minute), "PP-H350"),
	})

	// The ring retains everything; the published snapshot only carries the
	// configured window.
	assert.Equal(t, 3, rt.ring.Len())
	snap := rt.snapshot.Load()
	require.NotNil(t, snap)
	require.Len(t, snap.Window, 1)
	assert.Equal(t, base.Add(2*time.Minute), snap.Window[0].Timestamp)
}

func TestStateInfoUnknownMachine(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.monitor.StateInfo("ex-99")
	assert.ErrorIs(t, err, monerrors.ErrNotFound)
}

func TestStateInfoBeforeFirstBatch(t *testing.T) {
	p := newTestPipeline(t)
	info, err := p.monitor.StateInfo("ex-01")
	require.NoError(t, err)
	assert.Equal(t, models.StateUnknown, info.State)
	assert.Equal(t, 0.1, info.Confidence)
	assert.True(t, info.Empty)
}

func TestStateInfoStaleSnapshot(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")

	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)
	p.monitor.processBatch(context.Background(), rt, p.cfg, []models.Reading{
		productionReading("ex-01", base, "PP-H350"),
	})

	info, err := p.monitor.StateInfo("ex-01")
	require.NoError(t, err)
	assert.Equal(t, models.StateUnknown, info.State)
	assert.Equal(t, 0.2, info.Confidence)
	assert.True(t, info.Stale)
}

func TestEvaluationBeforeBaselineReady(t *testing.T) {
	p := newTestPipeline(t)
	rt := p.monitor.runtime("ex-01")

	machine := "ex-01"
	_, err := p.registry.Create(&machine, "PP-H350")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	p.monitor.processBatch(context.Background(), rt, p.cfg, []models.Reading{
		productionReading("ex-01", base, "PP-H350"),
	})

	eval, err := p.monitor.Evaluation(context.Background(), "ex-01")
	require.NoError(t, err)
	assert.Equal(t, models.StateProduction, eval.State)
	assert.Equal(t, models.StatusUnknown, eval.ProcessStatus)
	assert.Equal(t, "Baseline not ready", eval.ProcessStatusText)
	assert.False(t, eval.MLWarning)
}

func TestMachinesAndReload(t *testing.T) {
	p := newTestPipeline(t)
	assert.Equal(t, []string{"ex-01"}, p.monitor.Machines())

	before := p.monitor.reloadSignal()
	p.monitor.Reload()
	select {
	case <-before:
	default:
		t.Fatal("reload must release waiting pollers")
	}
}
