package monitoring

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/extrusight/extrusight/internal/config"
	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/metrics"
	"github.com/extrusight/extrusight/internal/models"
	"github.com/extrusight/extrusight/internal/telemetry"
)

// runPoller is the single-writer loop for one machine. It owns the ring
// buffer, the detector and the watermark; nothing else writes them.
func (m *Monitor) runPoller(ctx context.Context, rt *machineRuntime) {
	log.Info().Str("machine", rt.machineID).Msg("Poller started")
	defer log.Info().Str("machine", rt.machineID).Msg("Poller stopped")

	backoff := defaultBackoff()
	attempt := 0
	var lastVersion uint64
	fatalLogged := false

	for {
		if ctx.Err() != nil {
			return
		}

		cfg, version := m.cfgStore.Snapshot()
		if version != lastVersion {
			rt.detector.SetThresholds(cfg.Thresholds.ForMachine(rt.machineID))
			lastVersion = version
			fatalLogged = false
		}

		if !cfg.Historian.Enabled {
			// Master switch off: suspend until reload or shutdown.
			if !m.sleep(ctx, time.Hour) {
				return
			}
			continue
		}
		if err := cfg.Historian.Validate(); err != nil {
			// Fatal configuration: log once and suspend; never crash the
			// process.
			if !fatalLogged {
				log.Error().Err(err).Str("machine", rt.machineID).Msg("Historian configuration invalid, poller suspended")
				fatalLogged = true
			}
			if !m.sleep(ctx, time.Hour) {
				return
			}
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
		result, err := m.source.FetchSince(fetchCtx, rt.machineID, rt.watermark, cfg.MaxRowsPerPoll)
		cancel()
		if err != nil {
			// The watermark stays put; rows are refetched after backoff.
			telemetry.PollErrors.WithLabelValues(rt.machineID).Inc()
			delay := backoff.nextDelay(attempt, rand.Float64())
			attempt++
			log.Warn().
				Err(err).
				Str("machine", rt.machineID).
				Dur("retryIn", delay).
				Bool("retryable", monerrors.IsRetryable(err)).
				Msg("Historian fetch failed")
			if !m.sleep(ctx, delay) {
				return
			}
			continue
		}
		attempt = 0

		if result.Malformed > 0 {
			telemetry.MalformedRows.WithLabelValues(rt.machineID).Add(float64(result.Malformed))
		}

		if len(result.Readings) > 0 {
			m.processBatch(ctx, rt, cfg, result.Readings)
		}

		if !m.sleep(ctx, cfg.PollInterval) {
			return
		}
	}
}

// processBatch feeds a fetched page of readings through the pipeline and
// advances the watermark. Called only from the owning poller goroutine.
func (m *Monitor) processBatch(ctx context.Context, rt *machineRuntime, cfg *config.Config, readings []models.Reading) {
	now := time.Now().UTC()
	var last *models.Reading
	var derived models.DerivedMetrics
	var info models.MachineStateInfo

	for i := range readings {
		reading := &readings[i]
		if !rt.ring.Append(*reading) {
			// Late or duplicate timestamp: dropped to preserve
			// monotonicity.
			continue
		}
		window := rt.ring.TailSince(cfg.WindowDuration())
		derived = metrics.Derive(window, *reading)

		var transition *models.StateTransition
		info, transition = rt.detector.Process(reading, &derived, now)
		if transition != nil {
			m.recordTransition(transition)
		}

		m.trackMaterial(rt, reading)
		m.ingestSamples(rt, reading, &derived, info.State)
		last = reading
	}

	if last == nil {
		return
	}
	// Only a fully processed batch advances the watermark.
	rt.watermark = last.Timestamp

	snap := &machineSnapshot{
		Reading:  *last,
		Derived:  derived,
		State:    info,
		Window:   rt.ring.TailSince(cfg.WindowDuration()),
		Material: rt.material,
		At:       last.Timestamp,
	}
	rt.snapshot.Store(snap)

	if m.sink != nil {
		m.sink.PublishEvaluation(m.evaluateSnapshot(ctx, rt, snap))
	}
}

func (m *Monitor) recordTransition(t *models.StateTransition) {
	telemetry.StateTransitions.WithLabelValues(t.MachineID, string(t.ToState)).Inc()
	log.Info().
		Str("machine", t.MachineID).
		Str("from", string(t.FromState)).
		Str("to", string(t.ToState)).
		Float64("confidence", t.Confidence).
		Msg("Machine state transition")

	// The transition log is fire-and-forget: a write failure is counted
	// and the pipeline keeps going.
	if err := m.store.InsertStateTransition(*t); err != nil {
		telemetry.LogWriteErrors.WithLabelValues("state_transitions").Inc()
		log.Warn().Err(err).Str("machine", t.MachineID).Msg("Failed to append state transition log")
	}
	if m.sink != nil {
		m.sink.PublishTransition(*t)
	}
}

// trackMaterial detects material changes reported by the historian and
// invalidates the cached profile resolution.
func (m *Monitor) trackMaterial(rt *machineRuntime, reading *models.Reading) {
	material := reading.Material
	if material == "" || material == rt.material {
		return
	}
	if rt.material != "" {
		change := models.MaterialChange{
			MachineID:        rt.machineID,
			PreviousMaterial: rt.material,
			NewMaterial:      material,
			At:               reading.Timestamp,
		}
		if err := m.store.InsertMaterialChange(change); err != nil {
			telemetry.LogWriteErrors.WithLabelValues("material_changes").Inc()
			log.Warn().Err(err).Str("machine", rt.machineID).Msg("Failed to append material change log")
		}
		if m.sink != nil {
			m.sink.PublishMaterialChange(change)
		}
		log.Info().
			Str("machine", rt.machineID).
			Str("previous", rt.material).
			Str("new", material).
			Msg("Material change detected")
	}
	rt.material = material
	rt.profile = nil
}

// ingestSamples forwards metric values to the baseline learner while the
// resolved profile is learning and the machine is in PRODUCTION.
func (m *Monitor) ingestSamples(rt *machineRuntime, reading *models.Reading, derived *models.DerivedMetrics, state models.MachineState) {
	if state != models.StateProduction || rt.material == "" {
		return
	}
	if rt.profile == nil {
		p, err := m.registry.Resolve(rt.machineID, rt.material)
		if err != nil {
			if !errors.Is(err, monerrors.ErrNotFound) {
				log.Warn().Err(err).Str("machine", rt.machineID).Msg("Profile resolution failed")
			}
			return
		}
		rt.profile = p
	}
	if !m.learner.IsLearning(rt.profile.ID) {
		return
	}

	for _, metric := range models.ExpectedBaselineMetrics {
		var value *float64
		switch metric {
		case models.MetricTempAvg:
			value = derived.TempAvg
		case models.MetricTempSpread:
			value = derived.TempSpread
		default:
			value = reading.Metric(metric)
		}
		// Nil values are dropped inside Ingest.
		err := m.learner.Ingest(rt.profile.ID, metric, value, state, reading.Timestamp)
		switch {
		case err == nil:
			if value != nil {
				telemetry.SamplesIngested.WithLabelValues(rt.profile.ID).Inc()
			}
		case errors.Is(err, monerrors.ErrNotLearning):
			// Finalize raced with ingestion; refresh on the next cycle.
			rt.profile = nil
			return
		default:
			telemetry.SampleErrors.WithLabelValues(rt.profile.ID).Inc()
		}
	}
}

// sleep waits for d, a reload signal or shutdown. Returns false on
// shutdown.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-m.reloadSignal():
		return true
	}
}
