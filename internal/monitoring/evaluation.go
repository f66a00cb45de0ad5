package monitoring

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	monerrors "github.com/extrusight/extrusight/internal/errors"
	"github.com/extrusight/extrusight/internal/eval"
	"github.com/extrusight/extrusight/internal/ml"
	"github.com/extrusight/extrusight/internal/models"
)

// staleAfter mirrors the detector's stale-data override for snapshot
// readers.
const staleAfter = 5 * time.Minute

// StateInfo returns the current machine state for readers. Snapshot-based;
// never blocks the poller.
func (m *Monitor) StateInfo(machineID string) (models.MachineStateInfo, error) {
	rt := m.runtime(machineID)
	if rt == nil {
		return models.MachineStateInfo{}, monerrors.ErrNotFound
	}
	snap := rt.snapshot.Load()
	now := time.Now().UTC()
	if snap == nil {
		return models.MachineStateInfo{
			MachineID:  machineID,
			State:      models.StateUnknown,
			Confidence: 0.1,
			Empty:      true,
		}, nil
	}
	if now.Sub(snap.At) > staleAfter {
		info := snap.State
		info.State = models.StateUnknown
		info.Confidence = 0.2
		info.Stale = true
		return info, nil
	}
	return snap.State, nil
}

// Evaluation assembles the full evaluation snapshot for one machine at the
// query instant. The shape is transport-agnostic; HTTP or gRPC layers wrap
// this without changing it.
func (m *Monitor) Evaluation(ctx context.Context, machineID string) (models.Evaluation, error) {
	rt := m.runtime(machineID)
	if rt == nil {
		return models.Evaluation{}, monerrors.ErrNotFound
	}
	snap := rt.snapshot.Load()
	now := time.Now().UTC()
	if snap == nil {
		state := models.MachineStateInfo{
			MachineID:  machineID,
			State:      models.StateUnknown,
			Confidence: 0.1,
			Empty:      true,
		}
		out := eval.Evaluate(eval.Input{
			Reading: models.Reading{MachineID: machineID, Timestamp: now},
			State:   state,
		})
		return out, nil
	}

	input := eval.Input{
		Reading: snap.Reading,
		Derived: snap.Derived,
		State:   snap.State,
		Window:  snap.Window,
	}
	if now.Sub(snap.At) > staleAfter {
		input.State.State = models.StateUnknown
		input.State.Confidence = 0.2
		input.State.Stale = true
	}

	m.attachBaseline(&input, machineID, snap.Material)
	m.attachMLScore(ctx, &input)
	return eval.Evaluate(input), nil
}

// evaluateSnapshot is the poller-side variant used when publishing
// evaluation events after a processed batch.
func (m *Monitor) evaluateSnapshot(ctx context.Context, rt *machineRuntime, snap *machineSnapshot) models.Evaluation {
	input := eval.Input{
		Reading: snap.Reading,
		Derived: snap.Derived,
		State:   snap.State,
		Window:  snap.Window,
	}
	m.attachBaseline(&input, rt.machineID, snap.Material)
	m.attachMLScore(ctx, &input)
	return eval.Evaluate(input)
}

func (m *Monitor) attachBaseline(input *eval.Input, machineID, material string) {
	if material == "" {
		return
	}
	profile, err := m.registry.Resolve(machineID, material)
	if err != nil {
		return
	}
	input.Profile = profile
	if !profile.BaselineReady {
		return
	}
	stats, err := m.learner.Stats(profile.ID)
	if err != nil {
		log.Warn().Err(err).Str("profile", profile.ID).Msg("Failed to load baseline stats")
		return
	}
	input.Baseline = stats
}

func (m *Monitor) attachMLScore(ctx context.Context, input *eval.Input) {
	if m.mlClient == nil {
		return
	}
	req := ml.BuildRequest(input.Reading, input.Profile, input.Derived, input.Baseline)
	resp, err := m.mlClient.Score(ctx, req)
	if err != nil {
		// The ML signal is advisory; scoring failures leave the flag
		// unset.
		log.Debug().Err(err).Str("machine", input.Reading.MachineID).Msg("Anomaly scoring unavailable")
		return
	}
	input.MLScore = &resp.Score
}

// SuppressAlarms reports whether alarms for the machine's current material
// must be suppressed because its resolved profile is learning.
func (m *Monitor) SuppressAlarms(machineID string) bool {
	rt := m.runtime(machineID)
	if rt == nil {
		return false
	}
	snap := rt.snapshot.Load()
	if snap == nil || snap.Material == "" {
		return false
	}
	return m.registry.SuppressAlarms(machineID, snap.Material)
}
