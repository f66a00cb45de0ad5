// Package statedetect classifies extruder readings into operating states.
// A two-layer design: an instantaneous classifier over the current reading
// and derived metrics, then a hysteresis filter that requires a candidate
// state to persist for a dwell time before committing.
package statedetect

import (
	"time"

	"github.com/extrusight/extrusight/internal/config"
	"github.com/extrusight/extrusight/internal/models"
)

// staleAfter is how old the newest reading may be before reports degrade to
// UNKNOWN.
const staleAfter = 5 * time.Minute

// Detector holds the hysteresis state for one machine. It is owned by that
// machine's poller goroutine; reports for readers are published through
// snapshots, never by sharing the detector.
type Detector struct {
	machineID  string
	thresholds config.Thresholds

	committed   bool
	state       models.MachineState
	confidence  float64
	stateSince  time.Time
	lastMetrics models.DerivedMetrics
	lastSeen    time.Time

	candidateState models.MachineState
	candidateSince time.Time
	hasCandidate   bool
}

// New creates a detector for a machine with the given thresholds.
func New(machineID string, thresholds config.Thresholds) *Detector {
	return &Detector{
		machineID:  machineID,
		thresholds: thresholds,
	}
}

// SetThresholds swaps the detector tunables, e.g. after a config reload.
func (d *Detector) SetThresholds(thresholds config.Thresholds) {
	d.thresholds = thresholds
}

// Process classifies one reading and advances the hysteresis filter.
// Readings must arrive in ascending timestamp order (the ring buffer
// guarantees that). The returned transition is non-nil only when a new
// state was committed.
func (d *Detector) Process(r *models.Reading, derived *models.DerivedMetrics, now time.Time) (models.MachineStateInfo, *models.StateTransition) {
	cls := Classify(r, derived, d.thresholds, now)

	prevSeen := d.lastSeen
	d.lastSeen = r.Timestamp
	d.lastMetrics = *derived

	// First observation commits directly; there is no prior state to
	// defend with a dwell.
	if !d.committed {
		transition := d.commit(cls, r.Timestamp, models.StateUnknown)
		return d.info(), transition
	}

	if cls.State == d.state {
		// Instantaneous choice confirms the current state.
		d.confidence = cls.Confidence
		d.hasCandidate = false
		return d.info(), nil
	}

	if d.hasCandidate && cls.State == d.candidateState {
		if r.Timestamp.Sub(d.candidateSince) >= d.requiredDwell(cls.State) {
			transition := d.commit(cls, r.Timestamp, d.state)
			return d.info(), transition
		}
		// Candidate still maturing; keep emitting the current state.
		return d.info(), nil
	}

	// New candidate. The dwell clock starts at the last reading that still
	// conformed to the current state, so that N seconds of qualifying
	// readings at the end of the window satisfy an N second dwell.
	d.candidateState = cls.State
	d.candidateSince = prevSeen
	if d.candidateSince.IsZero() {
		d.candidateSince = r.Timestamp
	}
	d.hasCandidate = true
	return d.info(), nil
}

// Report returns the current state for a query at `now`, applying the
// stale-data override: UNKNOWN when nothing was ever seen or the newest
// reading is older than five minutes. UNKNOWN never touches the hysteresis
// state.
func (d *Detector) Report(now time.Time) models.MachineStateInfo {
	if d.lastSeen.IsZero() {
		return models.MachineStateInfo{
			MachineID:  d.machineID,
			State:      models.StateUnknown,
			Confidence: 0.1,
			Empty:      true,
		}
	}
	if now.Sub(d.lastSeen) > staleAfter {
		return models.MachineStateInfo{
			MachineID:  d.machineID,
			State:      models.StateUnknown,
			Confidence: 0.2,
			StateSince: d.stateSince,
			Metrics:    d.lastMetrics,
			Stale:      true,
		}
	}
	return d.info()
}

// State returns the committed state, or UNKNOWN before the first reading.
func (d *Detector) State() models.MachineState {
	if !d.committed {
		return models.StateUnknown
	}
	return d.state
}

func (d *Detector) requiredDwell(candidate models.MachineState) time.Duration {
	if candidate == models.StateProduction {
		return d.thresholds.ProductionEnter
	}
	if d.state == models.StateProduction {
		return d.thresholds.ProductionExit
	}
	return d.thresholds.OtherDebounce
}

func (d *Detector) commit(cls Classification, at time.Time, from models.MachineState) *models.StateTransition {
	d.committed = true
	d.state = cls.State
	d.confidence = cls.Confidence
	d.stateSince = at
	d.hasCandidate = false
	return &models.StateTransition{
		MachineID:  d.machineID,
		FromState:  from,
		ToState:    cls.State,
		At:         at,
		Confidence: cls.Confidence,
	}
}

func (d *Detector) info() models.MachineStateInfo {
	return models.MachineStateInfo{
		MachineID:  d.machineID,
		State:      d.state,
		Confidence: d.confidence,
		StateSince: d.stateSince,
		Metrics:    d.lastMetrics,
	}
}
