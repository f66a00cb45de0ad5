// Package models defines the shared data types of the monitoring core:
// historian readings, derived metrics, machine state, baseline profiles
// and evaluation results.
package models

import (
	"time"
)

// MachineState classifies what an extruder is currently doing.
type MachineState string

const (
	StateOff         MachineState = "OFF"
	StateHeating     MachineState = "HEATING"
	StateIdle        MachineState = "IDLE"
	StateProduction  MachineState = "PRODUCTION"
	StateCooling     MachineState = "COOLING"
	StateSensorFault MachineState = "SENSOR_FAULT"

	// StateUnknown is reporting-only: emitted when the buffer is empty or
	// stale. It never participates in hysteresis.
	StateUnknown MachineState = "UNKNOWN"
)

// Metric names as they appear in the historian and in baseline storage.
const (
	MetricScrewRPM   = "screw_rpm"
	MetricPressure   = "pressure"
	MetricTempZone1  = "temp_zone_1"
	MetricTempZone2  = "temp_zone_2"
	MetricTempZone3  = "temp_zone_3"
	MetricTempZone4  = "temp_zone_4"
	MetricTempAvg    = "temp_avg"
	MetricTempSpread = "temp_spread"
	MetricMotorLoad  = "motor_load"
	MetricThroughput = "throughput"
)

// TempZoneCount is the number of barrel temperature zones the historian
// exposes.
const TempZoneCount = 4

// ExpectedBaselineMetrics lists the metrics a baseline must cover before it
// can be finalized.
var ExpectedBaselineMetrics = []string{
	MetricScrewRPM,
	MetricPressure,
	MetricTempZone1,
	MetricTempZone2,
	MetricTempZone3,
	MetricTempZone4,
	MetricTempAvg,
	MetricTempSpread,
}

// Reading is one historian row for one machine. Every sensor field is
// optional: the historian may omit columns, and absence must stay distinct
// from zero all the way through the pipeline.
type Reading struct {
	MachineID string                  `json:"machineId"`
	Timestamp time.Time               `json:"timestamp"`
	ScrewRPM  *float64                `json:"screwRpm,omitempty"`
	Pressure  *float64                `json:"pressure,omitempty"`
	TempZones [TempZoneCount]*float64 `json:"tempZones"`

	MotorLoad  *float64 `json:"motorLoad,omitempty"`
	Throughput *float64 `json:"throughput,omitempty"`

	// Material is the active material code when the historian exposes it;
	// empty otherwise.
	Material string `json:"material,omitempty"`
}

// Metric returns the named primary metric value from the reading, or nil if
// the historian omitted it.
func (r *Reading) Metric(name string) *float64 {
	switch name {
	case MetricScrewRPM:
		return r.ScrewRPM
	case MetricPressure:
		return r.Pressure
	case MetricTempZone1:
		return r.TempZones[0]
	case MetricTempZone2:
		return r.TempZones[1]
	case MetricTempZone3:
		return r.TempZones[2]
	case MetricTempZone4:
		return r.TempZones[3]
	case MetricMotorLoad:
		return r.MotorLoad
	case MetricThroughput:
		return r.Throughput
	}
	return nil
}

// DerivedMetrics holds the secondary quantities computed from the window.
// A nil field means the inputs needed to compute it were absent.
type DerivedMetrics struct {
	TempAvg           *float64 `json:"tempAvg,omitempty"`
	TempSpread        *float64 `json:"tempSpread,omitempty"`
	DTempAvg          *float64 `json:"dTempAvg,omitempty"` // °C per minute over the last 5 minutes
	RPMStability      *float64 `json:"rpmStability,omitempty"`
	PressureStability *float64 `json:"pressureStability,omitempty"`
}

// Metric returns the named derived metric value, or nil.
func (d *DerivedMetrics) Metric(name string) *float64 {
	switch name {
	case MetricTempAvg:
		return d.TempAvg
	case MetricTempSpread:
		return d.TempSpread
	}
	return nil
}

// MachineStateInfo is the per-machine state snapshot published after every
// processed reading.
type MachineStateInfo struct {
	MachineID  string         `json:"machineId"`
	State      MachineState   `json:"state"`
	Confidence float64        `json:"confidence"`
	StateSince time.Time      `json:"stateSince"`
	Metrics    DerivedMetrics `json:"currentMetrics"`

	// Stale and Empty qualify a StateUnknown report.
	Stale bool `json:"stale,omitempty"`
	Empty bool `json:"empty,omitempty"`
}

// Profile scopes baseline learning to a (machine, material) pair. A nil
// MachineID marks the material-default profile used as fallback.
type Profile struct {
	ID               string    `json:"id"`
	MachineID        *string   `json:"machineId,omitempty"`
	MaterialID       string    `json:"materialId"`
	BaselineLearning bool      `json:"baselineLearning"`
	BaselineReady    bool      `json:"baselineReady"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// BaselineSample is a single learning observation. Samples exist only while
// the profile is learning; finalize and reset delete them.
type BaselineSample struct {
	ProfileID string    `json:"profileId"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// BaselineStats is the frozen per-metric baseline produced by finalize.
type BaselineStats struct {
	ProfileID   string  `json:"profileId"`
	Metric      string  `json:"metric"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	P05         float64 `json:"p05"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sampleCount"`
}

// Confidence maps sample count to baseline confidence. Monotone in
// SampleCount.
func (s BaselineStats) Confidence() float64 {
	switch {
	case s.SampleCount >= 100:
		return 1.0
	case s.SampleCount >= 50:
		return 0.9
	case s.SampleCount >= 30:
		return 0.8
	case s.SampleCount >= 10:
		return 0.7
	default:
		return 0.6
	}
}

// StateTransition is emitted whenever the hysteresis filter commits a new
// state for a machine.
type StateTransition struct {
	MachineID  string       `json:"machineId"`
	FromState  MachineState `json:"fromState"`
	ToState    MachineState `json:"toState"`
	At         time.Time    `json:"at"`
	Confidence float64      `json:"confidence"`
}

// MaterialChange is emitted when the active material reported by the
// historian changes for a machine.
type MaterialChange struct {
	MachineID        string    `json:"machineId"`
	PreviousMaterial string    `json:"previousMaterial"`
	NewMaterial      string    `json:"newMaterial"`
	At               time.Time `json:"at"`
}

// Float returns a pointer to v. Convenience for optional sensor fields.
func Float(v float64) *float64 { return &v }
