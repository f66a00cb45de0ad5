package statedetect

import (
	"time"

	"github.com/extrusight/extrusight/internal/config"
	"github.com/extrusight/extrusight/internal/models"
)

// Classification is the instantaneous (pre-hysteresis) verdict for one
// reading.
type Classification struct {
	State      models.MachineState
	Confidence float64
}

// motorLoadActive and throughputActive back the PRODUCTION fallback rule.
const (
	motorLoadActive  = 15.0 // percent
	throughputActive = 0.1  // kg/h
)

// maxFutureSkew is how far a reading timestamp may run ahead of the wall
// clock before it is treated as a sensor fault.
const maxFutureSkew = time.Minute

// Classify applies the sensor-fault precondition and then the ordered
// instantaneous rules. All comparisons are null-safe: a nil input never
// satisfies a comparison.
func Classify(r *models.Reading, d *models.DerivedMetrics, t config.Thresholds, now time.Time) Classification {
	if faulty(r, t, now) {
		return Classification{State: models.StateSensorFault, Confidence: 0.3}
	}

	rpm := r.ScrewRPM
	pressure := r.Pressure
	tempAvg := d.TempAvg
	slope := d.DTempAvg

	// OFF: no motion, no pressure, cold. A missing temperature average
	// still reads as OFF, at lower confidence.
	if lt(rpm, t.RPMOn) && lt(pressure, t.POn) {
		if lt(tempAvg, t.TMinActive) {
			return Classification{State: models.StateOff, Confidence: 0.9}
		}
		if tempAvg == nil {
			return Classification{State: models.StateOff, Confidence: 0.7}
		}
	}

	// COOLING: warm, no motion, temperature falling.
	if lt(rpm, t.RPMOn) && ge(tempAvg, t.TMinActive) && le(slope, t.CoolingRate) {
		return Classification{State: models.StateCooling, Confidence: 0.8}
	}

	// HEATING: warm, below production rotation, temperature rising.
	if lt(rpm, t.RPMProd) && ge(tempAvg, t.TMinActive) && ge(slope, t.HeatingRate) {
		return Classification{State: models.StateHeating, Confidence: 0.8}
	}

	// PRODUCTION primary: production rotation with production pressure.
	if ge(rpm, t.RPMProd) && ge(pressure, t.PProd) {
		return Classification{State: models.StateProduction, Confidence: 0.9}
	}

	// PRODUCTION fallback: production rotation plus a weaker corroborating
	// signal.
	if ge(rpm, t.RPMProd) {
		if ge(pressure, t.POn) {
			return Classification{State: models.StateProduction, Confidence: 0.7}
		}
		if ge(r.MotorLoad, motorLoadActive) || ge(r.Throughput, throughputActive) {
			return Classification{State: models.StateProduction, Confidence: 0.6}
		}
	}

	// IDLE: warm and flat. Requires a slope; a nil slope must never read
	// as flat.
	if lt(rpm, t.RPMOn) && lt(pressure, t.POn) && ge(tempAvg, t.TMinActive) &&
		slope != nil && abs(*slope) < t.TempFlatRate {
		return Classification{State: models.StateIdle, Confidence: 0.8}
	}

	// Insufficient signal to tell anything apart.
	return Classification{State: models.StateSensorFault, Confidence: 0.3}
}

// faulty implements the sensor-fault precondition checked before any state
// rule.
func faulty(r *models.Reading, t config.Thresholds, now time.Time) bool {
	if r.ScrewRPM == nil {
		return true
	}
	zones := 0
	for _, z := range r.TempZones {
		if z == nil {
			continue
		}
		zones++
		if *z <= 0 || *z > 400 {
			return true
		}
	}
	if zones < 2 {
		return true
	}
	if r.Pressure != nil && *r.Pressure == 0 && *r.ScrewRPM >= t.RPMProd {
		return true
	}
	if r.Timestamp.After(now.Add(maxFutureSkew)) {
		return true
	}
	return false
}

func lt(v *float64, x float64) bool { return v != nil && *v < x }
func le(v *float64, x float64) bool { return v != nil && *v <= x }
func ge(v *float64, x float64) bool { return v != nil && *v >= x }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
