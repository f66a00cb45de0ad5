package statedetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/extrusight/extrusight/internal/config"
	"github.com/extrusight/extrusight/internal/models"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func zones(values ...float64) [models.TempZoneCount]*float64 {
	var out [models.TempZoneCount]*float64
	for i, v := range values {
		if i >= models.TempZoneCount {
			break
		}
		out[i] = models.Float(v)
	}
	return out
}

// baseReading passes the sensor-fault precondition: rpm present, all four
// zones plausible.
func baseReading(rpm, pressure float64, temp float64) models.Reading {
	return models.Reading{
		MachineID: "ex-01",
		Timestamp: testNow,
		ScrewRPM:  models.Float(rpm),
		Pressure:  models.Float(pressure),
		TempZones: zones(temp, temp, temp, temp),
	}
}

func derivedFor(r *models.Reading, slope *float64) models.DerivedMetrics {
	var avg *float64
	var n int
	var sum float64
	for _, z := range r.TempZones {
		if z != nil {
			sum += *z
			n++
		}
	}
	if n > 0 {
		avg = models.Float(sum / float64(n))
	}
	return models.DerivedMetrics{TempAvg: avg, DTempAvg: slope}
}

func classify(r models.Reading, slope *float64) Classification {
	d := derivedFor(&r, slope)
	return Classify(&r, &d, config.DefaultThresholds(), testNow)
}

func TestClassifySensorFaultPreconditions(t *testing.T) {
	t.Run("missing rpm", func(t *testing.T) {
		r := baseReading(0, 0, 25)
		r.ScrewRPM = nil
		c := classify(r, nil)
		assert.Equal(t, models.StateSensorFault, c.State)
		assert.Equal(t, 0.3, c.Confidence)
	})

	t.Run("zone out of range", func(t *testing.T) {
		r := baseReading(0, 0, 25)
		r.TempZones[2] = models.Float(450)
		assert.Equal(t, models.StateSensorFault, classify(r, nil).State)

		r = baseReading(0, 0, 25)
		r.TempZones[0] = models.Float(-3)
		assert.Equal(t, models.StateSensorFault, classify(r, nil).State)
	})

	t.Run("fewer than two zones", func(t *testing.T) {
		r := baseReading(0, 0, 25)
		r.TempZones = [models.TempZoneCount]*float64{models.Float(25)}
		assert.Equal(t, models.StateSensorFault, classify(r, nil).State)
	})

	t.Run("zero pressure at production rotation", func(t *testing.T) {
		r := baseReading(25, 0, 200)
		assert.Equal(t, models.StateSensorFault, classify(r, nil).State)
	})

	t.Run("future timestamp", func(t *testing.T) {
		r := baseReading(0, 0, 25)
		r.Timestamp = testNow.Add(2 * time.Minute)
		assert.Equal(t, models.StateSensorFault, classify(r, nil).State)
	})
}

func TestClassifyOffColdMachine(t *testing.T) {
	c := classify(baseReading(0, 0, 25), nil)
	assert.Equal(t, models.StateOff, c.State)
	assert.Equal(t, 0.9, c.Confidence)
}

func TestClassifyOffWithoutTemperature(t *testing.T) {
	r := baseReading(0, 0, 25)
	d := models.DerivedMetrics{} // temp average unavailable
	c := Classify(&r, &d, config.DefaultThresholds(), testNow)
	assert.Equal(t, models.StateOff, c.State)
	assert.Equal(t, 0.7, c.Confidence)
}

func TestClassifyCooling(t *testing.T) {
	c := classify(baseReading(0, 0, 180), models.Float(-1.5))
	assert.Equal(t, models.StateCooling, c.State)
	assert.Equal(t, 0.8, c.Confidence)
}

func TestClassifyHeating(t *testing.T) {
	// Slow rotation during warmup stays below the production threshold.
	c := classify(baseReading(7, 1, 120), models.Float(2.0))
	assert.Equal(t, models.StateHeating, c.State)
	assert.Equal(t, 0.8, c.Confidence)
}

func TestClassifyProductionPrimary(t *testing.T) {
	c := classify(baseReading(85, 140, 230), models.Float(0.05))
	assert.Equal(t, models.StateProduction, c.State)
	assert.Equal(t, 0.9, c.Confidence)
}

func TestClassifyProductionPressureFallback(t *testing.T) {
	c := classify(baseReading(85, 3, 230), models.Float(0.05))
	assert.Equal(t, models.StateProduction, c.State)
	assert.Equal(t, 0.7, c.Confidence)
}

func TestClassifyProductionLoadFallback(t *testing.T) {
	r := baseReading(85, 1, 230)
	r.MotorLoad = models.Float(45)
	c := classify(r, models.Float(0.05))
	assert.Equal(t, models.StateProduction, c.State)
	assert.Equal(t, 0.6, c.Confidence)

	r = baseReading(85, 1, 230)
	r.Throughput = models.Float(12.5)
	c = classify(r, models.Float(0.05))
	assert.Equal(t, models.StateProduction, c.State)
	assert.Equal(t, 0.6, c.Confidence)
}

func TestClassifyIdle(t *testing.T) {
	c := classify(baseReading(0, 0, 200), models.Float(0.0))
	assert.Equal(t, models.StateIdle, c.State)
	assert.Equal(t, 0.8, c.Confidence)
}

func TestClassifyIdleRequiresSlope(t *testing.T) {
	// A warm, motionless machine with no slope yet must not read as IDLE:
	// an absent slope is not a flat slope.
	c := classify(baseReading(0, 0, 200), nil)
	assert.NotEqual(t, models.StateIdle, c.State)
	assert.Equal(t, models.StateSensorFault, c.State)
	assert.Equal(t, 0.3, c.Confidence)
}

func TestClassifyCoolingWinsOverIdle(t *testing.T) {
	// Rules apply in order; a falling temperature at rest is COOLING even
	// though the machine is warm and motionless.
	c := classify(baseReading(0, 0, 200), models.Float(-0.5))
	assert.Equal(t, models.StateCooling, c.State)
}
