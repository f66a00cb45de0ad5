// Package eval produces the per-sensor and overall process evaluation from
// the current reading, the learned baseline and the machine state. The
// evaluator is stateless and side-effect free; callers supply every input.
package eval

import (
	"math"
	"time"

	"github.com/extrusight/extrusight/internal/metrics"
	"github.com/extrusight/extrusight/internal/models"
)

// Severity-rule deviation bounds (relative to baseline mean).
const (
	deviationOrange = 0.03
	deviationRed    = 0.05
)

// Stability ratio bounds (current std over baseline std).
const (
	stabilityOrangeRatio = 1.2
	stabilityRedRatio    = 1.6
)

// Temp_Spread fixed thresholds in °C. The spread evaluation never consults
// the baseline.
const (
	spreadGreenMax  = 5.0
	spreadOrangeMax = 8.0
)

// MLWarnThreshold is the anomaly score at which the ml_warning flag is set.
// The score never changes severity.
const MLWarnThreshold = 0.5

// Input carries everything one evaluation pass needs.
type Input struct {
	Reading  models.Reading
	Profile  *models.Profile
	State    models.MachineStateInfo
	Derived  models.DerivedMetrics
	Baseline map[string]models.BaselineStats

	// Window is the buffered reading history used for current-std
	// stability ratios.
	Window []models.Reading

	// MLScore is the optional external anomaly score in [0,1].
	MLScore *float64
}

// Evaluate runs the full decision hierarchy and returns the snapshot
// dashboards render.
func Evaluate(in Input) models.Evaluation {
	out := models.Evaluation{
		MachineID:    in.Reading.MachineID,
		MaterialID:   in.Reading.Material,
		At:           in.Reading.Timestamp,
		State:        in.State.State,
		Sensors:      make(map[string]models.SensorEvaluation, len(models.ExpectedBaselineMetrics)),
		SpreadStatus: models.StatusUnknown,
		MLWarning:    in.MLScore != nil && *in.MLScore >= MLWarnThreshold,
	}

	// State gate: outside PRODUCTION nothing is evaluated.
	if in.State.State != models.StateProduction {
		for _, metric := range models.ExpectedBaselineMetrics {
			out.Sensors[metric] = models.SensorEvaluation{
				Metric:    metric,
				Value:     metricValue(&in, metric),
				Severity:  models.SeverityUnknown,
				Stability: models.StatusUnknown,
			}
		}
		out.ProcessStatus = models.StatusUnknown
		out.ProcessStatusText = models.DisabledStatusText(in.State.State)
		return out
	}

	baselineReady := in.Profile != nil && in.Profile.BaselineReady

	worst := models.SeverityUnknown
	for _, metric := range models.ExpectedBaselineMetrics {
		var sensor models.SensorEvaluation
		if metric == models.MetricTempSpread {
			sensor = evaluateSpread(&in)
			out.SpreadStatus = sensor.Severity.Color()
		} else {
			sensor = evaluateAgainstBaseline(&in, metric, baselineReady)
		}
		out.Sensors[metric] = sensor
		if sensor.Severity != models.SeverityUnknown && sensor.Severity > worst {
			worst = sensor.Severity
		}
	}

	out.ProcessStatus = worst.Color()
	if worst == models.SeverityUnknown {
		if !baselineReady {
			out.ProcessStatusText = "Baseline not ready"
		} else {
			out.ProcessStatusText = "Evaluation unavailable"
		}
	} else {
		out.ProcessStatusText = statusText(worst)
	}
	return out
}

// evaluateAgainstBaseline applies the baseline gate, the 3–5% band rule and
// the stability override for one metric.
func evaluateAgainstBaseline(in *Input, metric string, baselineReady bool) models.SensorEvaluation {
	sensor := models.SensorEvaluation{
		Metric:    metric,
		Value:     metricValue(in, metric),
		Severity:  models.SeverityUnknown,
		Stability: models.StatusUnknown,
	}

	// Baseline gate.
	if !baselineReady {
		return sensor
	}
	stats, ok := in.Baseline[metric]
	if !ok {
		return sensor
	}
	sensor.BaselineMean = models.Float(stats.Mean)
	sensor.BaselineMaterial = in.Profile.MaterialID
	sensor.BaselineConfidence = stats.Confidence()
	band := greenBand(stats)
	sensor.GreenBand = &band

	sensor.Stability = stabilityStatus(in, metric, stats)

	if sensor.Value == nil {
		return sensor
	}
	v := *sensor.Value
	sensor.Deviation = models.Float(v - stats.Mean)
	if stats.Mean != 0 {
		sensor.DeviationPercent = models.Float(math.Abs(v-stats.Mean) / math.Abs(stats.Mean) * 100)
	}

	sensor.Severity = ruleSeverity(v, band, stats.Mean)
	sensor.Severity = applyStabilityOverride(sensor.Severity, sensor.Stability)
	return sensor
}

// evaluateSpread applies the fixed spread thresholds; baseline and ML never
// influence it.
func evaluateSpread(in *Input) models.SensorEvaluation {
	sensor := models.SensorEvaluation{
		Metric:    models.MetricTempSpread,
		Value:     in.Derived.TempSpread,
		Severity:  models.SeverityUnknown,
		Stability: models.StatusUnknown,
	}
	if sensor.Value == nil {
		return sensor
	}
	switch spread := *sensor.Value; {
	case spread <= spreadGreenMax:
		sensor.Severity = models.SeverityGreen
	case spread <= spreadOrangeMax:
		sensor.Severity = models.SeverityOrange
	default:
		sensor.Severity = models.SeverityRed
	}
	return sensor
}

// greenBand prefers [p05, p95], then mean±std, then ±5% of the mean.
func greenBand(stats models.BaselineStats) models.Band {
	if stats.P05 != 0 || stats.P95 != 0 {
		return models.Band{Min: stats.P05, Max: stats.P95}
	}
	if stats.Std > 0 {
		return models.Band{Min: stats.Mean - stats.Std, Max: stats.Mean + stats.Std}
	}
	return models.Band{Min: 0.95 * stats.Mean, Max: 1.05 * stats.Mean}
}

// ruleSeverity implements the 3–5% band rule.
func ruleSeverity(v float64, band models.Band, mean float64) models.Severity {
	if band.Contains(v) {
		return models.SeverityGreen
	}
	if mean == 0 {
		// Relative deviation is unbounded against a zero mean.
		if v != 0 {
			return models.SeverityRed
		}
		return models.SeverityOrange
	}
	d := math.Abs(v-mean) / math.Abs(mean)
	switch {
	case d > deviationRed:
		return models.SeverityRed
	case d >= deviationOrange:
		return models.SeverityOrange
	default:
		// Outside the band but under 3%: narrow band, still a meaningful
		// deviation.
		return models.SeverityOrange
	}
}

// stabilityStatus classifies the ratio of current to baseline standard
// deviation over the 10-minute window.
func stabilityStatus(in *Input, metric string, stats models.BaselineStats) models.StatusColor {
	if stats.Std <= 0 {
		return models.StatusUnknown
	}
	at := in.Reading.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	current := metrics.CurrentStd(in.Window, at, metric)
	if current == nil {
		return models.StatusUnknown
	}
	ratio := *current / stats.Std
	switch {
	case ratio <= stabilityOrangeRatio:
		return models.StatusGreen
	case ratio <= stabilityRedRatio:
		return models.StatusOrange
	default:
		return models.StatusRed
	}
}

// applyStabilityOverride elevates the rule severity to match an orange or
// red stability; it never downgrades.
func applyStabilityOverride(severity models.Severity, stability models.StatusColor) models.Severity {
	if severity == models.SeverityUnknown {
		return severity
	}
	var floor models.Severity
	switch stability {
	case models.StatusOrange:
		floor = models.SeverityOrange
	case models.StatusRed:
		floor = models.SeverityRed
	default:
		return severity
	}
	if floor > severity {
		return floor
	}
	return severity
}

func statusText(worst models.Severity) string {
	switch worst {
	case models.SeverityGreen:
		return models.ProcessTextStable
	case models.SeverityOrange:
		return models.ProcessTextDrifting
	case models.SeverityRed:
		return models.ProcessTextHighRisk
	}
	return ""
}

// metricValue resolves a metric for evaluation: primary values come from
// the reading, derived ones from the metric engine output.
func metricValue(in *Input, metric string) *float64 {
	switch metric {
	case models.MetricTempAvg:
		return in.Derived.TempAvg
	case models.MetricTempSpread:
		return in.Derived.TempSpread
	default:
		return in.Reading.Metric(metric)
	}
}
