package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusColor is the traffic-light classification used by dashboards.
type StatusColor string

const (
	StatusGreen   StatusColor = "green"
	StatusOrange  StatusColor = "orange"
	StatusRed     StatusColor = "red"
	StatusUnknown StatusColor = "unknown"
)

// Severity is the per-sensor deviation class: 0 green, 1 orange, 2 red.
// SeverityUnknown marks sensors that cannot be evaluated (state gate,
// missing baseline, missing value).
type Severity int

const (
	SeverityGreen   Severity = 0
	SeverityOrange  Severity = 1
	SeverityRed     Severity = 2
	SeverityUnknown Severity = -1
)

// Color maps a severity onto its traffic-light color.
func (s Severity) Color() StatusColor {
	switch s {
	case SeverityGreen:
		return StatusGreen
	case SeverityOrange:
		return StatusOrange
	case SeverityRed:
		return StatusRed
	}
	return StatusUnknown
}

// MarshalJSON encodes known severities as numbers and SeverityUnknown as the
// string "unknown", matching what dashboards expect.
func (s Severity) MarshalJSON() ([]byte, error) {
	if s == SeverityUnknown {
		return json.Marshal("unknown")
	}
	return json.Marshal(int(s))
}

// UnmarshalJSON accepts both encodings produced by MarshalJSON.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "unknown" {
			*s = SeverityUnknown
			return nil
		}
		return fmt.Errorf("invalid severity %q", str)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n < 0 || n > 2 {
		return fmt.Errorf("invalid severity %d", n)
	}
	*s = Severity(n)
	return nil
}

// Band is a closed value interval.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the band (inclusive).
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// SensorEvaluation is the per-metric result of an evaluation pass.
type SensorEvaluation struct {
	Metric             string      `json:"metric"`
	Value              *float64    `json:"value,omitempty"`
	BaselineMean       *float64    `json:"baselineMean,omitempty"`
	GreenBand          *Band       `json:"greenBand,omitempty"`
	Deviation          *float64    `json:"deviation,omitempty"`
	DeviationPercent   *float64    `json:"deviationPercent,omitempty"`
	Severity           Severity    `json:"severity"`
	Stability          StatusColor `json:"stability"`
	BaselineMaterial   string      `json:"baselineMaterial,omitempty"`
	BaselineConfidence float64     `json:"baselineConfidence,omitempty"`
}

// Evaluation is the full snapshot handed to dashboards for one machine at
// one instant.
type Evaluation struct {
	MachineID         string                      `json:"machineId"`
	MaterialID        string                      `json:"materialId,omitempty"`
	At                time.Time                   `json:"at"`
	State             MachineState                `json:"state"`
	Sensors           map[string]SensorEvaluation `json:"sensors"`
	ProcessStatus     StatusColor                 `json:"processStatus"`
	ProcessStatusText string                      `json:"processStatusText"`
	SpreadStatus      StatusColor                 `json:"spreadStatus"`
	MLWarning         bool                        `json:"mlWarning"`
}

// Process status texts rendered by dashboards.
const (
	ProcessTextStable   = "Process stable"
	ProcessTextDrifting = "Process drifting from baseline"
	ProcessTextHighRisk = "High risk of instability or scrap"
)

// DisabledStatusText names the state that suppressed the evaluation.
func DisabledStatusText(state MachineState) string {
	return fmt.Sprintf("Process evaluation disabled — machine is in %s", state)
}
