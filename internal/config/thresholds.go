package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds are the state-detector tunables for one machine.
type Thresholds struct {
	RPMOn        float64 `yaml:"rpm_on"`         // motion present
	RPMProd      float64 `yaml:"rpm_prod"`       // production-capable rotation
	POn          float64 `yaml:"p_on"`           // pressure present (bar)
	PProd        float64 `yaml:"p_prod"`         // typical production pressure (bar)
	TMinActive   float64 `yaml:"t_min_active"`   // above this the machine is warm (°C)
	HeatingRate  float64 `yaml:"heating_rate"`   // positive slope threshold (°C/min)
	CoolingRate  float64 `yaml:"cooling_rate"`   // negative slope threshold (°C/min)
	TempFlatRate float64 `yaml:"temp_flat_rate"` // |slope| below which temperature is flat

	ProductionEnter time.Duration `yaml:"production_enter"` // dwell to confirm entering PRODUCTION
	ProductionExit  time.Duration `yaml:"production_exit"`  // dwell to confirm leaving PRODUCTION
	OtherDebounce   time.Duration `yaml:"other_debounce"`   // dwell on other transitions
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RPMOn:           5.0,
		RPMProd:         10.0,
		POn:             2.0,
		PProd:           5.0,
		TMinActive:      60.0,
		HeatingRate:     0.2,
		CoolingRate:     -0.2,
		TempFlatRate:    0.2,
		ProductionEnter: 90 * time.Second,
		ProductionExit:  120 * time.Second,
		OtherDebounce:   60 * time.Second,
	}
}

// ThresholdOverride is a sparse per-machine override; nil fields keep the
// default.
type ThresholdOverride struct {
	RPMOn        *float64 `yaml:"rpm_on,omitempty"`
	RPMProd      *float64 `yaml:"rpm_prod,omitempty"`
	POn          *float64 `yaml:"p_on,omitempty"`
	PProd        *float64 `yaml:"p_prod,omitempty"`
	TMinActive   *float64 `yaml:"t_min_active,omitempty"`
	HeatingRate  *float64 `yaml:"heating_rate,omitempty"`
	CoolingRate  *float64 `yaml:"cooling_rate,omitempty"`
	TempFlatRate *float64 `yaml:"temp_flat_rate,omitempty"`

	ProductionEnterSeconds *int `yaml:"production_enter_seconds,omitempty"`
	ProductionExitSeconds  *int `yaml:"production_exit_seconds,omitempty"`
	OtherDebounceSeconds   *int `yaml:"other_debounce_seconds,omitempty"`
}

// Apply merges the override onto base and returns the result.
func (o *ThresholdOverride) Apply(base Thresholds) Thresholds {
	if o == nil {
		return base
	}
	if o.RPMOn != nil {
		base.RPMOn = *o.RPMOn
	}
	if o.RPMProd != nil {
		base.RPMProd = *o.RPMProd
	}
	if o.POn != nil {
		base.POn = *o.POn
	}
	if o.PProd != nil {
		base.PProd = *o.PProd
	}
	if o.TMinActive != nil {
		base.TMinActive = *o.TMinActive
	}
	if o.HeatingRate != nil {
		base.HeatingRate = *o.HeatingRate
	}
	if o.CoolingRate != nil {
		base.CoolingRate = *o.CoolingRate
	}
	if o.TempFlatRate != nil {
		base.TempFlatRate = *o.TempFlatRate
	}
	if o.ProductionEnterSeconds != nil {
		base.ProductionEnter = time.Duration(*o.ProductionEnterSeconds) * time.Second
	}
	if o.ProductionExitSeconds != nil {
		base.ProductionExit = time.Duration(*o.ProductionExitSeconds) * time.Second
	}
	if o.OtherDebounceSeconds != nil {
		base.OtherDebounce = time.Duration(*o.OtherDebounceSeconds) * time.Second
	}
	return base
}

// ThresholdsConfig is the thresholds file layout: optional global defaults
// plus per-machine overrides.
type ThresholdsConfig struct {
	Defaults *ThresholdOverride            `yaml:"defaults,omitempty"`
	Machines map[string]*ThresholdOverride `yaml:"machines,omitempty"`
}

// ForMachine resolves the effective thresholds for a machine: documented
// defaults, then file defaults, then the machine override.
func (tc *ThresholdsConfig) ForMachine(machineID string) Thresholds {
	t := DefaultThresholds()
	if tc == nil {
		return t
	}
	t = tc.Defaults.Apply(t)
	if tc.Machines != nil {
		t = tc.Machines[machineID].Apply(t)
	}
	return t
}

// LoadThresholdsFile parses a thresholds YAML file.
func LoadThresholdsFile(path string) (*ThresholdsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds file: %w", err)
	}
	var tc ThresholdsConfig
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parse thresholds file: %w", err)
	}
	return &tc, nil
}
