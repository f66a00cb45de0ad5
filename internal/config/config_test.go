package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.WindowMinutes)
	assert.Equal(t, 5000, cfg.MaxRowsPerPoll)
	assert.Equal(t, 100, cfg.MinSamplesForBaseline)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2*time.Second, cfg.SinkTimeout)
	assert.Equal(t, "sqlite", cfg.Historian.Driver)
	assert.Equal(t, "extruder_snapshots", cfg.Historian.Table)
	assert.False(t, cfg.Historian.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.WindowDuration())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("EXTRUSIGHT_LOG_LEVEL", "debug")
	t.Setenv("EXTRUSIGHT_MACHINES", "ex-01, ex-02 ,,ex-03")
	t.Setenv("POLL_INTERVAL_SECONDS", "15")
	t.Setenv("WINDOW_MINUTES", "20")
	t.Setenv("HISTORIAN_ENABLED", "true")
	t.Setenv("HISTORIAN_DB", "/var/lib/historian.db")
	t.Setenv("EXTRUSIGHT_ML_URL", "http://ml.local:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"ex-01", "ex-02", "ex-03"}, cfg.Machines)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 20*time.Minute, cfg.WindowDuration())
	assert.True(t, cfg.Historian.Enabled)
	assert.Equal(t, "/var/lib/historian.db", cfg.Historian.Database)
	assert.Equal(t, "http://ml.local:9000", cfg.MLServiceURL)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("HISTORIAN_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.False(t, cfg.Historian.Enabled)
}

func TestLoadPathSeesEnvFileEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POLL_INTERVAL_SECONDS=30\nHISTORIAN_ENABLED=true\n"), 0o644))

	cfg, err := LoadPath(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.True(t, cfg.Historian.Enabled)

	// Rewrite the file: a reload must pick up the new values, not the
	// ones from the first load.
	require.NoError(t, os.WriteFile(path, []byte("POLL_INTERVAL_SECONDS=45\nHISTORIAN_ENABLED=false\n"), 0o644))

	cfg, err = LoadPath(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.False(t, cfg.Historian.Enabled)
}

func TestProcessEnvOverridesEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POLL_INTERVAL_SECONDS=30\n"), 0o644))
	t.Setenv("POLL_INTERVAL_SECONDS", "15")

	cfg, err := LoadPath(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
}

func TestHistorianValidate(t *testing.T) {
	h := HistorianConfig{Enabled: false}
	assert.NoError(t, h.Validate(), "disabled historian skips validation")

	h = HistorianConfig{Enabled: true, Driver: "sqlite", Database: "/tmp/h.db", Table: "snapshots"}
	assert.NoError(t, h.Validate())

	h.Table = ""
	assert.Error(t, h.Validate())

	h = HistorianConfig{Enabled: true, Driver: "postgres", Table: "snapshots", Database: "plant"}
	assert.Error(t, h.Validate(), "network drivers need host and credentials")

	h.Host = "historian.plant.local"
	h.User = "reader"
	h.Password = "secret"
	assert.NoError(t, h.Validate())
}

func TestHistorianDSN(t *testing.T) {
	h := HistorianConfig{Driver: "sqlite", Database: "/var/lib/h.db"}
	assert.Equal(t, "/var/lib/h.db", h.DSN())

	h = HistorianConfig{Driver: "postgres", Host: "db", Port: 5432, Database: "plant", User: "u", Password: "p"}
	assert.Contains(t, h.DSN(), "host=db")
	assert.Contains(t, h.DSN(), "dbname=plant")
}

func TestThresholdOverrideApply(t *testing.T) {
	base := DefaultThresholds()

	var o *ThresholdOverride
	assert.Equal(t, base, o.Apply(base), "nil override keeps the defaults")

	rpm := 8.0
	enter := 30
	o = &ThresholdOverride{RPMProd: &rpm, ProductionEnterSeconds: &enter}
	merged := o.Apply(base)
	assert.Equal(t, 8.0, merged.RPMProd)
	assert.Equal(t, 30*time.Second, merged.ProductionEnter)
	// Untouched fields keep the defaults.
	assert.Equal(t, base.RPMOn, merged.RPMOn)
	assert.Equal(t, base.ProductionExit, merged.ProductionExit)
}

func TestForMachineLayering(t *testing.T) {
	fileRPM := 6.0
	machineRPM := 7.5
	tc := &ThresholdsConfig{
		Defaults: &ThresholdOverride{RPMOn: &fileRPM},
		Machines: map[string]*ThresholdOverride{
			"ex-01": {RPMOn: &machineRPM},
		},
	}

	assert.Equal(t, 7.5, tc.ForMachine("ex-01").RPMOn)
	assert.Equal(t, 6.0, tc.ForMachine("ex-02").RPMOn)

	var nilCfg *ThresholdsConfig
	assert.Equal(t, DefaultThresholds(), nilCfg.ForMachine("ex-01"))
}

func TestLoadThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  rpm_prod: 12
machines:
  ex-01:
    t_min_active: 80
    production_enter_seconds: 45
`), 0o644))

	tc, err := LoadThresholdsFile(path)
	require.NoError(t, err)

	ex01 := tc.ForMachine("ex-01")
	assert.Equal(t, 12.0, ex01.RPMProd)
	assert.Equal(t, 80.0, ex01.TMinActive)
	assert.Equal(t, 45*time.Second, ex01.ProductionEnter)

	other := tc.ForMachine("ex-02")
	assert.Equal(t, 12.0, other.RPMProd)
	assert.Equal(t, 60.0, other.TMinActive)

	_, err = LoadThresholdsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStoreSnapshotVersioning(t *testing.T) {
	store := NewStore(Defaults())
	cfg, v1 := store.Snapshot()
	require.NotNil(t, cfg)

	next := Defaults()
	next.PollInterval = 5 * time.Second
	v2 := store.Replace(next)
	assert.Greater(t, v2, v1)

	got, v3 := store.Snapshot()
	assert.Equal(t, v2, v3)
	assert.Equal(t, 5*time.Second, got.PollInterval)
}
