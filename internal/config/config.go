// Package config loads and watches the service configuration: historian
// connection, polling cadence, per-machine detector threshold overrides and
// baseline learning settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// HistorianConfig holds the connection parameters for the tabular source.
type HistorianConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Driver   string `yaml:"driver"` // database/sql driver name, default "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	Table    string `yaml:"table"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DSN renders the connection string for the configured driver. For the
// sqlite driver the Database field is the file path.
func (h HistorianConfig) DSN() string {
	if h.Driver == "" || h.Driver == "sqlite" {
		return h.Database
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s", h.Host, h.Port, h.Database, h.User, h.Password)
}

// Validate reports fatal configuration problems. Only checked when the
// historian is enabled.
func (h HistorianConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.Table == "" {
		return fmt.Errorf("historian table is required")
	}
	if h.Driver != "" && h.Driver != "sqlite" {
		if h.Host == "" {
			return fmt.Errorf("historian host is required for driver %q", h.Driver)
		}
		if h.User == "" || h.Password == "" {
			return fmt.Errorf("historian credentials are required for driver %q", h.Driver)
		}
	}
	if h.Database == "" {
		return fmt.Errorf("historian database is required")
	}
	return nil
}

// Config is the full service configuration.
type Config struct {
	LogLevel  string
	LogFormat string
	LogFile   string

	// DataDir holds the baseline/profile SQLite database.
	DataDir string

	Historian HistorianConfig

	// Machines lists the machine IDs to poll. One poller goroutine each.
	Machines []string

	PollInterval          time.Duration // default 60s
	WindowMinutes         int           // default 10
	MaxRowsPerPoll        int           // default 5000
	MinSamplesForBaseline int           // default 100

	FetchTimeout  time.Duration // historian fetch deadline, default 30s
	SinkTimeout   time.Duration // event publication deadline, default 2s
	ShutdownGrace time.Duration // wait for in-flight finalize, default 10s

	// MLServiceURL enables anomaly scoring when set; the score only drives
	// the ml_warning flag.
	MLServiceURL string

	// ThresholdsFile points at the optional YAML file with detector
	// threshold defaults and per-machine overrides.
	ThresholdsFile string

	Thresholds ThresholdsConfig
}

// Defaults returns a Config with every tunable at its documented default.
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "auto",
		DataDir:   "/var/lib/extrusight",
		Historian: HistorianConfig{
			Driver: "sqlite",
			Schema: "main",
			Table:  "extruder_snapshots",
		},
		PollInterval:          60 * time.Second,
		WindowMinutes:         10,
		MaxRowsPerPoll:        5000,
		MinSamplesForBaseline: 100,
		FetchTimeout:          30 * time.Second,
		SinkTimeout:           2 * time.Second,
		ShutdownGrace:         10 * time.Second,
	}
}

// Load reads .env (when present), environment variables and the thresholds
// file into a Config.
func Load() (*Config, error) {
	return LoadPath(".env")
}

// LoadPath is Load with an explicit .env location. The file is read without
// touching the process environment, so repeated calls see edits; real
// environment variables still take precedence over file values.
func LoadPath(envPath string) (*Config, error) {
	vals := readEnvFile(envPath)

	cfg := Defaults()

	cfg.LogLevel = envString(vals, "EXTRUSIGHT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString(vals, "EXTRUSIGHT_LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = envString(vals, "EXTRUSIGHT_LOG_FILE", cfg.LogFile)
	cfg.DataDir = envString(vals, "EXTRUSIGHT_DATA_DIR", cfg.DataDir)

	cfg.Historian.Enabled = envBool(vals, "HISTORIAN_ENABLED", cfg.Historian.Enabled)
	cfg.Historian.Driver = envString(vals, "HISTORIAN_DRIVER", cfg.Historian.Driver)
	cfg.Historian.Host = envString(vals, "HISTORIAN_HOST", cfg.Historian.Host)
	cfg.Historian.Port = envInt(vals, "HISTORIAN_PORT", cfg.Historian.Port)
	cfg.Historian.Database = envString(vals, "HISTORIAN_DB", cfg.Historian.Database)
	cfg.Historian.Schema = envString(vals, "HISTORIAN_SCHEMA", cfg.Historian.Schema)
	cfg.Historian.Table = envString(vals, "HISTORIAN_TABLE", cfg.Historian.Table)
	cfg.Historian.User = envString(vals, "HISTORIAN_USER", cfg.Historian.User)
	cfg.Historian.Password = envString(vals, "HISTORIAN_PASSWORD", cfg.Historian.Password)

	if machines := envString(vals, "EXTRUSIGHT_MACHINES", ""); machines != "" {
		for _, m := range strings.Split(machines, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.Machines = append(cfg.Machines, m)
			}
		}
	}

	if v := envInt(vals, "POLL_INTERVAL_SECONDS", 0); v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Second
	}
	cfg.WindowMinutes = envInt(vals, "WINDOW_MINUTES", cfg.WindowMinutes)
	cfg.MaxRowsPerPoll = envInt(vals, "MAX_ROWS_PER_POLL", cfg.MaxRowsPerPoll)
	cfg.MinSamplesForBaseline = envInt(vals, "MIN_SAMPLES_FOR_BASELINE", cfg.MinSamplesForBaseline)

	if v := envInt(vals, "FETCH_TIMEOUT_SECONDS", 0); v > 0 {
		cfg.FetchTimeout = time.Duration(v) * time.Second
	}
	if v := envInt(vals, "SINK_TIMEOUT_MILLIS", 0); v > 0 {
		cfg.SinkTimeout = time.Duration(v) * time.Millisecond
	}
	if v := envInt(vals, "SHUTDOWN_GRACE_SECONDS", 0); v > 0 {
		cfg.ShutdownGrace = time.Duration(v) * time.Second
	}

	cfg.MLServiceURL = envString(vals, "EXTRUSIGHT_ML_URL", cfg.MLServiceURL)

	cfg.ThresholdsFile = envString(vals, "EXTRUSIGHT_THRESHOLDS_FILE", cfg.ThresholdsFile)
	if cfg.ThresholdsFile != "" {
		thresholds, err := LoadThresholdsFile(cfg.ThresholdsFile)
		if err != nil {
			return nil, fmt.Errorf("load thresholds file %s: %w", cfg.ThresholdsFile, err)
		}
		cfg.Thresholds = *thresholds
	}

	return cfg, nil
}

// WindowDuration returns the configured sliding-window length.
func (c *Config) WindowDuration() time.Duration {
	minutes := c.WindowMinutes
	if minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

// readEnvFile loads the .env file into a map. godotenv.Load would export
// the values into the process environment, where the first load wins and
// later edits are invisible; Read keeps every reload honest.
func readEnvFile(path string) map[string]string {
	vals, err := godotenv.Read(path)
	if err != nil {
		// .env is optional; a missing file is not an error.
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read .env file")
		}
		return nil
	}
	log.Debug().Str("path", path).Msg("Loaded .env file")
	return vals
}

// lookup resolves a key: process environment first, then the .env file.
func lookup(vals map[string]string, key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(vals[key])
}

func envString(vals map[string]string, key, fallback string) string {
	if v := lookup(vals, key); v != "" {
		return v
	}
	return fallback
}

func envInt(vals map[string]string, key string, fallback int) int {
	v := lookup(vals, key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envBool(vals map[string]string, key string, fallback bool) bool {
	v := strings.ToLower(lookup(vals, key))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, using default")
		return fallback
	}
}
