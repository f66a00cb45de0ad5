package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/extrusight/extrusight/internal/baseline"
	"github.com/extrusight/extrusight/internal/config"
	"github.com/extrusight/extrusight/internal/events"
	"github.com/extrusight/extrusight/internal/historian"
	"github.com/extrusight/extrusight/internal/logging"
	"github.com/extrusight/extrusight/internal/ml"
	"github.com/extrusight/extrusight/internal/monitoring"
	"github.com/extrusight/extrusight/internal/profiles"
	"github.com/extrusight/extrusight/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "extrusight",
	Short:   "Extrusight - extruder condition monitoring service",
	Long:    `Extrusight ingests extruder snapshots from a historian, classifies the machine state, learns per-material baselines and evaluates process quality in real time`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Extrusight %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("historian.enabled: %v\n", cfg.Historian.Enabled)
		fmt.Printf("historian.driver: %s\n", cfg.Historian.Driver)
		fmt.Printf("historian.table: %s\n", cfg.Historian.Table)
		fmt.Printf("machines: %v\n", cfg.Machines)
		fmt.Printf("poll_interval: %s\n", cfg.PollInterval)
		fmt.Printf("window_minutes: %d\n", cfg.WindowMinutes)
		fmt.Printf("max_rows_per_poll: %d\n", cfg.MaxRowsPerPoll)
		fmt.Printf("min_samples_for_baseline: %d\n", cfg.MinSamplesForBaseline)
		fmt.Printf("thresholds_file: %s\n", cfg.ThresholdsFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline defaults for early startup logs; re-initialized below from
	// configuration.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "extrusight",
	})
	defer logging.Shutdown()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "extrusight",
		FilePath:  cfg.LogFile,
	})

	log.Info().Str("version", Version).Msg("Starting Extrusight monitoring service")

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer st.Close()

	source, err := historian.NewSQLSource(cfg.Historian)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open historian source")
	}
	defer source.Close()

	registry := profiles.New(st)
	learner := baseline.New(st, cfg.MinSamplesForBaseline)
	hub := events.NewHub(cfg.SinkTimeout)

	var mlClient *ml.Client
	if cfg.MLServiceURL != "" {
		mlClient = ml.NewClient(cfg.MLServiceURL, 0)
		log.Info().Str("url", cfg.MLServiceURL).Msg("Anomaly scoring enabled")
	}

	cfgStore := config.NewStore(cfg)
	monitor := monitoring.New(monitoring.Options{
		ConfigStore: cfgStore,
		Source:      source,
		Store:       st,
		Registry:    registry,
		Learner:     learner,
		Sink:        hub,
		MLClient:    mlClient,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)

	watcher, err := config.NewWatcher(cfgStore)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, changes require SIGHUP or restart")
	} else {
		watcher.SetReloadCallback(monitor.Reload)
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer watcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration...")
			if watcher != nil {
				watcher.Reload()
			} else {
				monitor.Reload()
			}
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
			snapshot, _ := cfgStore.Snapshot()
			monitor.Stop(snapshot.ShutdownGrace)
			log.Info().Msg("Service stopped")
			return
		}
	}
}
