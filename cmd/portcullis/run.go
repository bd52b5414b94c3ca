package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"castellan-hq/portcullis/pkg/audit"
	"castellan-hq/portcullis/pkg/cli"
	"castellan-hq/portcullis/pkg/config"
	entitystorage "castellan-hq/portcullis/pkg/entity/storage"
	"castellan-hq/portcullis/pkg/ledger"
	ledgerstorage "castellan-hq/portcullis/pkg/ledger/storage"
	"castellan-hq/portcullis/pkg/ledger/verifier"
	"castellan-hq/portcullis/pkg/policy/source"
	policystorage "castellan-hq/portcullis/pkg/policy/storage"
	"castellan-hq/portcullis/pkg/telemetry/logging"
	"castellan-hq/portcullis/pkg/telemetry/metrics"
)

var runFlags struct {
	logLevel string
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Portcullis daemon",
	Long: `Start the Portcullis daemon with the specified configuration.

The daemon opens the entity, policy, ledger and audit stores (creating
their schemas on first run), loads the policy files, runs scheduled
chain verification, and serves Prometheus metrics. Access attempts are
processed against the same stores with 'portcullis access'.

Examples:
  # Start with default config
  portcullis run

  # Start with custom config
  portcullis run --config /etc/portcullis/config.yaml

  # Validate config without starting
  portcullis run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if _, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	}); err != nil {
		return cli.NewConfigError("logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx := cli.SetupSignalHandler()

	// Stores
	entityStore, err := entitystorage.NewSQLiteStore(&entitystorage.SQLiteConfig{
		Path:        cfg.Storage.EntityPath,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer entityStore.Close()

	policyStore, err := policystorage.NewSQLiteStore(&policystorage.SQLiteConfig{
		Path:        cfg.Storage.PolicyPath,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer policyStore.Close()

	ledgerStore, err := ledgerstorage.NewSQLiteStorage(&ledgerstorage.SQLiteConfig{
		Path:        cfg.Storage.LedgerPath,
		WALMode:     true,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer ledgerStore.Close()

	trail, err := audit.NewSQLiteTrail(&audit.SQLiteConfig{
		Path:        cfg.Storage.AuditPath,
		WALMode:     true,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer trail.Close()

	eventLedger := ledger.New(ledgerStore, nil)

	// Policy loading and hot reload
	activeSet := source.NewActiveSet(policyStore, nil)

	if cfg.Policies.Path != "" {
		fileSource := source.NewFileSource(cfg.Policies.Path, nil)
		if err := fileSource.Sync(ctx, policyStore, activeSet); err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to load policies: %w", err))
		}

		if cfg.Policies.Watch {
			watcherConfig := source.DefaultFileWatcherConfig()
			watcherConfig.Path = cfg.Policies.Path
			watcherConfig.DebounceInterval = cfg.Policies.DebounceInterval

			watcher, err := source.NewFileWatcher(watcherConfig, nil)
			if err != nil {
				return cli.NewCommandError("run", err)
			}
			go func() {
				if err := watcher.Watch(ctx, func() error {
					return fileSource.Sync(ctx, policyStore, activeSet)
				}); err != nil {
					slog.Error("policy watcher stopped", "error", err)
				}
			}()
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metricsConfig := &metrics.Config{Namespace: cfg.Metrics.Namespace}
	ledgerMetrics := metrics.NewLedgerMetrics(metricsConfig, registry)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		server := &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics server listening", "address", cfg.Metrics.ListenAddress)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	// Scheduled chain verification
	scheduler := verifier.NewScheduler(eventLedger, &verifier.Config{
		Schedule: cfg.Ledger.VerifySchedule,
		OnReport: func(report *ledger.IntegrityReport) {
			ledgerMetrics.RecordVerification(report.Intact)
		},
	})
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer scheduler.Stop()

	slog.Info("portcullis daemon started",
		"version", Version,
		"entity_store", cfg.Storage.EntityPath,
		"ledger_store", cfg.Storage.LedgerPath,
	)

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
