package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"castellan-hq/portcullis/pkg/access"
	"castellan-hq/portcullis/pkg/audit"
	"castellan-hq/portcullis/pkg/cli"
	"castellan-hq/portcullis/pkg/config"
	entitystorage "castellan-hq/portcullis/pkg/entity/storage"
	"castellan-hq/portcullis/pkg/ledger"
	ledgerstorage "castellan-hq/portcullis/pkg/ledger/storage"
	"castellan-hq/portcullis/pkg/policy"
	"castellan-hq/portcullis/pkg/policy/engine"
	"castellan-hq/portcullis/pkg/policy/source"
	policystorage "castellan-hq/portcullis/pkg/policy/storage"
	"castellan-hq/portcullis/pkg/telemetry/logging"
	"castellan-hq/portcullis/pkg/telemetry/metrics"
)

var accessFlags struct {
	entityID   string
	accessType string
	actor      string
	device     string
	authorized bool
	at         string
}

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Process one access attempt",
	Long: `Process one access attempt through the full decision pipeline:
entity lookup, policy evaluation, ledger append, audit record.

The decision and the sealed event are printed. A denial is a normal
outcome, not an error; the command fails only when processing itself
fails.

Examples:
  # Process an entry attempt
  portcullis access --entity badge-1041 --type entry --actor operator-7

  # Process an authorized visitor entry from a named gate
  portcullis access --entity visit-88 --type entry --authorized --device gate-north`,
	RunE: runAccess,
}

func init() {
	rootCmd.AddCommand(accessCmd)

	accessCmd.Flags().StringVar(&accessFlags.entityID, "entity", "", "entity id (required)")
	accessCmd.Flags().StringVar(&accessFlags.accessType, "type", "entry", "access type (entry, exit)")
	accessCmd.Flags().StringVar(&accessFlags.actor, "actor", "operator", "who is recording the attempt")
	accessCmd.Flags().StringVar(&accessFlags.device, "device", "", "gate or terminal the attempt came from")
	accessCmd.Flags().BoolVar(&accessFlags.authorized, "authorized", false, "attempt carries an authorization")
	accessCmd.Flags().StringVar(&accessFlags.at, "at", "", "attempt time in RFC3339 (default now)")
	_ = accessCmd.MarkFlagRequired("entity")
}

func runAccess(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	level := cfg.Logging.Level
	if !verbose {
		level = "error"
	}
	if _, err := logging.Setup(logging.Config{Level: level, Format: cfg.Logging.Format}); err != nil {
		return cli.NewConfigError("logging", err.Error())
	}

	var at time.Time
	if accessFlags.at != "" {
		if at, err = time.Parse(time.RFC3339, accessFlags.at); err != nil {
			return cli.NewConfigError("at", fmt.Sprintf("invalid time: %v", err))
		}
	}

	orch, closeStores, err := buildPipeline(cfg)
	if err != nil {
		return cli.NewCommandError("access", err)
	}
	defer closeStores()

	outcome, err := orch.ProcessAccess(context.Background(), &access.Request{
		EntityID: accessFlags.entityID,
		Access:   access.Type(accessFlags.accessType),
		Context:  policy.RequestContext{Time: at, Authorized: accessFlags.authorized},
		Actor:    accessFlags.actor,
		Device:   accessFlags.device,
	})
	if err != nil {
		return cli.NewCommandError("access", err)
	}

	if outcome.Decision.Permitted {
		fmt.Println("Decision: PERMITTED")
	} else {
		fmt.Println("Decision: DENIED")
		fmt.Printf("Motive:   %s\n", outcome.Decision.Motive)
		fmt.Printf("Policy:   %s\n", outcome.Decision.PolicyID)
	}
	fmt.Printf("Event:    %s\n", outcome.EventID)
	fmt.Printf("Hash:     %s\n", outcome.EventHash)
	return nil
}

// buildPipeline wires the decision pipeline against the configured
// SQLite stores. The returned closer releases all of them.
func buildPipeline(cfg *config.Config) (*access.Orchestrator, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	trail, err := audit.NewSQLiteTrail(&audit.SQLiteConfig{
		Path:        cfg.Storage.AuditPath,
		WALMode:     true,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, trail.Close)

	entityStore, err := entitystorage.NewSQLiteStore(&entitystorage.SQLiteConfig{
		Path:        cfg.Storage.EntityPath,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, entityStore.Close)

	policyStore, err := policystorage.NewSQLiteStore(&policystorage.SQLiteConfig{
		Path:        cfg.Storage.PolicyPath,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, policyStore.Close)

	ledgerStore, err := ledgerstorage.NewSQLiteStorage(&ledgerstorage.SQLiteConfig{
		Path:        cfg.Storage.LedgerPath,
		WALMode:     true,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, ledgerStore.Close)

	registry := prometheus.NewRegistry()
	metricsConfig := &metrics.Config{Namespace: cfg.Metrics.Namespace}

	entities := audit.NewEntityStore(entityStore, trail, accessFlags.actor, nil)
	orch := access.New(
		entities,
		source.NewActiveSet(policyStore, nil),
		engine.New(nil),
		ledger.New(ledgerStore, nil),
		trail,
		nil,
		&access.Config{
			StoreTimeout:  cfg.Access.StoreTimeout,
			NotaryTimeout: cfg.Access.NotaryTimeout,
		},
	).WithMetrics(
		metrics.NewAccessMetrics(metricsConfig, registry),
		metrics.NewLedgerMetrics(metricsConfig, registry),
	)

	return orch, closeAll, nil
}
