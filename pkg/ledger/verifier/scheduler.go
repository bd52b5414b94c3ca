package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castellan-hq/portcullis/pkg/ledger"
)

// Config contains configuration for the verification scheduler.
type Config struct {
	// Schedule is a standard cron expression. Empty disables scheduled
	// verification.
	//
	// Common cron expressions:
	//   - "0 3 * * *"    - Daily at 3 AM
	//   - "0 */6 * * *"  - Every 6 hours
	Schedule string

	// OnReport, if set, receives every completed integrity report.
	OnReport func(*ledger.IntegrityReport)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Schedule: "0 3 * * *",
	}
}

// Scheduler runs full chain verification on a cron schedule.
type Scheduler struct {
	ledger  *ledger.Ledger
	config  *Config
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a new verification scheduler.
func NewScheduler(l *ledger.Ledger, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		ledger: l,
		config: config,
		cron:   cron.New(),
		logger: slog.Default().With("component", "ledger.verifier"),
	}
}

// Start begins scheduled verification based on the cron expression.
// If the schedule is empty, the scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("verification schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runVerification(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule verification: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("ledger verification scheduler started",
		"schedule", s.config.Schedule,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runVerification executes one verification cycle.
func (s *Scheduler) runVerification(ctx context.Context) {
	s.logger.Info("starting scheduled chain verification")

	report, err := s.ledger.VerifyChain(ctx)
	if err != nil {
		s.logger.Error("scheduled chain verification failed", "error", err)
		return
	}

	if report.Intact {
		s.logger.Info("scheduled chain verification completed",
			"total", report.Total,
		)
	} else {
		s.logger.Error("scheduled chain verification found corruption",
			"total", report.Total,
			"error", report.Err(),
		)
	}

	if s.config.OnReport != nil {
		s.config.OnReport(report)
	}
}

// Stop stops the scheduler and waits for any running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("ledger verification scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled verification time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
