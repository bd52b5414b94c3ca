package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"castellan-hq/portcullis/pkg/audit"
	"castellan-hq/portcullis/pkg/entity"
	"castellan-hq/portcullis/pkg/ledger"
	"castellan-hq/portcullis/pkg/policy"
	"castellan-hq/portcullis/pkg/policy/engine"
	"castellan-hq/portcullis/pkg/policy/source"
	"castellan-hq/portcullis/pkg/telemetry/metrics"
)

// Config contains configuration for the orchestrator.
type Config struct {
	// StoreTimeout bounds every storage call made while processing one
	// access attempt. Default: 5 seconds
	StoreTimeout time.Duration

	// NotaryTimeout bounds the notarization hook. Default: 2 seconds
	NotaryTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		StoreTimeout:  5 * time.Second,
		NotaryTimeout: 2 * time.Second,
	}
}

// Orchestrator processes access attempts end to end: lookup, decide,
// emit, return.
type Orchestrator struct {
	entities  entity.Store
	policies  *source.ActiveSet
	engine    *engine.Engine
	ledger    *ledger.Ledger
	trail     audit.Trail
	notary    Notary
	config    *Config
	accessMet *metrics.AccessMetrics
	ledgerMet *metrics.LedgerMetrics
	logger    *slog.Logger
}

// New creates an orchestrator over the given collaborators. The trail,
// notary, and metrics are optional.
func New(entities entity.Store, policies *source.ActiveSet, eng *engine.Engine, l *ledger.Ledger, trail audit.Trail, notary Notary, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if notary == nil {
		notary = NoopNotary{}
	}
	return &Orchestrator{
		entities: entities,
		policies: policies,
		engine:   eng,
		ledger:   l,
		trail:    trail,
		notary:   notary,
		config:   config,
		logger:   slog.Default().With("component", "access.orchestrator"),
	}
}

// WithMetrics attaches decision and ledger metrics recorders.
func (o *Orchestrator) WithMetrics(accessMet *metrics.AccessMetrics, ledgerMet *metrics.LedgerMetrics) *Orchestrator {
	o.accessMet = accessMet
	o.ledgerMet = ledgerMet
	return o
}

// ProcessAccess decides one access attempt and seals the outcome into
// the ledger.
//
// An unknown entity returns ErrEntityNotFound and emits nothing. A
// denial is recorded as a rejection event. Ledger append failures
// surface as ledger.WriteError; the attempt is not retried. The audit
// record and notarization receipt follow the append and never undo it.
func (o *Orchestrator) ProcessAccess(ctx context.Context, req *Request) (*Outcome, error) {
	start := time.Now()

	if err := req.Access.Validate(); err != nil {
		return nil, err
	}

	// The request stays caller-owned; defaults land on a copy.
	reqCtx := req.Context
	if reqCtx.Time.IsZero() {
		reqCtx.Time = start
	}

	ent, err := o.lookup(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}

	decision, err := o.decide(ctx, ent, &reqCtx)
	if err != nil {
		return nil, err
	}

	kind := req.Access.eventKind()
	if !decision.Permitted {
		kind = ledger.KindRejection
	}

	event, err := o.emit(ctx, ent, &reqCtx, kind, decision)
	if err != nil {
		return nil, err
	}

	o.recordAudit(ctx, ent, req, event, decision)
	o.notarize(ctx, event)

	duration := time.Since(start)
	if o.accessMet != nil {
		o.accessMet.RecordDecision(decision.Permitted, decision.PolicyID, duration)
	}
	if o.ledgerMet != nil {
		o.ledgerMet.RecordAppend(string(event.Kind), event.Seq)
	}

	o.logger.Info("access attempt processed",
		"entity_id", req.EntityID,
		"access", req.Access,
		"permitted", decision.Permitted,
		"event_id", event.ID,
		"duration_ms", duration.Milliseconds(),
	)

	return &Outcome{
		EventID:   event.ID,
		EventHash: event.EventHash,
		Decision:  *decision,
	}, nil
}

// lookup fetches the entity under the store timeout.
func (o *Orchestrator) lookup(ctx context.Context, entityID string) (*entity.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
	defer cancel()

	ent, err := o.entities.Get(ctx, entityID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("entity lookup failed: %w", err)
	}
	return ent, nil
}

// decide evaluates the active policy set against the entity.
func (o *Orchestrator) decide(ctx context.Context, ent *entity.Entity, reqCtx *policy.RequestContext) (*policy.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
	defer cancel()

	policies, err := o.policies.Policies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active policies: %w", err)
	}

	return o.engine.Evaluate(ctx, ent, reqCtx, policies, o.ledger.EntryCount)
}

// emit seals the event onto the ledger chain.
func (o *Orchestrator) emit(ctx context.Context, ent *entity.Entity, reqCtx *policy.RequestContext, kind ledger.Kind, decision *policy.Decision) (*ledger.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
	defer cancel()

	return o.ledger.Append(ctx, ent.ID, kind, reqCtx, decision)
}

// recordAudit writes the operator-visible record. Failures are logged
// and never undo the ledger append.
func (o *Orchestrator) recordAudit(ctx context.Context, ent *entity.Entity, req *Request, event *ledger.Event, decision *policy.Decision) {
	if o.trail == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
	defer cancel()

	action := audit.ActionAccessPermitted
	if !decision.Permitted {
		action = audit.ActionAccessDenied
	}

	snapshot, err := audit.Snapshot(ent)
	if err != nil {
		o.logger.Error("failed to snapshot entity for audit", "entity_id", ent.ID, "error", err)
		return
	}

	record := &audit.Record{
		EventID:  event.ID,
		EntityID: ent.ID,
		Actor:    req.Actor,
		Device:   req.Device,
		Action:   action,
		NewValue: snapshot,
	}
	if err := o.trail.Append(ctx, record); err != nil {
		o.logger.Error("failed to write audit record",
			"event_id", event.ID,
			"entity_id", ent.ID,
			"error", err,
		)
	}
}

// notarize asks the notary for a receipt and attaches it to the event.
// Failures are logged and never undo the ledger append.
func (o *Orchestrator) notarize(ctx context.Context, event *ledger.Event) {
	ctx, cancel := context.WithTimeout(ctx, o.config.NotaryTimeout)
	defer cancel()

	receipt, err := o.notary.Notarize(ctx, event)
	if err != nil {
		o.logger.Warn("notarization failed",
			"event_id", event.ID,
			"error", err,
		)
		return
	}
	if receipt == "" {
		return
	}

	if err := o.ledger.SetReceipt(ctx, event.ID, receipt); err != nil {
		o.logger.Error("failed to store notarization receipt",
			"event_id", event.ID,
			"error", err,
		)
	}
}
