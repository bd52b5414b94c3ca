package access_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"castellan-hq/portcullis/pkg/access"
	"castellan-hq/portcullis/pkg/audit"
	"castellan-hq/portcullis/pkg/entity"
	entitystorage "castellan-hq/portcullis/pkg/entity/storage"
	"castellan-hq/portcullis/pkg/ledger"
	ledgerstorage "castellan-hq/portcullis/pkg/ledger/storage"
	"castellan-hq/portcullis/pkg/policy"
	"castellan-hq/portcullis/pkg/policy/engine"
	"castellan-hq/portcullis/pkg/policy/source"
	policystorage "castellan-hq/portcullis/pkg/policy/storage"
)

type fixture struct {
	entities *entitystorage.MemoryStore
	policies *policystorage.MemoryStore
	set      *source.ActiveSet
	ledger   *ledger.Ledger
	events   *ledgerstorage.MemoryStorage
	trail    *audit.MemoryTrail
}

func newFixture(t *testing.T, notary access.Notary) (*fixture, *access.Orchestrator) {
	t.Helper()

	f := &fixture{
		entities: entitystorage.NewMemoryStore(),
		policies: policystorage.NewMemoryStore(),
		events:   ledgerstorage.NewMemoryStorage(),
		trail:    audit.NewMemoryTrail(),
	}
	f.set = source.NewActiveSet(f.policies, nil)
	f.ledger = ledger.New(f.events, nil)

	orch := access.New(f.entities, f.set, engine.New(nil), f.ledger, f.trail, notary, nil)
	return f, orch
}

func (f *fixture) addEntity(t *testing.T, attributes map[string]any) *entity.Entity {
	t.Helper()
	ent, err := f.entities.Create(context.Background(), entity.TypePerson, attributes)
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}
	return ent
}

func (f *fixture) addPolicy(t *testing.T, p *policy.Policy) {
	t.Helper()
	if err := f.policies.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create policy: %v", err)
	}
	f.set.Invalidate()
}

func request(entityID string, direction access.Type, at time.Time) *access.Request {
	return &access.Request{
		EntityID: entityID,
		Access:   direction,
		Context:  policy.RequestContext{Time: at, Authorized: true},
		Actor:    "gate-daemon",
		Device:   "gate-north",
	}
}

func TestProcessAccessFailOpen(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})
	ctx := context.Background()

	outcome, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, time.Now()))
	if err != nil {
		t.Fatalf("ProcessAccess failed: %v", err)
	}
	if !outcome.Decision.Permitted {
		t.Errorf("expected permit with zero policies, got motive %q", outcome.Decision.Motive)
	}
	if outcome.EventID == "" || outcome.EventHash == "" {
		t.Error("expected event id and hash in outcome")
	}

	events, _ := f.ledger.Events(ctx)
	if len(events) != 1 || events[0].Kind != ledger.KindEntry {
		t.Fatalf("expected one entry event, got %v", events)
	}

	records, _ := f.trail.List(ctx, 0)
	if len(records) != 1 || records[0].Action != audit.ActionAccessPermitted {
		t.Fatalf("expected one permitted audit record, got %v", records)
	}
	if records[0].EventID != outcome.EventID {
		t.Error("expected audit record to reference the ledger event")
	}
}

func TestProcessAccessUnknownEntity(t *testing.T) {
	f, orch := newFixture(t, nil)
	ctx := context.Background()

	_, err := orch.ProcessAccess(ctx, request("no-such-badge", access.TypeEntry, time.Now()))
	if !errors.Is(err, access.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}

	count, _ := f.events.Count(ctx)
	if count != 0 {
		t.Errorf("expected no events for unknown entity, got %d", count)
	}
}

func TestProcessAccessDenialRecordsRejection(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"deny_listed": true})
	f.addPolicy(t, &policy.Policy{
		ID:       "deny-list",
		Name:     "deny list",
		Priority: 1,
		Scope:    policy.ScopeGlobal,
		Active:   true,
		Condition: policy.Condition{
			Kind: policy.ConditionDenyList,
		},
	})
	ctx := context.Background()

	outcome, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, time.Now()))
	if err != nil {
		t.Fatalf("ProcessAccess failed: %v", err)
	}
	if outcome.Decision.Permitted {
		t.Fatal("expected denial for deny-listed entity")
	}
	if outcome.Decision.PolicyID != "deny-list" {
		t.Errorf("expected policy id deny-list, got %q", outcome.Decision.PolicyID)
	}

	events, _ := f.ledger.Events(ctx)
	if len(events) != 1 || events[0].Kind != ledger.KindRejection {
		t.Fatalf("expected one rejection event, got %v", events)
	}

	records, _ := f.trail.List(ctx, 0)
	if len(records) != 1 || records[0].Action != audit.ActionAccessDenied {
		t.Fatalf("expected one denied audit record, got %v", records)
	}
}

func TestProcessAccessMaxPerDay(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})
	f.addPolicy(t, &policy.Policy{
		ID:       "limit",
		Name:     "daily limit",
		Priority: 1,
		Scope:    policy.ScopeGlobal,
		Active:   true,
		Condition: policy.Condition{
			Kind: policy.ConditionMaxPerDay,
			Max:  2,
		},
	})
	ctx := context.Background()
	at := time.Now()

	for i := 0; i < 2; i++ {
		outcome, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, at))
		if err != nil {
			t.Fatalf("ProcessAccess %d failed: %v", i+1, err)
		}
		if !outcome.Decision.Permitted {
			t.Fatalf("expected entry %d to be permitted, got motive %q", i+1, outcome.Decision.Motive)
		}
	}

	outcome, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, at))
	if err != nil {
		t.Fatalf("ProcessAccess failed: %v", err)
	}
	if outcome.Decision.Permitted {
		t.Fatal("expected third entry to be denied")
	}
	if outcome.Decision.PolicyID != "limit" {
		t.Errorf("expected policy id limit, got %q", outcome.Decision.PolicyID)
	}

	// Exits do not count against the entry limit.
	events, _ := f.ledger.Events(ctx)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[2].Kind != ledger.KindRejection {
		t.Errorf("expected final event to be a rejection, got %s", events[2].Kind)
	}
}

func TestProcessAccessInvalidType(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})

	_, err := orch.ProcessAccess(context.Background(), request(ent.ID, access.Type("loiter"), time.Now()))
	if err == nil {
		t.Error("expected error for unknown access type")
	}
}

type stubNotary struct {
	receipt string
	err     error
	calls   int
}

func (n *stubNotary) Notarize(ctx context.Context, event *ledger.Event) (string, error) {
	n.calls++
	return n.receipt, n.err
}

func TestProcessAccessStoresNotaryReceipt(t *testing.T) {
	notary := &stubNotary{receipt: "receipt-42"}
	f, orch := newFixture(t, notary)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})
	ctx := context.Background()

	outcome, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, time.Now()))
	if err != nil {
		t.Fatalf("ProcessAccess failed: %v", err)
	}
	if notary.calls != 1 {
		t.Errorf("expected 1 notary call, got %d", notary.calls)
	}

	events, _ := f.ledger.Events(ctx)
	if events[0].Receipt != "receipt-42" {
		t.Errorf("expected receipt stored on event, got %q", events[0].Receipt)
	}

	// The receipt sits outside the hash: the chain still verifies.
	report, err := f.ledger.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Intact {
		t.Error("expected intact chain after receipt attachment")
	}
	if events[0].ID != outcome.EventID {
		t.Error("expected outcome to reference the sealed event")
	}
}

func TestProcessAccessNotaryFailureDoesNotRollBack(t *testing.T) {
	notary := &stubNotary{err: fmt.Errorf("notary unreachable")}
	f, orch := newFixture(t, notary)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})
	ctx := context.Background()

	outcome, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, time.Now()))
	if err != nil {
		t.Fatalf("expected notary failure to be absorbed, got %v", err)
	}
	if !outcome.Decision.Permitted {
		t.Error("expected permit despite notary failure")
	}

	count, _ := f.events.Count(ctx)
	if count != 1 {
		t.Errorf("expected the event to remain, got %d events", count)
	}
}

func TestProcessAccessLeavesRequestUntouched(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})

	req := request(ent.ID, access.TypeEntry, time.Time{})
	if _, err := orch.ProcessAccess(context.Background(), req); err != nil {
		t.Fatalf("ProcessAccess failed: %v", err)
	}

	// The zero time is defaulted on an internal copy, not on the
	// caller's request.
	if !req.Context.Time.IsZero() {
		t.Errorf("expected caller request to stay untouched, got time %v", req.Context.Time)
	}

	events, _ := f.ledger.Events(context.Background())
	if len(events) != 1 || events[0].Context.Time.IsZero() {
		t.Fatal("expected the sealed event to carry the defaulted time")
	}
}

func TestConcurrentProcessAccessFormsSingleChain(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})
	ctx := context.Background()

	const callers = 6
	const perCaller = 10

	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				if _, err := orch.ProcessAccess(ctx, request(ent.ID, access.TypeEntry, time.Now())); err != nil {
					t.Errorf("ProcessAccess failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	report, err := f.ledger.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Intact {
		t.Errorf("expected intact chain after concurrent processing, first broken: %s", report.FirstBrokenID)
	}
	if report.Total != callers*perCaller {
		t.Errorf("expected %d events, got %d", callers*perCaller, report.Total)
	}

	events, _ := f.ledger.Events(ctx)
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("expected contiguous sequence, got %d at position %d", event.Seq, i)
		}
	}
}

func TestProcessAccessPriorityOrdering(t *testing.T) {
	f, orch := newFixture(t, nil)
	ent := f.addEntity(t, map[string]any{"name": "Ada"})

	// Higher-priority (lower number) policy decides even when a later
	// policy would also block.
	f.addPolicy(t, &policy.Policy{
		ID:       "first",
		Name:     "authorization gate",
		Priority: 1,
		Scope:    policy.ScopeGlobal,
		Active:   true,
		Condition: policy.Condition{
			Kind: policy.ConditionRequireAuth,
		},
	})
	f.addPolicy(t, &policy.Policy{
		ID:       "second",
		Name:     "deny list",
		Priority: 2,
		Scope:    policy.ScopeGlobal,
		Active:   true,
		Condition: policy.Condition{
			Kind: policy.ConditionDenyList,
		},
	})

	req := request(ent.ID, access.TypeEntry, time.Now())
	req.Context.Authorized = false
	req.Context.DenyListed = true

	outcome, err := orch.ProcessAccess(context.Background(), req)
	if err != nil {
		t.Fatalf("ProcessAccess failed: %v", err)
	}
	if outcome.Decision.PolicyID != "first" {
		t.Errorf("expected the priority-1 policy to decide, got %q", outcome.Decision.PolicyID)
	}
}
