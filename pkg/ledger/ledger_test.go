package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"castellan-hq/portcullis/pkg/ledger"
	"castellan-hq/portcullis/pkg/ledger/storage"
	"castellan-hq/portcullis/pkg/policy"
)

func permittedContext(at time.Time) (*policy.RequestContext, *policy.Decision) {
	return &policy.RequestContext{Time: at, Authorized: true},
		&policy.Decision{Permitted: true}
}

func TestAppendChainsEvents(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	first, err := l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, decision)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if first.Seq != 1 {
		t.Errorf("expected seq 1, got %d", first.Seq)
	}
	if first.PreviousEventHash != ledger.GenesisHash {
		t.Errorf("expected genesis previous hash, got %s", first.PreviousEventHash)
	}
	if first.EventHash == "" || first.ID == "" {
		t.Error("expected hash and id to be assigned")
	}

	second, err := l.Append(ctx, "badge-1", ledger.KindExit, reqCtx, decision)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("expected seq 2, got %d", second.Seq)
	}
	if second.PreviousEventHash != first.EventHash {
		t.Error("expected second event to link to first event's hash")
	}
	if second.EventHash == first.EventHash {
		t.Error("expected distinct hashes for distinct events")
	}
}

func TestVerifyChainIntact(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, fmt.Sprintf("badge-%d", i%3), ledger.KindEntry, reqCtx, decision); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	report, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Intact {
		t.Errorf("expected intact chain, first broken: %s", report.FirstBrokenID)
	}
	if report.Total != 10 {
		t.Errorf("expected 10 events, got %d", report.Total)
	}
}

func TestVerifyChainEmpty(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)

	report, err := l.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Intact || report.Total != 0 {
		t.Errorf("expected intact empty chain, got %+v", report)
	}
}

func TestVerifyChainDetectsPayloadTampering(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	var tamperedID string
	for i := 0; i < 5; i++ {
		event, err := l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, decision)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if event.Seq == 3 {
			tamperedID = event.ID
		}
	}

	// Rewrite the payload of event 3 without touching its hash.
	store.Tamper(3, func(e *ledger.Event) {
		e.EntityID = "badge-forged"
	})

	report, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if report.Intact {
		t.Fatal("expected corruption to be detected")
	}
	if report.FirstBrokenID != tamperedID {
		t.Errorf("expected first broken id %s, got %s", tamperedID, report.FirstBrokenID)
	}
	if report.FirstBrokenSeq != 3 {
		t.Errorf("expected first broken seq 3, got %d", report.FirstBrokenSeq)
	}
	if report.Total != 5 {
		t.Errorf("expected total 5 despite corruption, got %d", report.Total)
	}

	var corrupted *ledger.ChainCorruptedError
	if !errors.As(report.Err(), &corrupted) {
		t.Fatalf("expected ChainCorruptedError, got %v", report.Err())
	}
	if corrupted.Seq != 3 || corrupted.Detail == "" {
		t.Errorf("unexpected corruption error: %v", corrupted)
	}
}

func TestVerifyChainDetectsIDTampering(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, decision); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// The identifier is part of the hashed payload; rewriting it must
	// break verification like any other field.
	store.Tamper(2, func(e *ledger.Event) {
		e.ID = "forged-id"
	})

	report, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if report.Intact {
		t.Fatal("expected rewritten event id to be detected")
	}
	if report.FirstBrokenSeq != 2 {
		t.Errorf("expected first broken seq 2, got %d", report.FirstBrokenSeq)
	}
	if report.Total != 3 {
		t.Errorf("expected total 3 despite corruption, got %d", report.Total)
	}
}

func TestVerifyChainDetectsRelinking(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, decision); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// Rewriting payload AND hash still breaks the next event's back-link.
	store.Tamper(2, func(e *ledger.Event) {
		e.EntityID = "badge-forged"
		hash, err := ledger.ComputeEventHash(e, e.PreviousEventHash)
		if err != nil {
			t.Fatalf("ComputeEventHash failed: %v", err)
		}
		e.EventHash = hash
	})

	report, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if report.Intact {
		t.Fatal("expected broken back-link to be detected")
	}
}

func TestReceiptOutsideHash(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	event, err := l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, decision)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := l.SetReceipt(ctx, event.ID, "notary-receipt-xyz"); err != nil {
		t.Fatalf("SetReceipt failed: %v", err)
	}

	report, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Intact {
		t.Error("attaching a receipt must not break the chain")
	}

	events, _ := l.Events(ctx)
	if events[0].Receipt != "notary-receipt-xyz" {
		t.Errorf("expected receipt to be stored, got %q", events[0].Receipt)
	}
}

func TestConcurrentAppendsFormSingleChain(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				reqCtx, decision := permittedContext(at)
				if _, err := l.Append(ctx, fmt.Sprintf("badge-%d", w), ledger.KindEntry, reqCtx, decision); err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	report, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if !report.Intact {
		t.Errorf("expected intact chain after concurrent appends, first broken: %s", report.FirstBrokenID)
	}
	if report.Total != writers*perWriter {
		t.Errorf("expected %d events, got %d", writers*perWriter, report.Total)
	}
}

// wrappingStorage decorates Last to wrap the empty sentinel the way a
// remote or instrumented backend might.
type wrappingStorage struct {
	ledger.Storage
}

func (w wrappingStorage) Last(ctx context.Context) (*ledger.Event, error) {
	event, err := w.Storage.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain head lookup: %w", err)
	}
	return event, nil
}

func TestAppendAcceptsWrappedEmptySentinel(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(wrappingStorage{store}, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, decision := permittedContext(at)

	event, err := l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, decision)
	if err != nil {
		t.Fatalf("Append failed on wrapped empty sentinel: %v", err)
	}
	if event.Seq != 1 || event.PreviousEventHash != ledger.GenesisHash {
		t.Errorf("expected genesis event, got seq %d previous %s", event.Seq, event.PreviousEventHash)
	}
}

func TestEntryCount(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	l := ledger.New(store, nil)
	ctx := context.Background()

	at := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	reqCtx, permitted := permittedContext(at)
	denied := &policy.Decision{Permitted: false, Motive: "curfew", PolicyID: "curfew"}

	l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, permitted)
	l.Append(ctx, "badge-1", ledger.KindExit, reqCtx, permitted)
	l.Append(ctx, "badge-1", ledger.KindEntry, reqCtx, permitted)
	l.Append(ctx, "badge-1", ledger.KindRejection, reqCtx, denied)
	l.Append(ctx, "badge-2", ledger.KindEntry, reqCtx, permitted)

	count, err := l.EntryCount(ctx, "badge-1", at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("EntryCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 entries for badge-1, got %d", count)
	}

	count, _ = l.EntryCount(ctx, "badge-1", time.Now().Add(time.Hour))
	if count != 0 {
		t.Errorf("expected 0 entries after future cutoff, got %d", count)
	}
}
