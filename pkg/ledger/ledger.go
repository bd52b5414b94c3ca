package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"castellan-hq/portcullis/pkg/policy"
)

// Ledger seals access events into a hash chain.
//
// Append is serialized through an internal mutex so the chain has a
// single writer regardless of how many goroutines record events.
type Ledger struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New creates a ledger over the given storage backend.
func New(storage Storage, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		storage: storage,
		logger:  logger.With("component", "ledger"),
		now:     time.Now,
	}
}

// Append seals a new event onto the chain and persists it.
//
// The event's sequence number and previous-hash link are derived from
// the current chain head under the writer lock; the caller supplies
// only the domain payload.
func (l *Ledger) Append(ctx context.Context, entityID string, kind Kind, reqCtx *policy.RequestContext, decision *policy.Decision) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	previousHash := GenesisHash
	var seq int64 = 1

	last, err := l.storage.Last(ctx)
	if err != nil && !errors.Is(err, ErrEmpty) {
		return nil, NewWriteError(entityID, err)
	}
	if last != nil {
		previousHash = last.EventHash
		seq = last.Seq + 1
	}

	event := &Event{
		ID:                uuid.New().String(),
		Seq:               seq,
		EntityID:          entityID,
		Kind:              kind,
		Context:           *reqCtx,
		Decision:          *decision,
		Timestamp:         l.now(),
		PreviousEventHash: previousHash,
	}

	event.EventHash, err = ComputeEventHash(event, previousHash)
	if err != nil {
		return nil, NewWriteError(entityID, err)
	}

	if err := l.storage.Append(ctx, event); err != nil {
		return nil, NewWriteError(entityID, err)
	}

	l.logger.Info("ledger event appended",
		"event_id", event.ID,
		"seq", event.Seq,
		"entity_id", entityID,
		"kind", kind,
		"permitted", decision.Permitted,
	)

	return event, nil
}

// SetReceipt attaches a notarization receipt to a sealed event. The
// receipt is stored outside the hashed payload, so attaching it never
// disturbs the chain.
func (l *Ledger) SetReceipt(ctx context.Context, eventID, receipt string) error {
	return l.storage.SetReceipt(ctx, eventID, receipt)
}

// EntryCount reports how many permitted entries the entity accumulated
// since the given instant. It satisfies the evaluation engine's counter
// dependency.
func (l *Ledger) EntryCount(ctx context.Context, entityID string, since time.Time) (int, error) {
	return l.storage.CountEntries(ctx, entityID, since)
}

// Events returns the full chain in sequence order.
func (l *Ledger) Events(ctx context.Context) ([]*Event, error) {
	return l.storage.All(ctx)
}

// VerifyChain walks the entire chain and recomputes every link.
//
// The scan does not stop at the first break: the report always carries
// the full event count, with FirstBrokenID naming the earliest failure.
func (l *Ledger) VerifyChain(ctx context.Context) (*IntegrityReport, error) {
	events, err := l.storage.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}

	report := &IntegrityReport{
		Intact: true,
		Total:  int64(len(events)),
	}

	previousHash := GenesisHash
	var expectedSeq int64 = 1

	for _, event := range events {
		broken := ""

		if event.Seq != expectedSeq {
			broken = fmt.Sprintf("expected seq %d, found %d", expectedSeq, event.Seq)
		} else if event.PreviousEventHash != previousHash {
			broken = "previous-hash link does not match chain head"
		} else {
			computed, err := ComputeEventHash(event, event.PreviousEventHash)
			if err != nil {
				return nil, fmt.Errorf("failed to recompute hash for event %s: %w", event.ID, err)
			}
			if computed != event.EventHash {
				broken = "stored hash does not match recomputed payload hash"
			}
		}

		if broken != "" && report.Intact {
			report.Intact = false
			report.FirstBrokenID = event.ID
			report.FirstBrokenSeq = event.Seq
			report.Detail = broken

			l.logger.Error("ledger chain verification failed",
				"event_id", event.ID,
				"seq", event.Seq,
				"detail", broken,
			)
		}

		previousHash = event.EventHash
		expectedSeq = event.Seq + 1
	}

	if report.Intact {
		l.logger.Info("ledger chain verified", "total", report.Total)
	}

	return report, nil
}
