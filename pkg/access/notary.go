package access

import (
	"context"

	"castellan-hq/portcullis/pkg/ledger"
)

// Notary produces an external attestation receipt for a sealed event.
//
// Notarization is best-effort: a failing notary never rolls back the
// event it was asked to attest.
type Notary interface {
	// Notarize returns a receipt for the event.
	Notarize(ctx context.Context, event *ledger.Event) (string, error)
}

// NoopNotary is a Notary that attests nothing.
type NoopNotary struct{}

// Notarize returns an empty receipt.
func (NoopNotary) Notarize(ctx context.Context, event *ledger.Event) (string, error) {
	return "", nil
}
