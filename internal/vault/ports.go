// internal/vault/ports.go
package vault

import (
	"context"
	"time"
)

// LedgerTx moves tokens inside one atomic ledger batch.
type LedgerTx interface {
	// Transfer moves amount between two token accounts of the same mint.
	Transfer(from, to Address, amount uint64) error
	// MintTo mints amount of mint into the token account to.
	MintTo(mint, to Address, amount uint64) error
	// Burn burns amount of mint from the token account from.
	Burn(mint, from Address, amount uint64) error
}

// Ledger is the custody boundary. Implementations must apply everything done
// inside Atomic or nothing.
type Ledger interface {
	Balance(ctx context.Context, account Address) (uint64, error)
	Atomic(ctx context.Context, fn func(tx LedgerTx) error) error
}

// EventSink receives completed vault events in operation order.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event) error

// Emit calls f(ctx, event).
func (f EventSinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Store persists vault state snapshots.
type Store interface {
	SaveVault(ctx context.Context, state State) error
	LoadVaults(ctx context.Context) ([]State, error)
}

// Clock returns the current time. Tests replace it for deterministic events.
type Clock func() time.Time

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) error { return nil }
