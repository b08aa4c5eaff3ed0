package storage

import (
	"context"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// Sink appends every vault event to a Storage.
type Sink struct {
	Store Storage
}

// Emit implements vault.EventSink.
func (s Sink) Emit(ctx context.Context, e vault.Event) error {
	return s.Store.AppendEvent(ctx, e)
}
