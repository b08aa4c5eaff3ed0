// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/solana-vault/internal/storage/models"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// ErrDuplicateEvent is returned when an event with the same vault and sequence
// was already appended.
var ErrDuplicateEvent = errors.New("event already recorded")

// Storage persists vault snapshots and the event log.
type Storage interface {
	vault.Store

	// AppendEvent records one event. Events of a vault arrive in sequence order.
	AppendEvent(ctx context.Context, e vault.Event) error
	// ListEvents returns the events of assetMint with a sequence greater than
	// after, oldest first.
	ListEvents(ctx context.Context, assetMint vault.Address, after uint64) ([]models.VaultEvent, error)

	RunMigrations() error
	Close() error
}
