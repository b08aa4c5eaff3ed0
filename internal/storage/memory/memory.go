// Package memory is a process-local Storage used by simulations and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rovshanmuradov/solana-vault/internal/storage"
	"github.com/rovshanmuradov/solana-vault/internal/storage/models"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

type Storage struct {
	mu     sync.RWMutex
	vaults map[vault.Address]vault.State
	events map[vault.Address][]models.VaultEvent
	seen   map[vault.Address]map[uint64]struct{}
}

func New() *Storage {
	return &Storage{
		vaults: make(map[vault.Address]vault.State),
		events: make(map[vault.Address][]models.VaultEvent),
		seen:   make(map[vault.Address]map[uint64]struct{}),
	}
}

func (s *Storage) SaveVault(_ context.Context, st vault.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[st.AssetMint] = st
	return nil
}

// LoadVaults returns every saved vault ordered by asset mint.
func (s *Storage) LoadVaults(context.Context) ([]vault.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vault.State, 0, len(s.vaults))
	for _, st := range s.vaults {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetMint < out[j].AssetMint })
	return out, nil
}

func (s *Storage) AppendEvent(_ context.Context, e vault.Event) error {
	m := e.Meta()
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.seen[m.Vault]
	if !ok {
		seen = make(map[uint64]struct{})
		s.seen[m.Vault] = seen
	}
	if _, dup := seen[m.Sequence]; dup {
		return fmt.Errorf("%w: %s #%d", storage.ErrDuplicateEvent, m.Vault, m.Sequence)
	}
	seen[m.Sequence] = struct{}{}

	row := models.EventFromVault(e)
	row.ID = uint(len(s.events[m.Vault]) + 1)
	s.events[m.Vault] = append(s.events[m.Vault], row)
	return nil
}

func (s *Storage) ListEvents(_ context.Context, assetMint vault.Address, after uint64) ([]models.VaultEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.VaultEvent
	for _, row := range s.events[assetMint] {
		seq, err := row.Seq()
		if err != nil {
			return nil, err
		}
		if seq > after {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Storage) RunMigrations() error { return nil }

func (s *Storage) Close() error { return nil }

var _ storage.Storage = (*Storage)(nil)
