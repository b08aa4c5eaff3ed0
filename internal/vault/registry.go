// internal/vault/registry.go
package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// InitParams are the identities fixed when a vault is created.
type InitParams struct {
	Admin          Address
	AssetMint      Address
	ShareMint      Address
	CustodyAccount Address
}

type entry struct {
	mu    sync.Mutex
	svc   *Service
	dirty bool // last SaveVault failed
}

// Registry holds one Service per asset mint. Operations on the same vault are
// serialized; operations on different vaults run in parallel.
type Registry struct {
	mu     sync.RWMutex
	vaults map[Address]*entry

	ledger Ledger
	store  Store
	opts   []Option
	logger *zap.Logger
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(ledger Ledger, store Store, logger *zap.Logger, opts ...Option) *Registry {
	return &Registry{
		vaults: make(map[Address]*entry),
		ledger: ledger,
		store:  store,
		opts:   opts,
		logger: logger.Named("registry"),
	}
}

// Restore loads every persisted vault from the store.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	states, err := r.store.LoadVaults(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vaults: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range states {
		st := states[i]
		svc, err := NewService(&st, r.ledger, r.logger, r.opts...)
		if err != nil {
			return 0, fmt.Errorf("restore vault %s: %w", st.AssetMint, err)
		}
		r.vaults[st.AssetMint] = &entry{svc: svc}
	}
	r.logger.Info("Vaults restored", zap.Int("count", len(states)))
	return len(states), nil
}

// Create initializes a new vault for p.AssetMint.
func (r *Registry) Create(ctx context.Context, p InitParams) (State, error) {
	st, err := Initialize(p.Admin, p.AssetMint, p.ShareMint, p.CustodyAccount)
	if err != nil {
		return State{}, opError("initialize", p.AssetMint, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vaults[p.AssetMint]; ok {
		return State{}, opError("initialize", p.AssetMint, ErrVaultExists)
	}

	svc, err := NewService(st, r.ledger, r.logger, r.opts...)
	if err != nil {
		return State{}, opError("initialize", p.AssetMint, err)
	}
	if err := r.persist(ctx, *st); err != nil {
		return State{}, opError("initialize", p.AssetMint, err)
	}
	r.vaults[p.AssetMint] = &entry{svc: svc}

	r.logger.Info("Vault initialized",
		zap.String("asset_mint", p.AssetMint.String()),
		zap.String("share_mint", p.ShareMint.String()),
		zap.String("admin", p.Admin.String()))
	return *st, nil
}

// Deposit runs a deposit on the vault for assetMint.
func (r *Registry) Deposit(ctx context.Context, assetMint Address, req DepositRequest) (DepositResult, error) {
	var res DepositResult
	err := r.with(ctx, assetMint, "deposit", func(svc *Service) error {
		var err error
		res, err = svc.Deposit(ctx, req)
		return err
	})
	return res, err
}

// Withdraw runs a withdraw on the vault for assetMint.
func (r *Registry) Withdraw(ctx context.Context, assetMint Address, req WithdrawRequest) (WithdrawResult, error) {
	var res WithdrawResult
	err := r.with(ctx, assetMint, "withdraw", func(svc *Service) error {
		var err error
		res, err = svc.Withdraw(ctx, req)
		return err
	})
	return res, err
}

// SetPause sets the pause flag of the vault for assetMint.
func (r *Registry) SetPause(ctx context.Context, assetMint, caller Address, paused bool) error {
	return r.with(ctx, assetMint, "set_pause", func(svc *Service) error {
		return svc.SetPause(ctx, caller, paused)
	})
}

// SetAdmin moves the admin role of the vault for assetMint.
func (r *Registry) SetAdmin(ctx context.Context, assetMint, caller, newAdmin Address) error {
	return r.with(ctx, assetMint, "set_admin", func(svc *Service) error {
		return svc.SetAdmin(ctx, caller, newAdmin)
	})
}

// State returns a copy of the vault state for assetMint.
func (r *Registry) State(assetMint Address) (State, error) {
	e, err := r.lookup(assetMint)
	if err != nil {
		return State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.svc.State(), nil
}

// List returns copies of all vault states ordered by asset mint.
func (r *Registry) List() []State {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.vaults))
	for _, e := range r.vaults {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.svc.State())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetMint < out[j].AssetMint })
	return out
}

func (r *Registry) lookup(assetMint Address) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.vaults[assetMint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, assetMint)
	}
	return e, nil
}

func (r *Registry) with(ctx context.Context, assetMint Address, op string, fn func(*Service) error) error {
	e, err := r.lookup(assetMint)
	if err != nil {
		return opError(op, assetMint, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.svc.State().Sequence
	if err := fn(e.svc); err != nil {
		return err
	}
	if e.svc.State().Sequence == before && !e.dirty {
		return nil
	}
	// The transition is committed; a save failure must not read as a rejection.
	if err := r.persist(ctx, e.svc.State()); err != nil {
		e.dirty = true
		return opError(op, assetMint, fmt.Errorf("%w: %w", ErrPersistFailed, err))
	}
	e.dirty = false
	return nil
}

// Resolve settles a batch whose ledger outcome was unknown. See Service.Resolve.
func (r *Registry) Resolve(ctx context.Context, assetMint Address, landed bool) error {
	return r.with(ctx, assetMint, "resolve", func(svc *Service) error {
		return svc.Resolve(ctx, landed)
	})
}

// Flush saves every vault whose last snapshot save failed.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.vaults))
	for _, e := range r.vaults {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		e.mu.Lock()
		if e.dirty {
			if err := r.persist(ctx, e.svc.State()); err != nil {
				errs = append(errs, err)
			} else {
				e.dirty = false
			}
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Registry) persist(ctx context.Context, st State) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveVault(ctx, st); err != nil {
		r.logger.Error("Failed to persist vault state",
			zap.String("asset_mint", st.AssetMint.String()),
			zap.Error(err))
		return fmt.Errorf("persist vault state: %w", err)
	}
	return nil
}
