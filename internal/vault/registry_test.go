package vault_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-vault/internal/ledger/memory"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

type mapStore struct {
	mu     sync.Mutex
	states map[vault.Address]vault.State
	saves  int
	fail   error
}

func newMapStore() *mapStore {
	return &mapStore{states: make(map[vault.Address]vault.State)}
}

func (s *mapStore) SaveVault(_ context.Context, st vault.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.states[st.AssetMint] = st
	s.saves++
	return nil
}

func (s *mapStore) LoadVaults(context.Context) ([]vault.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vault.State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetMint < out[j].AssetMint })
	return out, nil
}

func (s *mapStore) get(mint vault.Address) vault.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[mint]
}

// seedAsset opens custody and one depositor per user for asset mint.
func seedAsset(t *testing.T, l *memory.Ledger, mint string, users ...string) vault.InitParams {
	t.Helper()
	require.NoError(t, l.CreateAccount(vault.Address(mint+"-custody"), vault.Address(mint)))
	for _, u := range users {
		require.NoError(t, l.CreateAccount(vault.Address(u+"-"+mint), vault.Address(mint)))
		require.NoError(t, l.CreateAccount(vault.Address(u+"-v"+mint), vault.Address("v"+mint)))
		require.NoError(t, l.Fund(vault.Address(u+"-"+mint), 1_000_000))
	}
	return vault.InitParams{
		Admin:          "admin",
		AssetMint:      vault.Address(mint),
		ShareMint:      vault.Address("v" + mint),
		CustodyAccount: vault.Address(mint + "-custody"),
	}
}

func depositReq(user, mint string, amount uint64) vault.DepositRequest {
	return vault.DepositRequest{
		Depositor:    vault.Address(user),
		AssetAccount: vault.Address(user + "-" + mint),
		ShareAccount: vault.Address(user + "-v" + mint),
		Amount:       amount,
	}
}

func withdrawReq(user, mint string, shares uint64) vault.WithdrawRequest {
	return vault.WithdrawRequest{
		Withdrawer:   vault.Address(user),
		AssetAccount: vault.Address(user + "-" + mint),
		ShareAccount: vault.Address(user + "-v" + mint),
		Shares:       shares,
	}
}

func TestRegistryCreateAndDuplicate(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	store := newMapStore()
	reg := vault.NewRegistry(l, store, zap.NewNop())

	p := seedAsset(t, l, "USDC")
	st, err := reg.Create(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, vault.Address("vUSDC"), st.ShareMint)
	assert.Equal(t, st, store.get("USDC"))

	_, err = reg.Create(ctx, p)
	assert.ErrorIs(t, err, vault.ErrVaultExists)

	_, err = reg.Create(ctx, vault.InitParams{Admin: "admin", AssetMint: "SOL", ShareMint: "SOL", CustodyAccount: "c"})
	assert.ErrorIs(t, err, vault.ErrInvalidIdentity)
}

func TestRegistryUnknownVault(t *testing.T) {
	reg := vault.NewRegistry(memory.New(), nil, zap.NewNop())

	_, err := reg.Deposit(context.Background(), "BONK", depositReq("alice", "BONK", 1))
	assert.ErrorIs(t, err, vault.ErrVaultNotFound)
	_, err = reg.State("BONK")
	assert.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestRegistryPersistsOnlyCommittedTransitions(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	store := newMapStore()
	reg := vault.NewRegistry(l, store, zap.NewNop())

	_, err := reg.Create(ctx, seedAsset(t, l, "USDC", "alice"))
	require.NoError(t, err)
	require.Equal(t, 1, store.saves)

	_, err = reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 500))
	require.NoError(t, err)
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, uint64(500), store.get("USDC").TotalAsset)

	_, err = reg.Withdraw(ctx, "USDC", withdrawReq("alice", "USDC", 0))
	assert.ErrorIs(t, err, vault.ErrInvalidAmount)
	assert.Equal(t, 2, store.saves)

	require.NoError(t, reg.SetPause(ctx, "USDC", "admin", true))
	assert.Equal(t, 3, store.saves)
	assert.True(t, store.get("USDC").Paused)
	assert.Equal(t, uint64(2), store.get("USDC").Sequence)
}

func TestRegistryStoreFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	store := newMapStore()
	reg := vault.NewRegistry(l, store, zap.NewNop())

	_, err := reg.Create(ctx, seedAsset(t, l, "USDC", "alice"))
	require.NoError(t, err)

	store.fail = errors.New("disk full")
	res, err := reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 10))
	require.ErrorIs(t, err, vault.ErrPersistFailed)
	assert.Equal(t, "PersistFailed", vault.ErrorKind(err))
	assert.Contains(t, err.Error(), "disk full")

	// The deposit is on the ledger; the result and in-memory state reflect it.
	assert.Equal(t, uint64(10), res.SharesMinted)
	assert.Equal(t, uint64(1), res.Event.Sequence)
	st, err := reg.State("USDC")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), st.TotalAsset)
	assert.Equal(t, uint64(0), store.get("USDC").TotalAsset)

	store.fail = nil
	require.NoError(t, reg.Flush(ctx))
	assert.Equal(t, uint64(10), store.get("USDC").TotalAsset)
	assert.Equal(t, uint64(1), store.get("USDC").Sequence)
}

func TestRegistryRetriesDirtySnapshotOnNextOperation(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	store := newMapStore()
	reg := vault.NewRegistry(l, store, zap.NewNop())

	_, err := reg.Create(ctx, seedAsset(t, l, "USDC", "alice"))
	require.NoError(t, err)

	store.fail = errors.New("disk full")
	_, err = reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 10))
	require.ErrorIs(t, err, vault.ErrPersistFailed)

	store.fail = nil
	_, err = reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), store.get("USDC").TotalAsset)
	assert.Equal(t, uint64(2), store.get("USDC").Sequence)
	assert.NoError(t, reg.Flush(ctx))
}

func TestRegistryRestore(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	store := newMapStore()

	first := vault.NewRegistry(l, store, zap.NewNop())
	_, err := first.Create(ctx, seedAsset(t, l, "USDC", "alice"))
	require.NoError(t, err)
	_, err = first.Create(ctx, seedAsset(t, l, "SOL", "alice"))
	require.NoError(t, err)
	_, err = first.Deposit(ctx, "USDC", depositReq("alice", "USDC", 700))
	require.NoError(t, err)

	second := vault.NewRegistry(l, store, zap.NewNop())
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	states := second.List()
	require.Len(t, states, 2)
	assert.Equal(t, vault.Address("SOL"), states[0].AssetMint)
	assert.Equal(t, vault.Address("USDC"), states[1].AssetMint)
	assert.Equal(t, uint64(700), states[1].TotalShares)

	res, err := second.Withdraw(ctx, "USDC", withdrawReq("alice", "USDC", 200))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), res.AssetReturned)
}

func TestRegistryVaultsRunIndependently(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	reg := vault.NewRegistry(l, nil, zap.NewNop())

	mints := []string{"USDC", "SOL", "BONK", "JUP"}
	users := []string{"u0", "u1", "u2", "u3", "u4"}
	for _, m := range mints {
		_, err := reg.Create(ctx, seedAsset(t, l, m, users...))
		require.NoError(t, err)
	}

	var g errgroup.Group
	for _, m := range mints {
		for _, u := range users {
			m, u := m, u
			g.Go(func() error {
				for i := 0; i < 20; i++ {
					if _, err := reg.Deposit(ctx, vault.Address(m), depositReq(u, m, 10)); err != nil {
						return fmt.Errorf("%s/%s: %w", m, u, err)
					}
				}
				_, err := reg.Withdraw(ctx, vault.Address(m), withdrawReq(u, m, 50))
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for _, m := range mints {
		st, err := reg.State(vault.Address(m))
		require.NoError(t, err)
		want := uint64(len(users) * (200 - 50))
		assert.Equal(t, want, st.TotalAsset, m)
		assert.Equal(t, want, st.TotalShares, m)
		assert.Equal(t, uint64(len(users)*21), st.Sequence, m)

		custody, err := l.Balance(ctx, vault.Address(m+"-custody"))
		require.NoError(t, err)
		assert.Equal(t, st.TotalAsset, custody)
		assert.Equal(t, st.TotalShares, l.Supply(vault.Address("v"+m)))
	}
}

func TestRegistryPauseIsPerVault(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	reg := vault.NewRegistry(l, nil, zap.NewNop())

	_, err := reg.Create(ctx, seedAsset(t, l, "USDC", "alice"))
	require.NoError(t, err)
	_, err = reg.Create(ctx, seedAsset(t, l, "SOL", "alice"))
	require.NoError(t, err)

	require.NoError(t, reg.SetPause(ctx, "USDC", "admin", true))

	_, err = reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 5))
	assert.ErrorIs(t, err, vault.ErrVaultPaused)
	_, err = reg.Deposit(ctx, "SOL", depositReq("alice", "SOL", 5))
	assert.NoError(t, err)

	assert.ErrorIs(t, reg.SetAdmin(ctx, "SOL", "alice", "alice"), vault.ErrUnauthorized)
}

func TestRegistryResolvePersistsLandedBatch(t *testing.T) {
	ctx := context.Background()
	l := memory.New()
	ul := &uncertainLedger{Ledger: l}
	store := newMapStore()
	reg := vault.NewRegistry(ul, store, zap.NewNop())

	_, err := reg.Create(ctx, seedAsset(t, l, "USDC", "alice"))
	require.NoError(t, err)

	ul.armed, ul.landed = true, true
	_, err = reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 40))
	require.ErrorIs(t, err, vault.ErrInternalInconsistency)
	assert.Equal(t, 1, store.saves)

	ul.armed = false
	_, err = reg.Deposit(ctx, "USDC", depositReq("alice", "USDC", 1))
	require.ErrorIs(t, err, vault.ErrInternalInconsistency)

	require.NoError(t, reg.Resolve(ctx, "USDC", true))
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, uint64(40), store.get("USDC").TotalAsset)
	assert.Equal(t, uint64(1), store.get("USDC").Sequence)

	require.NoError(t, reg.Resolve(ctx, "USDC", true))
	assert.Equal(t, 2, store.saves)
}
