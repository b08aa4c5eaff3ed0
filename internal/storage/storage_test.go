package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/storage"
	"github.com/rovshanmuradov/solana-vault/internal/storage/memory"
	"github.com/rovshanmuradov/solana-vault/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]storage.Storage {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "vault.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]storage.Storage{
		"memory": memory.New(),
		"sqlite": db,
	}
}

func meta(v vault.Address, seq uint64) vault.EventMeta {
	return vault.EventMeta{Vault: v, Sequence: seq, Timestamp: at.Add(time.Duration(seq) * time.Second)}
}

func TestSnapshotsUpsertPerVault(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			usdc := vault.State{AssetMint: "USDC", ShareMint: "vUSDC", CustodyAccount: "c1", Admin: "admin"}
			wsol := vault.State{AssetMint: "WSOL", ShareMint: "vWSOL", CustodyAccount: "c2", Admin: "admin"}
			require.NoError(t, s.SaveVault(ctx, usdc))
			require.NoError(t, s.SaveVault(ctx, wsol))

			usdc.TotalAsset, usdc.TotalShares, usdc.Sequence, usdc.Paused = 18446744073709551615, 90, 3, true
			require.NoError(t, s.SaveVault(ctx, usdc))

			got, err := s.LoadVaults(ctx)
			require.NoError(t, err)
			assert.Equal(t, []vault.State{usdc, wsol}, got)
		})
	}
}

func TestEventsAppendAndList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			evs := []vault.Event{
				vault.DepositEvent{EventMeta: meta("USDC", 1), Depositor: "alice", AssetAmount: 100, SharesMinted: 100},
				vault.PauseChangedEvent{EventMeta: meta("USDC", 2), Admin: "admin", Paused: true},
				vault.WithdrawEvent{EventMeta: meta("USDC", 3), Withdrawer: "alice", SharesBurned: 60, AssetAmount: 60},
				vault.DepositEvent{EventMeta: meta("WSOL", 1), Depositor: "bob", AssetAmount: 5, SharesMinted: 5},
			}
			for _, e := range evs {
				require.NoError(t, s.AppendEvent(ctx, e))
			}

			all, err := s.ListEvents(ctx, "USDC", 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "deposit", all[0].Kind)
			assert.Equal(t, "alice", all[0].Actor)
			assert.Equal(t, "100", all[0].Shares.String())
			assert.Equal(t, "paused=true", all[1].Detail)
			assert.Equal(t, "60", all[2].AssetAmount.String())
			assert.True(t, all[2].OccurredAt.Equal(at.Add(3*time.Second)))

			tail, err := s.ListEvents(ctx, "USDC", 2)
			require.NoError(t, err)
			require.Len(t, tail, 1)
			seq, err := tail[0].Seq()
			require.NoError(t, err)
			assert.EqualValues(t, 3, seq)

			none, err := s.ListEvents(ctx, "BONK", 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestDuplicateEventRejected(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := vault.DepositEvent{EventMeta: meta("USDC", 1), Depositor: "alice", AssetAmount: 1, SharesMinted: 1}
			require.NoError(t, s.AppendEvent(ctx, e))
			assert.ErrorIs(t, s.AppendEvent(ctx, e), storage.ErrDuplicateEvent)
		})
	}
}

func TestSinkAppendsEvents(t *testing.T) {
	s := memory.New()
	sink := storage.Sink{Store: s}

	e := vault.AdminChangedEvent{EventMeta: meta("USDC", 4), Previous: "admin", Current: "ops"}
	require.NoError(t, sink.Emit(context.Background(), e))

	rows, err := s.ListEvents(context.Background(), "USDC", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "admin_changed", rows[0].Kind)
	assert.Equal(t, "admin=ops", rows[0].Detail)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	ctx := context.Background()

	db, err := sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	st := vault.State{AssetMint: "USDC", ShareMint: "vUSDC", CustodyAccount: "c", Admin: "a", TotalAsset: 9, TotalShares: 9, Sequence: 1}
	require.NoError(t, db.SaveVault(ctx, st))
	require.NoError(t, db.Close())

	db, err = sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()
	got, err := db.LoadVaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vault.State{st}, got)
}
