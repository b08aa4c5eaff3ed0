package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

func newFundedLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	require.NoError(t, l.CreateAccount("alice-usdc", "USDC"))
	require.NoError(t, l.CreateAccount("custody", "USDC"))
	require.NoError(t, l.CreateAccount("alice-share", "vUSDC"))
	require.NoError(t, l.Fund("alice-usdc", 1_000))
	return l
}

func TestAtomicCommitsAllMovements(t *testing.T) {
	ctx := context.Background()
	l := newFundedLedger(t)

	err := l.Atomic(ctx, func(tx vault.LedgerTx) error {
		if err := tx.Transfer("alice-usdc", "custody", 400); err != nil {
			return err
		}
		return tx.MintTo("vUSDC", "alice-share", 400)
	})
	require.NoError(t, err)

	bal, err := l.Balance(ctx, "custody")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), bal)

	bal, err = l.Balance(ctx, "alice-usdc")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), bal)

	assert.Equal(t, uint64(400), l.Supply("vUSDC"))
	assert.Equal(t, uint64(1_000), l.Supply("USDC"))
}

func TestAtomicRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	l := newFundedLedger(t)

	err := l.Atomic(ctx, func(tx vault.LedgerTx) error {
		require.NoError(t, tx.Transfer("alice-usdc", "custody", 400))
		return tx.MintTo("vUSDC", "missing", 400)
	})
	require.ErrorIs(t, err, ErrAccountNotFound)

	bal, err := l.Balance(ctx, "alice-usdc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal, "transfer must be rolled back")
	assert.Equal(t, uint64(0), l.Supply("vUSDC"))
}

func TestTransferChecks(t *testing.T) {
	ctx := context.Background()
	l := newFundedLedger(t)

	tests := []struct {
		name    string
		from    vault.Address
		to      vault.Address
		amount  uint64
		wantErr error
	}{
		{"insufficient funds", "alice-usdc", "custody", 1_001, ErrInsufficientFunds},
		{"mint mismatch", "alice-usdc", "alice-share", 1, ErrMintMismatch},
		{"unknown source", "nobody", "custody", 1, ErrAccountNotFound},
		{"unknown destination", "alice-usdc", "nobody", 1, ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Atomic(ctx, func(tx vault.LedgerTx) error {
				return tx.Transfer(tt.from, tt.to, tt.amount)
			})
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestBurnReducesSupply(t *testing.T) {
	ctx := context.Background()
	l := newFundedLedger(t)

	require.NoError(t, l.Atomic(ctx, func(tx vault.LedgerTx) error {
		return tx.MintTo("vUSDC", "alice-share", 50)
	}))
	require.NoError(t, l.Atomic(ctx, func(tx vault.LedgerTx) error {
		return tx.Burn("vUSDC", "alice-share", 20)
	}))

	bal, err := l.Balance(ctx, "alice-share")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)
	assert.Equal(t, uint64(30), l.Supply("vUSDC"))

	err = l.Atomic(ctx, func(tx vault.LedgerTx) error {
		return tx.Burn("vUSDC", "alice-share", 31)
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestEnsureAccount(t *testing.T) {
	l := New()
	require.NoError(t, l.EnsureAccount("a", "USDC"))
	require.NoError(t, l.EnsureAccount("a", "USDC"))
	assert.ErrorIs(t, l.EnsureAccount("a", "SOL"), ErrMintMismatch)
	assert.ErrorIs(t, l.CreateAccount("a", "USDC"), ErrAccountExists)
	assert.Equal(t, []vault.Address{"a"}, l.Accounts())
}

func TestAtomicHonoursCancelledContext(t *testing.T) {
	l := newFundedLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.Atomic(ctx, func(vault.LedgerTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
