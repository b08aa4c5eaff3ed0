package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

func TestSnapshotRoundTripAtU64Max(t *testing.T) {
	st := vault.State{
		AssetMint:   "USDC",
		ShareMint:   "vUSDC",
		TotalAsset:  ^uint64(0),
		TotalShares: ^uint64(0) - 1,
		Sequence:    12,
		Paused:      true,
	}
	row := SnapshotFromState(st)
	assert.Equal(t, "18446744073709551615", row.TotalAsset.String())

	got, err := row.State()
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestSnapshotRejectsValuesOutsideU64(t *testing.T) {
	tests := map[string]decimal.Decimal{
		"overflow": decimal.RequireFromString("18446744073709551616"),
		"negative": decimal.NewFromInt(-1),
		"fraction": decimal.RequireFromString("1.5"),
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			row := SnapshotFromState(vault.State{AssetMint: "USDC"})
			row.TotalShares = v
			_, err := row.State()
			assert.ErrorContains(t, err, "total_shares")
		})
	}
}

func TestEventFromWithdraw(t *testing.T) {
	row := EventFromVault(vault.WithdrawEvent{
		EventMeta:    vault.EventMeta{Vault: "USDC", Sequence: 7},
		Withdrawer:   "alice",
		SharesBurned: 60,
		AssetAmount:  59,
	})
	assert.Equal(t, "withdraw", row.Kind)
	assert.Equal(t, "60", row.Shares.String())
	assert.Equal(t, "59", row.AssetAmount.String())
	seq, err := row.Seq()
	require.NoError(t, err)
	assert.EqualValues(t, 7, seq)
}
