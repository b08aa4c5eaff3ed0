// internal/storage/models/vault.go
package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// VaultSnapshot is the latest committed state of one vault.
type VaultSnapshot struct {
	BaseModel
	AssetMint      string          `gorm:"uniqueIndex;not null;type:varchar(44)"`
	ShareMint      string          `gorm:"not null;type:varchar(44)"`
	CustodyAccount string          `gorm:"not null;type:varchar(44)"`
	Admin          string          `gorm:"not null;type:varchar(44)"`
	TotalAsset     decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	TotalShares    decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	Paused         bool            `gorm:"not null;default:false"`
	Sequence       decimal.Decimal `gorm:"type:numeric(20,0);not null"`
}

// SnapshotFromState converts a vault state into its row.
func SnapshotFromState(s vault.State) VaultSnapshot {
	return VaultSnapshot{
		AssetMint:      s.AssetMint.String(),
		ShareMint:      s.ShareMint.String(),
		CustodyAccount: s.CustodyAccount.String(),
		Admin:          s.Admin.String(),
		TotalAsset:     Numeric(s.TotalAsset),
		TotalShares:    Numeric(s.TotalShares),
		Paused:         s.Paused,
		Sequence:       Numeric(s.Sequence),
	}
}

// State converts the row back, rejecting totals outside u64.
func (v VaultSnapshot) State() (vault.State, error) {
	asset, err := toUint64("total_asset", v.TotalAsset)
	if err != nil {
		return vault.State{}, err
	}
	shares, err := toUint64("total_shares", v.TotalShares)
	if err != nil {
		return vault.State{}, err
	}
	seq, err := toUint64("sequence", v.Sequence)
	if err != nil {
		return vault.State{}, err
	}
	return vault.State{
		AssetMint:      vault.Address(v.AssetMint),
		ShareMint:      vault.Address(v.ShareMint),
		CustodyAccount: vault.Address(v.CustodyAccount),
		Admin:          vault.Address(v.Admin),
		TotalAsset:     asset,
		TotalShares:    shares,
		Paused:         v.Paused,
		Sequence:       seq,
	}, nil
}

// VaultEvent is one row of the append-only event log.
type VaultEvent struct {
	BaseModel
	AssetMint   string          `gorm:"uniqueIndex:idx_vault_event_seq;not null;type:varchar(44)"`
	Sequence    decimal.Decimal `gorm:"uniqueIndex:idx_vault_event_seq;type:numeric(20,0);not null"`
	Kind        string          `gorm:"index;not null;type:varchar(32)"`
	Actor       string          `gorm:"not null;type:varchar(44)"`
	AssetAmount decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	Shares      decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	Detail      string          `gorm:"type:text"`
	OccurredAt  time.Time       `gorm:"index;not null"`
}

// EventFromVault flattens a vault event into its row.
func EventFromVault(e vault.Event) VaultEvent {
	m := e.Meta()
	row := VaultEvent{
		AssetMint:   m.Vault.String(),
		Sequence:    Numeric(m.Sequence),
		Kind:        string(e.Kind()),
		AssetAmount: decimal.Zero,
		Shares:      decimal.Zero,
		OccurredAt:  m.Timestamp.UTC(),
	}
	switch ev := e.(type) {
	case vault.DepositEvent:
		row.Actor = ev.Depositor.String()
		row.AssetAmount = Numeric(ev.AssetAmount)
		row.Shares = Numeric(ev.SharesMinted)
	case vault.WithdrawEvent:
		row.Actor = ev.Withdrawer.String()
		row.AssetAmount = Numeric(ev.AssetAmount)
		row.Shares = Numeric(ev.SharesBurned)
	case vault.PauseChangedEvent:
		row.Actor = ev.Admin.String()
		row.Detail = "paused=" + strconv.FormatBool(ev.Paused)
	case vault.AdminChangedEvent:
		row.Actor = ev.Previous.String()
		row.Detail = "admin=" + ev.Current.String()
	}
	return row
}

// Seq returns the event sequence as u64. Rows are written from u64 values, so
// the conversion only fails on a corrupted table.
func (e VaultEvent) Seq() (uint64, error) {
	return toUint64("sequence", e.Sequence)
}

// Numeric converts a raw u64 into the numeric(20,0) column type.
func Numeric(v uint64) decimal.Decimal {
	return decimal.RequireFromString(strconv.FormatUint(v, 10))
}

func toUint64(column string, d decimal.Decimal) (uint64, error) {
	if !d.IsInteger() || d.IsNegative() {
		return 0, fmt.Errorf("%s: %s is not a u64", column, d)
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%s: %s overflows u64", column, d)
	}
	return b.Uint64(), nil
}
