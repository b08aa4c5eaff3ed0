// internal/vault/engine.go
package vault

import (
	"fmt"
	"math/big"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

// ZeroMintPolicy decides what happens when rounding leaves a deposit with zero
// shares or a withdraw with zero asset.
type ZeroMintPolicy int

const (
	// ZeroMintReject fails the operation with ErrInvalidAmount.
	ZeroMintReject ZeroMintPolicy = iota
	// ZeroMintAccept lets the operation through as a zero-effect mint or payout.
	ZeroMintAccept
)

func (p ZeroMintPolicy) String() string {
	switch p {
	case ZeroMintReject:
		return "reject"
	case ZeroMintAccept:
		return "accept"
	default:
		return fmt.Sprintf("ZeroMintPolicy(%d)", int(p))
	}
}

// ParseZeroMintPolicy parses "reject" or "accept". The empty string means reject.
func ParseZeroMintPolicy(s string) (ZeroMintPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return ZeroMintReject, nil
	case "accept":
		return ZeroMintAccept, nil
	default:
		return 0, fmt.Errorf("unknown zero mint policy %q", s)
	}
}

// PreviewDeposit computes the shares minted for assetAmount against s without
// mutating it. The result rounds down, so rounding loss stays in the pool.
func PreviewDeposit(s *State, assetAmount uint64, policy ZeroMintPolicy) (uint64, error) {
	if assetAmount == 0 {
		return 0, ErrInvalidAmount
	}

	var shares uint64
	if s.TotalShares == 0 {
		// genesis rate
		shares = assetAmount
	} else {
		if s.TotalAsset == 0 {
			return 0, fmt.Errorf("%w: %d shares outstanding with no asset",
				ErrInternalInconsistency, s.TotalShares)
		}
		var err error
		shares, err = mulDiv(assetAmount, s.TotalShares, s.TotalAsset)
		if err != nil {
			return 0, err
		}
	}

	if shares == 0 && policy == ZeroMintReject {
		return 0, fmt.Errorf("%w: deposit of %d mints no shares", ErrInvalidAmount, assetAmount)
	}

	if _, err := checkedAdd(s.TotalAsset, assetAmount); err != nil {
		return 0, err
	}
	if _, err := checkedAdd(s.TotalShares, shares); err != nil {
		return 0, err
	}
	return shares, nil
}

// PreviewWithdraw computes the asset returned for burning shares against s
// without mutating it. The result rounds down.
func PreviewWithdraw(s *State, shares uint64, policy ZeroMintPolicy) (uint64, error) {
	if shares == 0 {
		return 0, ErrInvalidAmount
	}
	if s.TotalShares == 0 {
		return 0, fmt.Errorf("%w: withdraw of %d shares from a vault with no shares",
			ErrInternalInconsistency, shares)
	}
	if shares > s.TotalShares {
		return 0, fmt.Errorf("%w: %d requested, %d outstanding",
			ErrInsufficientShares, shares, s.TotalShares)
	}

	asset, err := mulDiv(shares, s.TotalAsset, s.TotalShares)
	if err != nil {
		return 0, err
	}
	if asset == 0 && policy == ZeroMintReject {
		return 0, fmt.Errorf("%w: burning %d shares returns no asset", ErrInvalidAmount, shares)
	}
	if asset > s.TotalAsset {
		return 0, fmt.Errorf("%w: payout %d exceeds holdings %d",
			ErrInternalInconsistency, asset, s.TotalAsset)
	}
	return asset, nil
}

// PricePerShare returns asset units per share, or one for an empty pool.
func PricePerShare(s *State) decimal.Decimal {
	if s.TotalShares == 0 {
		return decimal.NewFromInt(1)
	}
	return decimalFromUint64(s.TotalAsset).
		DivRound(decimalFromUint64(s.TotalShares), 12)
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// mulDiv returns floor(a*b/denom) using a 128-bit intermediate.
func mulDiv(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrInternalInconsistency)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= denom {
		return 0, fmt.Errorf("%w: %d * %d / %d", ErrMathOverflow, a, b, denom)
	}
	quo, _ := bits.Div64(hi, lo, denom)
	return quo, nil
}
