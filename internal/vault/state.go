// internal/vault/state.go
package vault

import (
	"fmt"
	"math"
)

// Address is an opaque ledger identity: an account, a mint or a signer.
type Address string

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}

func (a Address) String() string {
	return string(a)
}

// State is the persistent record of one vault. One State exists per asset mint.
type State struct {
	AssetMint      Address `json:"asset_mint"`
	ShareMint      Address `json:"share_mint"`
	CustodyAccount Address `json:"custody_account"`
	Admin          Address `json:"admin"`
	TotalAsset     uint64  `json:"total_asset"`
	TotalShares    uint64  `json:"total_shares"`
	Paused         bool    `json:"paused"`
	// Sequence counts events emitted by this vault.
	Sequence uint64 `json:"sequence"`
}

// Initialize creates an empty, unpaused vault. The identities are fixed for the
// lifetime of the vault.
func Initialize(admin, assetMint, shareMint, custody Address) (*State, error) {
	ids := []struct {
		name string
		id   Address
	}{
		{"admin", admin},
		{"asset mint", assetMint},
		{"share mint", shareMint},
		{"custody", custody},
	}
	for _, v := range ids {
		if v.id.IsZero() {
			return nil, fmt.Errorf("%w: empty %s", ErrInvalidIdentity, v.name)
		}
	}
	if assetMint == shareMint {
		return nil, fmt.Errorf("%w: asset and share mint must differ", ErrInvalidIdentity)
	}

	return &State{
		AssetMint:      assetMint,
		ShareMint:      shareMint,
		CustodyAccount: custody,
		Admin:          admin,
	}, nil
}

// ID returns the vault identity. Vaults are keyed by their asset mint.
func (s *State) ID() Address {
	return s.AssetMint
}

// Validate checks the empty-pool symmetry and backing invariants.
func (s *State) Validate() error {
	if (s.TotalAsset == 0) != (s.TotalShares == 0) {
		return fmt.Errorf("%w: total_asset=%d total_shares=%d",
			ErrInternalInconsistency, s.TotalAsset, s.TotalShares)
	}
	return nil
}

// Clone returns a copy of the state.
func (s *State) Clone() *State {
	c := *s
	return &c
}

func (s *State) applyDeposit(asset, shares uint64) error {
	totalAsset, err := checkedAdd(s.TotalAsset, asset)
	if err != nil {
		return err
	}
	totalShares, err := checkedAdd(s.TotalShares, shares)
	if err != nil {
		return err
	}
	s.TotalAsset, s.TotalShares = totalAsset, totalShares
	return nil
}

func (s *State) applyWithdraw(asset, shares uint64) error {
	totalAsset, err := checkedSub(s.TotalAsset, asset)
	if err != nil {
		return err
	}
	totalShares, err := checkedSub(s.TotalShares, shares)
	if err != nil {
		return err
	}
	s.TotalAsset, s.TotalShares = totalAsset, totalShares
	return nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrMathOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: underflow %d - %d", ErrMathOverflow, a, b)
	}
	return a - b, nil
}
