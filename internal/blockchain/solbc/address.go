// internal/blockchain/solbc/address.go
package solbc

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PDA seed prefixes of the vault program.
var (
	VaultStatePrefix     = []byte("vault_state")
	VaultAuthorityPrefix = []byte("vault_authority")
	VaultAssetPrefix     = []byte("vault_asset")
)

// VaultAddresses are the program-derived identities of one vault.
type VaultAddresses struct {
	State         solana.PublicKey
	StateBump     uint8
	Authority     solana.PublicKey
	AuthorityBump uint8
	Custody       solana.PublicKey
	CustodyBump   uint8
}

// DeriveVaultAddresses derives the state, authority and custody addresses for
// assetMint under programID. The results are deterministic.
func DeriveVaultAddresses(programID, assetMint solana.PublicKey) (VaultAddresses, error) {
	var out VaultAddresses
	var err error

	out.State, out.StateBump, err = solana.FindProgramAddress(
		[][]byte{VaultStatePrefix, assetMint.Bytes()}, programID)
	if err != nil {
		return VaultAddresses{}, fmt.Errorf("derive vault state: %w", err)
	}

	out.Authority, out.AuthorityBump, err = solana.FindProgramAddress(
		[][]byte{VaultAuthorityPrefix, out.State.Bytes()}, programID)
	if err != nil {
		return VaultAddresses{}, fmt.Errorf("derive vault authority: %w", err)
	}

	out.Custody, out.CustodyBump, err = solana.FindProgramAddress(
		[][]byte{VaultAssetPrefix, assetMint.Bytes(), out.State.Bytes()}, programID)
	if err != nil {
		return VaultAddresses{}, fmt.Errorf("derive vault custody: %w", err)
	}
	return out, nil
}
