// internal/blockchain/types.go
package blockchain

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TransactionOptions controls preflight when sending a transaction.
type TransactionOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
}

// Client is the subset of the Solana RPC surface used by the vault ledger and CLI.
type Client interface {
	// GetRecentBlockhash returns the latest finalized blockhash.
	GetRecentBlockhash(ctx context.Context) (solana.Hash, error)
	// SendTransactionWithOpts submits a signed transaction.
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts TransactionOptions) (solana.Signature, error)
	// GetAccountDataInto fetches an account and decodes its data into dst.
	GetAccountDataInto(ctx context.Context, pubkey solana.PublicKey, dst interface{}) error
	// GetTokenAccountBalance returns the raw balance of an SPL token account.
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	// WaitForTransactionConfirmation polls until signature reaches commitment or fails.
	WaitForTransactionConfirmation(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) error
	// GetTransactionLogs returns the program log lines of a confirmed transaction.
	GetTransactionLogs(ctx context.Context, signature solana.Signature) ([]string, error)
}
