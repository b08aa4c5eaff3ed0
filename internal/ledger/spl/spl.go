// Package spl implements vault.Ledger over the SPL Token program. Every
// Atomic batch becomes one Solana transaction, so the runtime applies all of
// its instructions or none.
package spl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/blockchain"
	"github.com/rovshanmuradov/solana-vault/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
	"github.com/rovshanmuradov/solana-vault/internal/wallet"
)

var (
	ErrMissingSigner = errors.New("no key for required signer")
	ErrNoAuthority   = errors.New("mint has no mint authority")
	// ErrUnconfirmed means the transaction was sent but its outcome is unknown.
	ErrUnconfirmed = fmt.Errorf("transaction not confirmed: %w", vault.ErrOutcomeUnknown)
)

// Options tune submission.
type Options struct {
	Retries       uint          // resend attempts after the first
	MaxElapsed    time.Duration // overall retry budget
	Commitment    rpc.CommitmentType
	SkipPreflight bool
	RetryInterval time.Duration
	Priority      types.PriorityLevel
}

// Ledger submits token movements through client, signing with keys.
type Ledger struct {
	client blockchain.Client
	keys   *wallet.Keyring
	payer  solana.PublicKey
	opts   Options
	budget []solana.Instruction // compute-budget prefix
	logger *zap.Logger

	mu          sync.Mutex
	authorities map[solana.PublicKey]solana.PublicKey // mint -> mint authority
}

// New returns a ledger whose transactions are paid by payer. payer must be in keys.
func New(client blockchain.Client, keys *wallet.Keyring, payer solana.PublicKey, opts Options, logger *zap.Logger) (*Ledger, error) {
	if !keys.Has(payer) {
		return nil, fmt.Errorf("%w: fee payer %s", ErrMissingSigner, payer)
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 15 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Priority == "" {
		opts.Priority = types.PriorityNone
	}
	budget, err := types.PriorityInstructions(opts.Priority)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		client:      client,
		keys:        keys,
		payer:       payer,
		opts:        opts,
		budget:      budget,
		logger:      logger.Named("spl-ledger"),
		authorities: make(map[solana.PublicKey]solana.PublicKey),
	}, nil
}

// Balance implements vault.Ledger.
func (l *Ledger) Balance(ctx context.Context, account vault.Address) (uint64, error) {
	pk, err := PublicKey(account)
	if err != nil {
		return 0, err
	}
	return l.client.GetTokenAccountBalance(ctx, pk)
}

// Atomic implements vault.Ledger. fn only collects instructions; nothing is
// sent until it returns nil.
func (l *Ledger) Atomic(ctx context.Context, fn func(vault.LedgerTx) error) error {
	b := &batch{ctx: ctx, l: l, signers: map[solana.PublicKey]struct{}{l.payer: {}}}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.ixs) == 0 {
		return nil
	}
	for signer := range b.signers {
		if !l.keys.Has(signer) {
			return fmt.Errorf("%w: %s", ErrMissingSigner, signer)
		}
	}
	_, err := l.Submit(ctx, b.ixs)
	return err
}

// Submit builds, signs, sends and confirms one transaction. The transaction is
// signed once and the same bytes are resent with exponential backoff, so every
// attempt carries one signature and the runtime applies it at most once.
// Preflight rejections on the first attempt and on-chain failures are final.
// When an attempt may have reached a leader, the outcome is settled by
// signature status instead of being reported as a rejection.
func (l *Ledger) Submit(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.RetryInterval
	policy.MaxInterval = l.opts.RetryInterval * 10

	notify := func(err error, d time.Duration) {
		l.logger.Warn("Retrying transaction submit", zap.Error(err), zap.Duration("backoff", d))
	}

	var (
		tx       *solana.Transaction
		inFlight bool // an earlier send failed in transport and may have landed
	)
	send := func() (solana.Signature, error) {
		if tx == nil {
			signed, err := l.signedTransaction(ctx, ixs)
			if err != nil {
				return solana.Signature{}, err
			}
			tx = signed
		}
		sig, err := l.client.SendTransactionWithOpts(ctx, tx, blockchain.TransactionOptions{
			SkipPreflight:       l.opts.SkipPreflight,
			PreflightCommitment: l.opts.Commitment,
		})
		if err == nil {
			return sig, nil
		}
		if solbc.IsSimulationFailure(err) {
			if inFlight {
				// A resend of a landed transaction fails preflight too.
				return solana.Signature{}, backoff.Permanent(err)
			}
			return solana.Signature{}, backoff.Permanent(rejection(err))
		}
		inFlight = true
		return solana.Signature{}, err
	}

	sig, err := backoff.Retry(ctx, send,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(l.opts.Retries+1),
		backoff.WithMaxElapsedTime(l.opts.MaxElapsed),
		backoff.WithNotify(notify))
	if err != nil {
		if !inFlight {
			return solana.Signature{}, fmt.Errorf("submit transaction: %w", err)
		}
		sig = tx.Signatures[0]
		l.logger.Warn("Send outcome unknown, checking signature status",
			zap.String("signature", sig.String()),
			zap.Error(err))
	}

	if err := l.client.WaitForTransactionConfirmation(ctx, sig, l.opts.Commitment); err != nil {
		if errors.Is(err, solbc.ErrTransactionFailed) {
			return sig, err
		}
		return sig, fmt.Errorf("%w: %s: %v", ErrUnconfirmed, sig, err)
	}

	l.logger.Info("Transaction confirmed",
		zap.String("signature", sig.String()),
		zap.Int("instructions", len(ixs)))
	return sig, nil
}

func (l *Ledger) signedTransaction(ctx context.Context, ixs []solana.Instruction) (*solana.Transaction, error) {
	blockhash, err := l.client.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}
	all := make([]solana.Instruction, 0, len(l.budget)+len(ixs))
	all = append(all, l.budget...)
	all = append(all, ixs...)
	tx, err := solana.NewTransaction(all, blockhash, solana.TransactionPayer(l.payer))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create transaction: %w", err))
	}
	if err := l.keys.SignTransaction(tx); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to sign transaction: %w", err))
	}
	return tx, nil
}

// rejection enriches a preflight failure with the program's Anchor error, if any.
func rejection(err error) error {
	if ae, ok := solbc.FindAnchorError(solbc.SimulationLogs(err)); ok {
		return fmt.Errorf("transaction rejected: %w: %v", ae, err)
	}
	return fmt.Errorf("transaction rejected: %w", err)
}

// OpenAccount creates the associated token account of w for mint if missing.
func (l *Ledger) OpenAccount(ctx context.Context, w *wallet.Wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, err := w.ATA(mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ix, err := w.CreateATAInstruction(l.payer, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := l.Submit(ctx, []solana.Instruction{ix}); err != nil {
		return solana.PublicKey{}, fmt.Errorf("open %s account for %s: %w", mint, w.Name, err)
	}
	return ata, nil
}

func (l *Ledger) owner(ctx context.Context, account solana.PublicKey) (solana.PublicKey, error) {
	var acc token.Account
	if err := l.client.GetAccountDataInto(ctx, account, &acc); err != nil {
		return solana.PublicKey{}, fmt.Errorf("load token account %s: %w", account, err)
	}
	return acc.Owner, nil
}

func (l *Ledger) mintAuthority(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error) {
	l.mu.Lock()
	auth, ok := l.authorities[mint]
	l.mu.Unlock()
	if ok {
		return auth, nil
	}

	var m token.Mint
	if err := l.client.GetAccountDataInto(ctx, mint, &m); err != nil {
		return solana.PublicKey{}, fmt.Errorf("load mint %s: %w", mint, err)
	}
	if m.MintAuthority == nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s", ErrNoAuthority, mint)
	}

	l.mu.Lock()
	l.authorities[mint] = *m.MintAuthority
	l.mu.Unlock()
	return *m.MintAuthority, nil
}

// batch collects the instructions of one Atomic call.
type batch struct {
	ctx     context.Context
	l       *Ledger
	ixs     []solana.Instruction
	signers map[solana.PublicKey]struct{}
}

func (b *batch) add(ix solana.Instruction, err error, signer solana.PublicKey) error {
	if err != nil {
		return err
	}
	b.ixs = append(b.ixs, ix)
	b.signers[signer] = struct{}{}
	return nil
}

func (b *batch) Transfer(from, to vault.Address, amount uint64) error {
	src, dst, err := pair(from, to)
	if err != nil {
		return err
	}
	owner, err := b.l.owner(b.ctx, src)
	if err != nil {
		return err
	}
	ix, err := token.NewTransferInstruction(amount, src, dst, owner, nil).ValidateAndBuild()
	return b.add(ix, err, owner)
}

func (b *batch) MintTo(mint, to vault.Address, amount uint64) error {
	m, dst, err := pair(mint, to)
	if err != nil {
		return err
	}
	authority, err := b.l.mintAuthority(b.ctx, m)
	if err != nil {
		return err
	}
	ix, err := token.NewMintToInstruction(amount, m, dst, authority, nil).ValidateAndBuild()
	return b.add(ix, err, authority)
}

func (b *batch) Burn(mint, from vault.Address, amount uint64) error {
	m, src, err := pair(mint, from)
	if err != nil {
		return err
	}
	owner, err := b.l.owner(b.ctx, src)
	if err != nil {
		return err
	}
	ix, err := token.NewBurnInstruction(amount, src, m, owner, nil).ValidateAndBuild()
	return b.add(ix, err, owner)
}

// PublicKey parses a vault address as a base58 public key.
func PublicKey(a vault.Address) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(a.String())
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q: %v", vault.ErrInvalidIdentity, a, err)
	}
	return pk, nil
}

func pair(a, b vault.Address) (solana.PublicKey, solana.PublicKey, error) {
	x, err := PublicKey(a)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	y, err := PublicKey(b)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return x, y, nil
}

var _ vault.Ledger = (*Ledger)(nil)
