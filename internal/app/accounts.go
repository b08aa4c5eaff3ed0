package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-vault/internal/ledger/memory"
	"github.com/rovshanmuradov/solana-vault/internal/ledger/spl"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
	"github.com/rovshanmuradov/solana-vault/internal/wallet"
)

// ErrFundingUnsupported is returned when a scenario funds users on a real ledger.
var ErrFundingUnsupported = errors.New("funding is only supported on the memory ledger")

// accountBook maps scenario names onto ledger identities and token accounts.
type accountBook interface {
	// User returns the identity of a named user.
	User(name string) (vault.Address, error)
	// TokenAccount returns (opening if needed) the account of user for mint.
	TokenAccount(ctx context.Context, user string, mint vault.Address) (vault.Address, error)
	// Custody returns the custody account for asset mint.
	Custody(ctx context.Context, asset vault.Address) (vault.Address, error)
	// Fund credits amount of mint to user.
	Fund(ctx context.Context, user string, mint vault.Address, amount uint64) error
}

// memoryBook names accounts "<user>-<mint>" and custody "<mint>-custody".
type memoryBook struct {
	ledger *memory.Ledger
}

func (b memoryBook) User(name string) (vault.Address, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty user", vault.ErrInvalidIdentity)
	}
	return vault.Address(name), nil
}

func (b memoryBook) TokenAccount(_ context.Context, user string, mint vault.Address) (vault.Address, error) {
	addr := vault.Address(user + "-" + mint.String())
	return addr, b.ledger.EnsureAccount(addr, mint)
}

func (b memoryBook) Custody(_ context.Context, asset vault.Address) (vault.Address, error) {
	addr := vault.Address(asset.String() + "-custody")
	return addr, b.ledger.EnsureAccount(addr, asset)
}

func (b memoryBook) Fund(ctx context.Context, user string, mint vault.Address, amount uint64) error {
	acc, err := b.TokenAccount(ctx, user, mint)
	if err != nil {
		return err
	}
	return b.ledger.Fund(acc, amount)
}

// splBook resolves users through the keyring and accounts as associated token
// accounts. Custody belongs to the operator wallet.
type splBook struct {
	ledger   *spl.Ledger
	keys     *wallet.Keyring
	operator *wallet.Wallet

	mu     sync.Mutex
	opened map[solana.PublicKey]bool
}

func newSPLBook(ledger *spl.Ledger, keys *wallet.Keyring, operator *wallet.Wallet) *splBook {
	return &splBook{ledger: ledger, keys: keys, operator: operator, opened: make(map[solana.PublicKey]bool)}
}

func (b *splBook) User(name string) (vault.Address, error) {
	w, err := b.keys.Get(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vault.ErrInvalidIdentity, err)
	}
	return vault.Address(w.PublicKey.String()), nil
}

func (b *splBook) TokenAccount(ctx context.Context, user string, mint vault.Address) (vault.Address, error) {
	w, err := b.keys.Get(user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vault.ErrInvalidIdentity, err)
	}
	return b.open(ctx, w, mint)
}

func (b *splBook) Custody(ctx context.Context, asset vault.Address) (vault.Address, error) {
	return b.open(ctx, b.operator, asset)
}

func (b *splBook) Fund(context.Context, string, vault.Address, uint64) error {
	return ErrFundingUnsupported
}

func (b *splBook) open(ctx context.Context, w *wallet.Wallet, mint vault.Address) (vault.Address, error) {
	m, err := spl.PublicKey(mint)
	if err != nil {
		return "", err
	}
	ata, err := w.ATA(m)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	done := b.opened[ata]
	b.mu.Unlock()
	if !done {
		if _, err := b.ledger.OpenAccount(ctx, w, m); err != nil {
			return "", err
		}
		b.mu.Lock()
		b.opened[ata] = true
		b.mu.Unlock()
	}
	return vault.Address(ata.String()), nil
}
