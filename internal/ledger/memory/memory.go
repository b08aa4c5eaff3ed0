// Package memory is an in-process ledger of token accounts and mint supplies.
// Batches run against a copy of the books and are swapped in only on success.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

var (
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrMintMismatch      = errors.New("token account mint mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSupplyOverflow    = errors.New("amount overflows u64")
)

type account struct {
	mint    vault.Address
	balance uint64
}

type books struct {
	accounts map[vault.Address]account
	supply   map[vault.Address]uint64
}

func (b *books) clone() *books {
	c := &books{
		accounts: make(map[vault.Address]account, len(b.accounts)),
		supply:   make(map[vault.Address]uint64, len(b.supply)),
	}
	for k, v := range b.accounts {
		c.accounts[k] = v
	}
	for k, v := range b.supply {
		c.supply[k] = v
	}
	return c
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	books *books
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{books: &books{
		accounts: make(map[vault.Address]account),
		supply:   make(map[vault.Address]uint64),
	}}
}

// CreateAccount opens an empty token account for mint.
func (l *Ledger) CreateAccount(addr, mint vault.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.books.accounts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	l.books.accounts[addr] = account{mint: mint}
	return nil
}

// EnsureAccount opens addr for mint unless it already exists for that mint.
func (l *Ledger) EnsureAccount(addr, mint vault.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.books.accounts[addr]; ok {
		if acc.mint != mint {
			return fmt.Errorf("%w: %s holds %s, not %s", ErrMintMismatch, addr, acc.mint, mint)
		}
		return nil
	}
	l.books.accounts[addr] = account{mint: mint}
	return nil
}

// Fund mints amount directly into addr, outside of any vault. Used to seed
// depositors.
func (l *Ledger) Fund(addr vault.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.books.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return (&tx{b: l.books}).MintTo(acc.mint, addr, amount)
}

// Balance implements vault.Ledger.
func (l *Ledger) Balance(_ context.Context, addr vault.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.books.accounts[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acc.balance, nil
}

// Supply returns the outstanding supply of mint.
func (l *Ledger) Supply(mint vault.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.books.supply[mint]
}

// Accounts returns all account addresses in sorted order.
func (l *Ledger) Accounts() []vault.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]vault.Address, 0, len(l.books.accounts))
	for addr := range l.books.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Atomic implements vault.Ledger.
func (l *Ledger) Atomic(ctx context.Context, fn func(vault.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	work := &tx{b: l.books.clone()}
	if err := fn(work); err != nil {
		return err
	}
	l.books = work.b
	return nil
}

type tx struct {
	b *books
}

func (t *tx) get(addr vault.Address, mint vault.Address) (account, error) {
	acc, ok := t.b.accounts[addr]
	if !ok {
		return account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acc.mint != mint {
		return account{}, fmt.Errorf("%w: %s holds %s, not %s", ErrMintMismatch, addr, acc.mint, mint)
	}
	return acc, nil
}

func (t *tx) Transfer(from, to vault.Address, amount uint64) error {
	src, ok := t.b.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	dst, err := t.get(to, src.mint)
	if err != nil {
		return err
	}
	if src.balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src.balance, amount)
	}
	if from == to {
		return nil
	}
	if dst.balance > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	src.balance -= amount
	dst.balance += amount
	t.b.accounts[from] = src
	t.b.accounts[to] = dst
	return nil
}

func (t *tx) MintTo(mint, to vault.Address, amount uint64) error {
	dst, err := t.get(to, mint)
	if err != nil {
		return err
	}
	supply := t.b.supply[mint]
	if supply > math.MaxUint64-amount || dst.balance > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	dst.balance += amount
	t.b.accounts[to] = dst
	t.b.supply[mint] = supply + amount
	return nil
}

func (t *tx) Burn(mint, from vault.Address, amount uint64) error {
	src, err := t.get(from, mint)
	if err != nil {
		return err
	}
	if src.balance < amount {
		return fmt.Errorf("%w: %s has %d, burning %d", ErrInsufficientFunds, from, src.balance, amount)
	}
	src.balance -= amount
	t.b.accounts[from] = src
	t.b.supply[mint] -= amount
	return nil
}

var _ vault.Ledger = (*Ledger)(nil)
