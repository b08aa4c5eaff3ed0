// internal/wallet/wallet.go
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoWallets      = errors.New("no wallets found in configuration")
	ErrUnknownWallet  = errors.New("unknown wallet")
	ErrInvalidKeySize = errors.New("invalid private key length")
)

// Wallet is a named Solana keypair.
type Wallet struct {
	Name       string
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[solana.PublicKey]solana.PublicKey
}

// NewWallet decodes a base58 64-byte secret key.
func NewWallet(name, privateKeyBase58 string) (*Wallet, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidKeySize, len(raw))
	}
	return FromPrivateKey(name, solana.PrivateKey(raw)), nil
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(name string, key solana.PrivateKey) *Wallet {
	return &Wallet{
		Name:       name,
		PrivateKey: key,
		PublicKey:  key.PublicKey(),
		ataCache:   make(map[solana.PublicKey]solana.PublicKey),
	}
}

// ATA returns the associated token account of the wallet for mint.
func (w *Wallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ata, ok := w.ataCache[mint]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mint] = ata
	return ata, nil
}

// CreateATAInstruction returns an idempotent create instruction for the
// wallet's associated token account of mint, paid by payer.
func (w *Wallet) CreateATAInstruction(payer, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := w.ATA(mint)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(w.PublicKey),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
		},
		[]byte{1}, // create_idempotent
	), nil
}

func (w *Wallet) String() string {
	return w.PublicKey.String()
}

// fileFormat is the layout of the wallets YAML file.
type fileFormat struct {
	Wallets []struct {
		Name       string `yaml:"name"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"wallets"`
}

// Keyring holds wallets by name and by public key. It is safe for concurrent
// reads once loaded.
type Keyring struct {
	byName map[string]*Wallet
	byKey  map[solana.PublicKey]*Wallet
}

// NewKeyring indexes wallets. Duplicate names are rejected.
func NewKeyring(wallets ...*Wallet) (*Keyring, error) {
	k := &Keyring{
		byName: make(map[string]*Wallet, len(wallets)),
		byKey:  make(map[solana.PublicKey]*Wallet, len(wallets)),
	}
	for _, w := range wallets {
		if _, dup := k.byName[w.Name]; dup {
			return nil, fmt.Errorf("duplicate wallet name %q", w.Name)
		}
		k.byName[w.Name] = w
		k.byKey[w.PublicKey] = w
	}
	return k, nil
}

// LoadKeyring reads wallets from a YAML file of the form
//
//	wallets:
//	  - name: admin
//	    private_key: <base58>
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Wallets) == 0 {
		return nil, ErrNoWallets
	}

	wallets := make([]*Wallet, 0, len(f.Wallets))
	for i, entry := range f.Wallets {
		if entry.Name == "" || entry.PrivateKey == "" {
			return nil, fmt.Errorf("wallet #%d: name and private_key are required", i+1)
		}
		w, err := NewWallet(entry.Name, entry.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", entry.Name, err)
		}
		wallets = append(wallets, w)
	}
	return NewKeyring(wallets...)
}

// Get returns the wallet called name.
func (k *Keyring) Get(name string) (*Wallet, error) {
	w, ok := k.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, name)
	}
	return w, nil
}

// Names returns the wallet names in sorted order.
func (k *Keyring) Names() []string {
	names := make([]string, 0, len(k.byName))
	for n := range k.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the keyring can sign for key.
func (k *Keyring) Has(key solana.PublicKey) bool {
	_, ok := k.byKey[key]
	return ok
}

// PrivateKeyFor is a solana.Transaction signer callback.
func (k *Keyring) PrivateKeyFor(key solana.PublicKey) *solana.PrivateKey {
	w, ok := k.byKey[key]
	if !ok {
		return nil
	}
	return &w.PrivateKey
}

// SignTransaction signs tx with every keyring wallet it requires.
func (k *Keyring) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(k.PrivateKeyFor)
	return err
}
