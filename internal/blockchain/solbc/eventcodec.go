// internal/blockchain/solbc/eventcodec.go
package solbc

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

const programDataPrefix = "Program data: "

var (
	ErrUnknownDiscriminator = errors.New("unknown discriminator")
	ErrShortData            = errors.New("data shorter than discriminator")
)

// Discriminator returns the 8-byte Anchor discriminator for "<namespace>:<name>".
func Discriminator(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	depositDiscriminator    = Discriminator("event", "DepositEvent")
	withdrawDiscriminator   = Discriminator("event", "WithdrawEvent")
	vaultStateDiscriminator = Discriminator("account", "VaultState")
)

// DepositRecord is the on-chain layout of a deposit event.
type DepositRecord struct {
	User         solana.PublicKey
	AssetAmount  uint64
	SharesMinted uint64
	Timestamp    int64
}

// WithdrawRecord is the on-chain layout of a withdraw event.
type WithdrawRecord struct {
	User         solana.PublicKey
	SharesBurned uint64
	AssetAmount  uint64
	Timestamp    int64
}

// EncodeEvent serializes a deposit or withdraw event as discriminator plus
// borsh payload. Other kinds have no on-chain layout.
func EncodeEvent(e vault.Event) ([]byte, error) {
	var (
		disc [8]byte
		rec  interface{}
	)
	switch ev := e.(type) {
	case vault.DepositEvent:
		user, err := solana.PublicKeyFromBase58(ev.Depositor.String())
		if err != nil {
			return nil, fmt.Errorf("depositor: %w", err)
		}
		disc = depositDiscriminator
		rec = DepositRecord{User: user, AssetAmount: ev.AssetAmount, SharesMinted: ev.SharesMinted, Timestamp: ev.Timestamp.Unix()}
	case vault.WithdrawEvent:
		user, err := solana.PublicKeyFromBase58(ev.Withdrawer.String())
		if err != nil {
			return nil, fmt.Errorf("withdrawer: %w", err)
		}
		disc = withdrawDiscriminator
		rec = WithdrawRecord{User: user, SharesBurned: ev.SharesBurned, AssetAmount: ev.AssetAmount, Timestamp: ev.Timestamp.Unix()}
	default:
		return nil, fmt.Errorf("no on-chain layout for %s events", e.Kind())
	}

	var buf bytes.Buffer
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return buf.Bytes(), nil
}

// DecodeEvent parses discriminator plus borsh payload. vaultID is stamped on
// the result because the on-chain events do not carry it.
func DecodeEvent(data []byte, vaultID vault.Address) (vault.Event, error) {
	if len(data) < 8 {
		return nil, ErrShortData
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	dec := bin.NewBorshDecoder(data[8:])

	switch disc {
	case depositDiscriminator:
		var rec DepositRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode deposit: %w", err)
		}
		return vault.DepositEvent{
			EventMeta:    vault.EventMeta{Vault: vaultID, Timestamp: time.Unix(rec.Timestamp, 0).UTC()},
			Depositor:    vault.Address(rec.User.String()),
			AssetAmount:  rec.AssetAmount,
			SharesMinted: rec.SharesMinted,
		}, nil
	case withdrawDiscriminator:
		var rec WithdrawRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode withdraw: %w", err)
		}
		return vault.WithdrawEvent{
			EventMeta:    vault.EventMeta{Vault: vaultID, Timestamp: time.Unix(rec.Timestamp, 0).UTC()},
			Withdrawer:   vault.Address(rec.User.String()),
			SharesBurned: rec.SharesBurned,
			AssetAmount:  rec.AssetAmount,
		}, nil
	}
	return nil, fmt.Errorf("%w: %x", ErrUnknownDiscriminator, disc)
}

// DecodeProgramLogs extracts vault events from transaction log lines. Lines
// that are not "Program data:" entries, or carry other programs' events, are
// skipped. Sequence numbers follow log order starting at 1.
func DecodeProgramLogs(logs []string, vaultID vault.Address) ([]vault.Event, error) {
	var out []vault.Event
	for i, line := range logs {
		payload, ok := strings.CutPrefix(line, programDataPrefix)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			return nil, fmt.Errorf("log line %d: %w", i, err)
		}
		ev, err := DecodeEvent(data, vaultID)
		if errors.Is(err, ErrUnknownDiscriminator) || errors.Is(err, ErrShortData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("log line %d: %w", i, err)
		}
		out = append(out, withSequence(ev, uint64(len(out)+1)))
	}
	return out, nil
}

// ProgramDataLine renders an encoded event the way the runtime logs it.
func ProgramDataLine(data []byte) string {
	return programDataPrefix + base64.StdEncoding.EncodeToString(data)
}

func withSequence(e vault.Event, seq uint64) vault.Event {
	switch ev := e.(type) {
	case vault.DepositEvent:
		ev.Sequence = seq
		return ev
	case vault.WithdrawEvent:
		ev.Sequence = seq
		return ev
	}
	return e
}

// VaultStateAccount is the on-chain layout of the vault state account.
type VaultStateAccount struct {
	AssetMint         solana.PublicKey
	ShareMint         solana.PublicKey
	VaultAuthority    solana.PublicKey
	VaultAssetAccount solana.PublicKey
	Admin             solana.PublicKey
	TotalAsset        uint64
	TotalShares       uint64
	Paused            bool
	Padding           [7]byte
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler so the account can be
// fetched with GetAccountDataInto.
func (a *VaultStateAccount) UnmarshalWithDecoder(dec *bin.Decoder) error {
	disc, err := dec.ReadNBytes(8)
	if err != nil {
		return fmt.Errorf("read discriminator: %w", err)
	}
	if !bytes.Equal(disc, vaultStateDiscriminator[:]) {
		return fmt.Errorf("%w: %x is not a vault state account", ErrUnknownDiscriminator, disc)
	}
	type plain VaultStateAccount
	var p plain
	if err := bin.NewBorshDecoder(rest(dec)).Decode(&p); err != nil {
		return err
	}
	*a = VaultStateAccount(p)
	return nil
}

func rest(dec *bin.Decoder) []byte {
	b, _ := dec.ReadNBytes(dec.Remaining())
	return b
}

// MarshalVaultState encodes an account with its discriminator.
func MarshalVaultState(a VaultStateAccount) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(vaultStateDiscriminator[:])
	type plain VaultStateAccount
	if err := bin.NewBorshEncoder(&buf).Encode(plain(a)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// State converts the account into the vault model.
func (a VaultStateAccount) State() vault.State {
	return vault.State{
		AssetMint:      vault.Address(a.AssetMint.String()),
		ShareMint:      vault.Address(a.ShareMint.String()),
		CustodyAccount: vault.Address(a.VaultAssetAccount.String()),
		Admin:          vault.Address(a.Admin.String()),
		TotalAsset:     a.TotalAsset,
		TotalShares:    a.TotalShares,
		Paused:         a.Paused,
	}
}
