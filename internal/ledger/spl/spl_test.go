package spl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/blockchain"
	"github.com/rovshanmuradov/solana-vault/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
	"github.com/rovshanmuradov/solana-vault/internal/wallet"
)

var errAccountMissing = errors.New("account not found")

type fakeClient struct {
	mu          sync.Mutex
	owners      map[solana.PublicKey]solana.PublicKey
	authorities map[solana.PublicKey]*solana.PublicKey
	balances    map[solana.PublicKey]uint64

	sendErrs   []error // consumed one per send attempt
	confirmErr error

	sends       int
	mintLoads   int
	blockhashes int
	sent        []*solana.Transaction
	attempted   []solana.Signature // signature of every send attempt
	confirming  []solana.Signature
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		owners:      make(map[solana.PublicKey]solana.PublicKey),
		authorities: make(map[solana.PublicKey]*solana.PublicKey),
		balances:    make(map[solana.PublicKey]uint64),
	}
}

// GetRecentBlockhash returns a new hash on every call, like a live cluster
// does as slots advance.
func (f *fakeClient) GetRecentBlockhash(context.Context) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhashes++
	return solana.Hash{7, byte(f.blockhashes)}, nil
}

func (f *fakeClient) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ blockchain.TransactionOptions) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.attempted = append(f.attempted, tx.Signatures[0])
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeClient) GetAccountDataInto(_ context.Context, pk solana.PublicKey, dst interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := dst.(type) {
	case *token.Account:
		owner, ok := f.owners[pk]
		if !ok {
			return errAccountMissing
		}
		v.Owner = owner
	case *token.Mint:
		f.mintLoads++
		auth, ok := f.authorities[pk]
		if !ok {
			return errAccountMissing
		}
		v.MintAuthority = auth
	default:
		return errors.New("unexpected account type")
	}
	return nil
}

func (f *fakeClient) GetTokenAccountBalance(_ context.Context, pk solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[pk], nil
}

func (f *fakeClient) WaitForTransactionConfirmation(_ context.Context, sig solana.Signature, _ rpc.CommitmentType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirming = append(f.confirming, sig)
	return f.confirmErr
}

func (f *fakeClient) GetTransactionLogs(context.Context, solana.Signature) ([]string, error) {
	return nil, nil
}

type fixture struct {
	client *fakeClient
	ledger *Ledger

	operator, alice *wallet.Wallet
	assetMint       solana.PublicKey
	shareMint       solana.PublicKey
	custody         solana.PublicKey
	aliceAsset      solana.PublicKey
	aliceShare      solana.PublicKey
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

func newWallet(t *testing.T, name string) *wallet.Wallet {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return wallet.FromPrivateKey(name, k)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		client:     newFakeClient(),
		operator:   newWallet(t, "operator"),
		alice:      newWallet(t, "alice"),
		assetMint:  newKey(t),
		shareMint:  newKey(t),
		custody:    newKey(t),
		aliceAsset: newKey(t),
		aliceShare: newKey(t),
	}
	f.client.owners[f.custody] = f.operator.PublicKey
	f.client.owners[f.aliceAsset] = f.alice.PublicKey
	f.client.owners[f.aliceShare] = f.alice.PublicKey
	authority := f.operator.PublicKey
	f.client.authorities[f.shareMint] = &authority

	keys, err := wallet.NewKeyring(f.operator, f.alice)
	require.NoError(t, err)
	f.ledger, err = New(f.client, keys, f.operator.PublicKey, Options{
		Retries:       3,
		RetryInterval: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func addr(pk solana.PublicKey) vault.Address {
	return vault.Address(pk.String())
}

func (f *fixture) depositBatch(tx vault.LedgerTx) error {
	if err := tx.Transfer(addr(f.aliceAsset), addr(f.custody), 100); err != nil {
		return err
	}
	return tx.MintTo(addr(f.shareMint), addr(f.aliceShare), 100)
}

func TestNewRequiresPayerKey(t *testing.T) {
	keys, err := wallet.NewKeyring(newWallet(t, "someone"))
	require.NoError(t, err)

	_, err = New(newFakeClient(), keys, newKey(t), Options{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMissingSigner)
}

func TestAtomicSubmitsOneSignedTransaction(t *testing.T) {
	f := newFixture(t)
	f.client.sendErrs = []error{errors.New("connection reset")}

	require.NoError(t, f.ledger.Atomic(context.Background(), f.depositBatch))

	assert.Equal(t, 2, f.client.sends, "transient send failure is retried")
	require.Len(t, f.client.sent, 1)

	tx := f.client.sent[0]
	require.Len(t, tx.Message.Instructions, 2)
	for _, ix := range tx.Message.Instructions {
		assert.Equal(t, solana.TokenProgramID, tx.Message.AccountKeys[ix.ProgramIDIndex])
	}
	assert.Equal(t, f.operator.PublicKey, tx.Message.AccountKeys[0], "operator pays fees")
	assert.Equal(t, int(tx.Message.Header.NumRequiredSignatures), len(tx.Signatures))
	assert.EqualValues(t, 2, tx.Message.Header.NumRequiredSignatures, "operator and alice sign")
}

func TestPriorityFeePrefix(t *testing.T) {
	f := newFixture(t)
	keys, err := wallet.NewKeyring(f.operator, f.alice)
	require.NoError(t, err)
	f.ledger, err = New(f.client, keys, f.operator.PublicKey, Options{Priority: types.PriorityHigh}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, f.ledger.Atomic(context.Background(), f.depositBatch))

	tx := f.client.sent[0]
	require.Len(t, tx.Message.Instructions, 4)
	first := tx.Message.Instructions[0]
	assert.Equal(t, computebudget.ProgramID, tx.Message.AccountKeys[first.ProgramIDIndex])
}

func TestUnknownPriorityLevel(t *testing.T) {
	f := newFixture(t)
	keys, err := wallet.NewKeyring(f.operator)
	require.NoError(t, err)
	_, err = New(f.client, keys, f.operator.PublicKey, Options{Priority: "extreme"}, zap.NewNop())
	assert.Error(t, err)
}

func TestAtomicRejectsUnknownSigner(t *testing.T) {
	f := newFixture(t)
	stranger := newKey(t)
	f.client.owners[f.aliceAsset] = stranger

	err := f.ledger.Atomic(context.Background(), f.depositBatch)

	assert.ErrorIs(t, err, ErrMissingSigner)
	assert.Zero(t, f.client.sends)
}

func TestAtomicBatchErrorSendsNothing(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")

	err := f.ledger.Atomic(context.Background(), func(tx vault.LedgerTx) error {
		require.NoError(t, f.depositBatch(tx))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.client.sends)
}

func TestAtomicEmptyBatchSendsNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Atomic(context.Background(), func(vault.LedgerTx) error { return nil }))
	assert.Zero(t, f.client.sends)
}

func TestAtomicUnknownAccount(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.Atomic(context.Background(), func(tx vault.LedgerTx) error {
		return tx.Burn(addr(f.shareMint), addr(newKey(t)), 1)
	})
	assert.ErrorIs(t, err, errAccountMissing)
}

func TestAtomicInvalidAddress(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.Atomic(context.Background(), func(tx vault.LedgerTx) error {
		return tx.Transfer("not-a-key", addr(f.custody), 1)
	})
	assert.ErrorIs(t, err, vault.ErrInvalidIdentity)
}

func TestMintAuthorityIsCached(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.ledger.Atomic(context.Background(), f.depositBatch))
	}
	assert.Equal(t, 1, f.client.mintLoads)
}

func TestMintWithoutAuthority(t *testing.T) {
	f := newFixture(t)
	f.client.authorities[f.shareMint] = nil

	err := f.ledger.Atomic(context.Background(), f.depositBatch)
	assert.ErrorIs(t, err, ErrNoAuthority)
}

func TestSimulationFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.client.sendErrs = []error{&jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: Error processing Instruction 0",
		Data: map[string]interface{}{
			"logs": []interface{}{
				"Program log: AnchorError occurred. Error Code: VaultPaused. Error Number: 6002. Error Message: Vault is paused.",
			},
		},
	}}

	err := f.ledger.Atomic(context.Background(), f.depositBatch)

	require.Error(t, err)
	assert.Equal(t, 1, f.client.sends)
	var ae solbc.AnchorError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "VaultPaused", ae.Name)
	assert.Equal(t, 6002, ae.Code)
}

func TestRetriesAreBounded(t *testing.T) {
	f := newFixture(t)
	transient := errors.New("node unavailable")
	f.client.sendErrs = []error{transient, transient, transient, transient, transient}
	f.client.confirmErr = solbc.ErrConfirmationTimeout

	err := f.ledger.Atomic(context.Background(), f.depositBatch)

	assert.ErrorIs(t, err, ErrUnconfirmed)
	assert.ErrorIs(t, err, vault.ErrOutcomeUnknown)
	assert.Equal(t, 4, f.client.sends)
}

func TestResendKeepsOneSignature(t *testing.T) {
	f := newFixture(t)
	f.client.sendErrs = []error{errors.New("connection reset"), errors.New("timeout")}

	require.NoError(t, f.ledger.Atomic(context.Background(), f.depositBatch))

	require.Len(t, f.client.attempted, 3)
	assert.Equal(t, 1, f.client.blockhashes, "signed once")
	for _, sig := range f.client.attempted {
		assert.Equal(t, f.client.attempted[0], sig)
	}
	assert.Equal(t, []solana.Signature{f.client.attempted[0]}, f.client.confirming)
}

func TestLostSendSettledBySignatureStatus(t *testing.T) {
	f := newFixture(t)
	// The first send reaches a leader but the reply is lost; the resend then
	// fails preflight because the transaction was already processed.
	f.client.sendErrs = []error{
		errors.New("connection reset"),
		&jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: This transaction has already been processed"},
	}

	require.NoError(t, f.ledger.Atomic(context.Background(), f.depositBatch))

	assert.Equal(t, 2, f.client.sends)
	require.Len(t, f.client.confirming, 1)
	assert.Equal(t, f.client.attempted[0], f.client.confirming[0])
}

func TestConfirmationOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		confirmErr error
		want       error
	}{
		{"failed on chain", solbc.ErrTransactionFailed, solbc.ErrTransactionFailed},
		{"timeout is ambiguous", solbc.ErrConfirmationTimeout, ErrUnconfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.client.confirmErr = tt.confirmErr

			err := f.ledger.Atomic(context.Background(), f.depositBatch)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, f.client.sends, "sent transactions are never resent")
		})
	}
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	f.client.balances[f.aliceShare] = 42

	got, err := f.ledger.Balance(context.Background(), addr(f.aliceShare))
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)

	_, err = f.ledger.Balance(context.Background(), "???")
	assert.ErrorIs(t, err, vault.ErrInvalidIdentity)
}

func TestServiceDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	st, err := vault.Initialize(addr(f.operator.PublicKey), addr(f.assetMint), addr(f.shareMint), addr(f.custody))
	require.NoError(t, err)
	svc, err := vault.NewService(st, f.ledger, zap.NewNop())
	require.NoError(t, err)

	dep, err := svc.Deposit(context.Background(), vault.DepositRequest{
		Depositor:    addr(f.alice.PublicKey),
		AssetAccount: addr(f.aliceAsset),
		ShareAccount: addr(f.aliceShare),
		Amount:       100,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 100, dep.SharesMinted)

	f.client.balances[f.aliceShare] = 100
	wd, err := svc.Withdraw(context.Background(), vault.WithdrawRequest{
		Withdrawer:   addr(f.alice.PublicKey),
		AssetAccount: addr(f.aliceAsset),
		ShareAccount: addr(f.aliceShare),
		Shares:       40,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 40, wd.AssetReturned)

	require.Len(t, f.client.sent, 2)
	burnAndTransfer := f.client.sent[1]
	assert.Len(t, burnAndTransfer.Message.Instructions, 2)

	got := svc.State()
	assert.EqualValues(t, 60, got.TotalAsset)
	assert.EqualValues(t, 60, got.TotalShares)
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)

	ata, err := f.ledger.OpenAccount(context.Background(), f.alice, f.assetMint)
	require.NoError(t, err)

	want, err := f.alice.ATA(f.assetMint)
	require.NoError(t, err)
	assert.Equal(t, want, ata)
	require.Len(t, f.client.sent, 1)
	assert.EqualValues(t, 1, f.client.sent[0].Message.Header.NumRequiredSignatures)
}
