package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := Initialize("admin", "USDC", "vUSDC", "custody")
	require.NoError(t, err)
	return s
}

func TestInitialize(t *testing.T) {
	s := newTestState(t)
	assert.Equal(t, State{
		AssetMint:      "USDC",
		ShareMint:      "vUSDC",
		CustodyAccount: "custody",
		Admin:          "admin",
	}, *s)
	assert.NoError(t, s.Validate())
	assert.Equal(t, Address("USDC"), s.ID())
}

func TestInitializeRejectsBadIdentities(t *testing.T) {
	_, err := Initialize("", "USDC", "vUSDC", "custody")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = Initialize("admin", "USDC", "USDC", "custody")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestRequireAdmin(t *testing.T) {
	s := newTestState(t)
	assert.NoError(t, RequireAdmin("admin", s))
	assert.ErrorIs(t, RequireAdmin("mallory", s), ErrUnauthorized)
	assert.ErrorIs(t, RequireAdmin("", s), ErrUnauthorized)
}

func TestSetPause(t *testing.T) {
	s := newTestState(t)

	require.NoError(t, SetPause("admin", s, true))
	assert.ErrorIs(t, RequireUnpaused(s), ErrVaultPaused)

	// idempotent, and not itself gated by the pause flag
	require.NoError(t, SetPause("admin", s, true))
	assert.True(t, s.Paused)

	require.NoError(t, SetPause("admin", s, false))
	assert.NoError(t, RequireUnpaused(s))
}

func TestSetPauseUnauthorizedLeavesFlag(t *testing.T) {
	s := newTestState(t)
	err := SetPause("mallory", s, true)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, s.Paused)
}

func TestSetAdmin(t *testing.T) {
	s := newTestState(t)

	assert.ErrorIs(t, SetAdmin("mallory", s, "mallory"), ErrUnauthorized)
	assert.ErrorIs(t, SetAdmin("admin", s, ""), ErrInvalidIdentity)

	require.NoError(t, SetAdmin("admin", s, "ops"))
	assert.Equal(t, Address("ops"), s.Admin)
	assert.ErrorIs(t, SetPause("admin", s, true), ErrUnauthorized)
	assert.NoError(t, SetPause("ops", s, true))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&State{TotalAsset: 1, TotalShares: 1}).Validate())
	assert.ErrorIs(t, (&State{TotalAsset: 0, TotalShares: 1}).Validate(), ErrInternalInconsistency)
	assert.ErrorIs(t, (&State{TotalAsset: 1, TotalShares: 0}).Validate(), ErrInternalInconsistency)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "VaultPaused", ErrorKind(opError("deposit", "USDC", ErrVaultPaused)))
	assert.Equal(t, "Unknown", ErrorKind(assert.AnError))
}
