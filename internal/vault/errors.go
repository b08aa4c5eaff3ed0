// internal/vault/errors.go
package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for zero input or a transition that would move zero units.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrUnauthorized is returned when a non-admin attempts an admin action.
	ErrUnauthorized = errors.New("caller is not the vault admin")

	// ErrVaultPaused is returned for deposit or withdraw while the vault is paused.
	ErrVaultPaused = errors.New("vault is paused")

	// ErrInsufficientShares is returned when a withdraw exceeds the caller's holdings.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrMathOverflow is returned when checked arithmetic would overflow u64.
	ErrMathOverflow = errors.New("math overflow")

	// ErrInternalInconsistency marks a violated state invariant. It is never a user error.
	ErrInternalInconsistency = errors.New("vault state inconsistency")

	ErrInvalidIdentity = errors.New("invalid identity")
	ErrVaultNotFound   = errors.New("vault not found")
	ErrVaultExists     = errors.New("vault already exists")

	// ErrOutcomeUnknown is returned by a Ledger when a batch was sent but it
	// cannot tell whether the batch was applied.
	ErrOutcomeUnknown = errors.New("ledger outcome unknown")

	// ErrPersistFailed marks a transition that committed on the ledger but whose
	// snapshot could not be saved. The returned result is valid.
	ErrPersistFailed = errors.New("vault state not persisted")
)

// kinds maps sentinels to the names used in journals and scenario expectations.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrVaultPaused, "VaultPaused"},
	{ErrInsufficientShares, "InsufficientShares"},
	{ErrMathOverflow, "MathOverflow"},
	{ErrInternalInconsistency, "InternalInconsistency"},
	{ErrInvalidIdentity, "InvalidIdentity"},
	{ErrVaultNotFound, "VaultNotFound"},
	{ErrVaultExists, "VaultExists"},
	{ErrPersistFailed, "PersistFailed"},
}

// ErrorKind returns the short kind name of err, "" for nil and "Unknown" for
// errors that do not wrap a vault sentinel.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// OpError describes a failed vault operation.
type OpError struct {
	Op    string
	Vault Address
	Err   error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("vault %s [%s]: %v", e.Op, e.Vault, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, vault Address, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Vault: vault, Err: err}
}
