// internal/blockchain/solbc/errors.go
package solbc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	ErrNoRPCNodes          = errors.New("no RPC nodes configured")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrTransactionFailed   = errors.New("transaction failed on chain")
	ErrInvalidTokenAmount  = errors.New("invalid token amount in RPC response")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Error is an RPC failure annotated with the node and method.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AnchorError is the structured form of an "AnchorError occurred" log line.
type AnchorError struct {
	Code int
	Name string
	Msg  string
}

func (e AnchorError) Error() string {
	return fmt.Sprintf("anchor error %d (%s): %s", e.Code, e.Name, e.Msg)
}

// IsSimulationFailure reports whether err is a preflight rejection from the
// node. Such failures are deterministic and should not be retried.
func IsSimulationFailure(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(rpcErr.Message, "Transaction simulation failed")
}

// SimulationLogs returns the program logs attached to a preflight rejection.
func SimulationLogs(err error) []string {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(raw))
	for _, l := range raw {
		if s, ok := l.(string); ok {
			logs = append(logs, s)
		}
	}
	return logs
}

// FindAnchorError returns the first Anchor error reported in logs.
//
// Example line: "Program log: AnchorError occurred. Error Code: VaultPaused.
// Error Number: 6002. Error Message: Vault is paused."
func FindAnchorError(logs []string) (AnchorError, bool) {
	for _, line := range logs {
		if !strings.Contains(line, "AnchorError") {
			continue
		}
		return AnchorError{
			Code: atoiField(line, "Error Number:"),
			Name: field(line, "Error Code:"),
			Msg:  field(line, "Error Message:"),
		}, true
	}
	return AnchorError{}, false
}

func field(line, label string) string {
	_, rest, ok := strings.Cut(line, label)
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	if i := strings.Index(rest, ". "); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSuffix(rest, ".")
}

func atoiField(line, label string) int {
	n, _ := strconv.Atoi(field(line, label))
	return n
}
