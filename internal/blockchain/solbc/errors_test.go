package solbc

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
)

func TestSimulationFailure(t *testing.T) {
	rpcErr := &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1",
		Data: map[string]interface{}{
			"logs": []interface{}{"Program log: Error: insufficient funds", 42},
		},
	}
	wrapped := &Error{Err: rpcErr, NodeURL: "http://localhost:8899", Method: "sendTransaction"}

	assert.True(t, IsSimulationFailure(wrapped))
	assert.Equal(t, []string{"Program log: Error: insufficient funds"}, SimulationLogs(wrapped))
	assert.Contains(t, wrapped.Error(), "sendTransaction")

	assert.False(t, IsSimulationFailure(errors.New("connection refused")))
	assert.False(t, IsSimulationFailure(&jsonrpc.RPCError{Message: "Node is behind"}))
	assert.Nil(t, SimulationLogs(errors.New("x")))
}
