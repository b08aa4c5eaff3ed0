package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, LedgerMemory, cfg.Ledger)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, DefaultEventBuffer, cfg.EventBuffer)
	assert.Equal(t, DefaultDecimals, cfg.Decimals)
	assert.Equal(t, vault.ZeroMintReject, cfg.Policy())
	assert.Equal(t, 30*time.Second, cfg.ConfirmTimeout())
	assert.Empty(t, cfg.RPCList)
}

func TestLoadSolanaYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
ledger: solana
rpc_list:
  - https://api.devnet.solana.com
  - " https://rpc.example.org "
program_id: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
wallets_path: wallets.yaml
payer: operator
confirm_timeout_ms: 5000
zero_mint_policy: accept
journal_path: events.csv
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, LedgerSolana, cfg.Ledger)
	assert.Equal(t, []string{"https://api.devnet.solana.com", "https://rpc.example.org"}, cfg.RPCList)
	assert.Equal(t, "operator", cfg.Payer)
	assert.Equal(t, 5*time.Second, cfg.ConfirmTimeout())
	assert.Equal(t, vault.ZeroMintAccept, cfg.Policy())
	assert.Equal(t, "events.csv", cfg.JournalPath)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "config.json", `{"ledger": "memory", "workers": 2}`)
	t.Setenv("SOLANA_VAULT_WORKERS", "8")
	t.Setenv("SOLANA_VAULT_LEDGER", "solana")
	t.Setenv("SOLANA_VAULT_RPC_LIST", "https://a.example, https://b.example")
	t.Setenv("SOLANA_VAULT_WALLETS_PATH", "wallets.yaml")
	t.Setenv("SOLANA_VAULT_PAYER", "operator")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, LedgerSolana, cfg.Ledger)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.RPCList)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown ledger", `ledger: paper`, "invalid ledger"},
		{"solana without rpc", `ledger: solana`, "rpc_list is empty"},
		{"websocket rpc", "ledger: solana\nrpc_list: [wss://x]", "invalid RPC URL"},
		{"bad program id", "ledger: solana\nrpc_list: [https://x]\nprogram_id: nope", "invalid program_id"},
		{"solana without wallets", "ledger: solana\nrpc_list: [https://x]", "wallets_path is required"},
		{"solana without payer", "ledger: solana\nrpc_list: [https://x]\nwallets_path: w.yaml", "payer is required"},
		{"bad priority", "ledger: solana\nrpc_list: [https://x]\nwallets_path: w.yaml\npayer: op\npriority: turbo", "unknown priority level"},
		{"bad policy", `zero_mint_policy: round`, "unknown zero mint policy"},
		{"negative retries", `retries: -1`, "invalid retries"},
		{"zero buffer", `event_buffer: 0`, "invalid event_buffer"},
		{"too many decimals", `decimals: 20`, "invalid decimals"},
		{"negative decimals", `decimals: -1`, "invalid decimals"},
		{"bad postgres url", `postgres_url: "mysql://x"`, "invalid postgres_url"},
		{"http ws url", `ws_url: "https://x"`, "invalid ws_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "config.yaml", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestWebsocketURL(t *testing.T) {
	cfg := &Config{RPCList: []string{"https://api.devnet.solana.com"}}
	assert.Equal(t, "wss://api.devnet.solana.com", cfg.WebsocketURL())

	cfg.RPCList = []string{"http://127.0.0.1:8899"}
	assert.Equal(t, "ws://127.0.0.1:8899", cfg.WebsocketURL())

	cfg.WSURL = "ws://127.0.0.1:8900"
	assert.Equal(t, "ws://127.0.0.1:8900", cfg.WebsocketURL())

	assert.Empty(t, (&Config{}).WebsocketURL())
}
