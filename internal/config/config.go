// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

const (
	LedgerMemory = "memory"
	LedgerSolana = "solana"
)

type Config struct {
	Ledger           string   `mapstructure:"ledger"`
	RPCList          []string `mapstructure:"rpc_list"`
	WSURL            string   `mapstructure:"ws_url"`
	ProgramID        string   `mapstructure:"program_id"`
	WalletsPath      string   `mapstructure:"wallets_path"`
	Payer            string   `mapstructure:"payer"`
	Priority         string   `mapstructure:"priority"`
	Retries          int      `mapstructure:"retries"`
	ConfirmTimeoutMs int      `mapstructure:"confirm_timeout_ms"`
	DebugLogging     bool     `mapstructure:"debug_logging"`
	LogFile          string   `mapstructure:"log_file"`
	JournalPath      string   `mapstructure:"journal_path"`
	PostgresURL      string   `mapstructure:"postgres_url"`
	SQLitePath       string   `mapstructure:"sqlite_path"`
	EventBuffer      int      `mapstructure:"event_buffer"`
	ZeroMintPolicy   string   `mapstructure:"zero_mint_policy"`
	Decimals         int      `mapstructure:"decimals"`
	Workers          int      `mapstructure:"workers"`
}

const (
	DefaultRetries          = 3
	DefaultConfirmTimeoutMs = 30000
	DefaultEventBuffer      = 256
	DefaultDecimals         = 6
	DefaultWorkers          = 4
	DefaultLogFile          = "vault.log"
	DefaultZeroMintPolicy   = "reject"

	// MaxDecimals keeps 10^decimals inside u64.
	MaxDecimals = 19
)

// EnvPrefix prefixes environment overrides, e.g. SOLANA_VAULT_LEDGER.
const EnvPrefix = "SOLANA_VAULT"

// LoadConfig reads path and applies environment overrides. An empty path
// yields the defaults plus the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"ledger":             LedgerMemory,
		"rpc_list":           []string{},
		"ws_url":             "",
		"program_id":         "",
		"wallets_path":       "",
		"payer":              "",
		"priority":           "none",
		"retries":            DefaultRetries,
		"confirm_timeout_ms": DefaultConfirmTimeoutMs,
		"debug_logging":      false,
		"log_file":           DefaultLogFile,
		"journal_path":       "",
		"postgres_url":       "",
		"sqlite_path":        "",
		"event_buffer":       DefaultEventBuffer,
		"zero_mint_policy":   DefaultZeroMintPolicy,
		"decimals":           DefaultDecimals,
		"workers":            DefaultWorkers,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.RPCList = cleanList(cfg.RPCList)

	return &cfg, validateConfig(&cfg)
}

// cleanList trims entries and splits comma separated ones, so
// SOLANA_VAULT_RPC_LIST="a, b" works like a YAML list.
func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if clean := strings.TrimSpace(part); clean != "" {
				out = append(out, clean)
			}
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	switch cfg.Ledger {
	case LedgerMemory:
	case LedgerSolana:
		if err := validateSolana(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid ledger %q: want %s or %s", cfg.Ledger, LedgerMemory, LedgerSolana)
	}
	if cfg.WSURL != "" {
		if err := validateURL(cfg.WSURL, "ws"); err != nil {
			return fmt.Errorf("invalid ws_url: %w", err)
		}
	}
	if cfg.PostgresURL != "" {
		if err := validateURL(cfg.PostgresURL, "postgres"); err != nil {
			return fmt.Errorf("invalid postgres_url: %w", err)
		}
	}
	if _, err := vault.ParseZeroMintPolicy(cfg.ZeroMintPolicy); err != nil {
		return err
	}
	return validateNumericParams(cfg)
}

func validateSolana(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	if cfg.ProgramID != "" {
		if _, err := solana.PublicKeyFromBase58(cfg.ProgramID); err != nil {
			return fmt.Errorf("invalid program_id: %w", err)
		}
	}
	if cfg.WalletsPath == "" {
		return errors.New("wallets_path is required for the solana ledger")
	}
	if cfg.Payer == "" {
		return errors.New("payer is required for the solana ledger")
	}
	if _, err := types.ParsePriorityLevel(cfg.Priority); err != nil {
		return err
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.ConfirmTimeoutMs <= 0 {
		return errors.New("invalid confirm_timeout_ms")
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	if cfg.Decimals < 0 || cfg.Decimals > MaxDecimals {
		return fmt.Errorf("invalid decimals: must be within 0..%d", MaxDecimals)
	}
	if cfg.Workers < 0 {
		return errors.New("invalid workers count")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// Policy returns the parsed zero-mint policy.
func (c *Config) Policy() vault.ZeroMintPolicy {
	p, err := vault.ParseZeroMintPolicy(c.ZeroMintPolicy)
	if err != nil {
		return vault.ZeroMintReject
	}
	return p
}

// ConfirmTimeout is confirm_timeout_ms as a duration.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutMs) * time.Millisecond
}

// WebsocketURL returns ws_url, or the first RPC node with its scheme switched
// to ws/wss. Empty when neither is configured.
func (c *Config) WebsocketURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	if len(c.RPCList) == 0 {
		return ""
	}
	u, err := url.Parse(c.RPCList[0])
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}
