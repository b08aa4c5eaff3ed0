package app

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-vault/internal/config"
)

// Step operations.
const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
	OpPause    = "pause"
	OpUnpause  = "unpause"
	OpSetAdmin = "set_admin"
)

// Scenario is a scripted run over one or more vaults. Amounts are UI units
// with Decimals places; shares use the same precision as their asset.
type Scenario struct {
	Name     string      `yaml:"name"`
	Decimals *int        `yaml:"decimals"`
	Vaults   []VaultPlan `yaml:"vaults"`
}

// VaultPlan creates (or reuses) one vault and runs its steps in order.
type VaultPlan struct {
	Asset   string            `yaml:"asset"`
	Share   string            `yaml:"share"`
	Admin   string            `yaml:"admin"`
	Funding map[string]string `yaml:"funding"`
	Steps   []Step            `yaml:"steps"`
}

// Step is one vault operation. Expect names the error kind the step must fail
// with; empty means it must succeed.
type Step struct {
	Op       string `yaml:"op"`
	Actor    string `yaml:"actor"`
	Amount   string `yaml:"amount"`
	NewAdmin string `yaml:"new_admin"`
	Expect   string `yaml:"expect"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the structure. Amount syntax is checked at run time against
// the effective decimals.
func (sc *Scenario) Validate() error {
	if len(sc.Vaults) == 0 {
		return errors.New("scenario has no vaults")
	}
	if sc.Decimals != nil && (*sc.Decimals < 0 || *sc.Decimals > config.MaxDecimals) {
		return fmt.Errorf("invalid decimals %d: must be within 0..%d", *sc.Decimals, config.MaxDecimals)
	}
	seen := make(map[string]bool, len(sc.Vaults))
	for i, v := range sc.Vaults {
		if v.Asset == "" {
			return fmt.Errorf("vault %d: asset is required", i)
		}
		if seen[v.Asset] {
			return fmt.Errorf("vault %d: asset %s listed twice", i, v.Asset)
		}
		seen[v.Asset] = true
		if v.Admin == "" {
			return fmt.Errorf("vault %s: admin is required", v.Asset)
		}
		for j, s := range v.Steps {
			if err := s.validate(); err != nil {
				return fmt.Errorf("vault %s step %d: %w", v.Asset, j+1, err)
			}
		}
	}
	return nil
}

func (s Step) validate() error {
	if s.Actor == "" {
		return errors.New("actor is required")
	}
	switch s.Op {
	case OpDeposit, OpWithdraw:
		if s.Amount == "" {
			return fmt.Errorf("%s needs an amount", s.Op)
		}
	case OpPause, OpUnpause:
	case OpSetAdmin:
		if s.NewAdmin == "" {
			return errors.New("set_admin needs new_admin")
		}
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// ShareMint returns the share mint of the plan, defaulting to "v" + asset.
func (v VaultPlan) ShareMint() string {
	if v.Share != "" {
		return v.Share
	}
	return "v" + v.Asset
}

func (sc *Scenario) decimals(fallback int) int {
	if sc.Decimals != nil {
		return *sc.Decimals
	}
	return fallback
}
