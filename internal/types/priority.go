// internal/types/priority.go
package types

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

type PriorityLevel string

const (
	PriorityNone   PriorityLevel = "none"
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
)

type PriorityConfig struct {
	ComputeUnits uint32 // compute unit limit
	PriorityFee  uint64 // micro-lamports per compute unit
}

// A vault batch is at most two token instructions, so limits stay small.
var priorityProfiles = map[PriorityLevel]PriorityConfig{
	PriorityNone:   {},
	PriorityLow:    {ComputeUnits: 60_000, PriorityFee: 1_000},
	PriorityMedium: {ComputeUnits: 60_000, PriorityFee: 5_000},
	PriorityHigh:   {ComputeUnits: 80_000, PriorityFee: 25_000},
}

// ParsePriorityLevel accepts none, low, medium or high. Empty means none.
func ParsePriorityLevel(s string) (PriorityLevel, error) {
	level := PriorityLevel(strings.ToLower(strings.TrimSpace(s)))
	if level == "" {
		return PriorityNone, nil
	}
	if _, ok := priorityProfiles[level]; !ok {
		return "", fmt.Errorf("unknown priority level: %s", s)
	}
	return level, nil
}

// PriorityInstructions returns the compute-budget instructions to prepend to
// a transaction at level.
func PriorityInstructions(level PriorityLevel) ([]solana.Instruction, error) {
	config, ok := priorityProfiles[level]
	if !ok {
		return nil, fmt.Errorf("unknown priority level: %s", level)
	}

	var instructions []solana.Instruction
	if config.ComputeUnits > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitLimitInstruction(config.ComputeUnits).Build())
	}
	if config.PriorityFee > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(config.PriorityFee).Build())
	}
	return instructions, nil
}
