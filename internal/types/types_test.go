package types

import (
	"testing"

	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(1_500_000, 6))
	assert.Equal(t, "0.000001", FormatUnits(1, 6))
	assert.Equal(t, "0", FormatUnits(0, 9))
	assert.Equal(t, "18446744073709551615", FormatUnits(^uint64(0), 0))
	assert.Equal(t, "18.446744073709551615", FormatUnits(^uint64(0), 18))
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     uint64
		wantErr  bool
	}{
		{"1.5", 6, 1_500_000, false},
		{" 100 ", 6, 100_000_000, false},
		{"0.000001", 6, 1, false},
		{"18446744073709551615", 0, ^uint64(0), false},
		{"0.0000001", 6, 0, true},
		{"-1", 6, 0, true},
		{"abc", 6, 0, true},
		{"18446744073709551616", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidUnits)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorityInstructions(t *testing.T) {
	none, err := PriorityInstructions(PriorityNone)
	require.NoError(t, err)
	assert.Empty(t, none)

	high, err := PriorityInstructions(PriorityHigh)
	require.NoError(t, err)
	require.Len(t, high, 2)
	for _, ix := range high {
		assert.Equal(t, computebudget.ProgramID, ix.ProgramID())
	}

	_, err = PriorityInstructions("extreme")
	assert.Error(t, err)
}

func TestParsePriorityLevel(t *testing.T) {
	level, err := ParsePriorityLevel(" Medium ")
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, level)

	level, err = ParsePriorityLevel("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNone, level)

	_, err = ParsePriorityLevel("turbo")
	assert.Error(t, err)
}
