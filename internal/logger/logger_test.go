package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesConsoleAndJSONFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "vault.log")

	cfg := DefaultConfig()
	cfg.LogFile = path
	cfg.Compress = false
	cfg.Console = zapcore.AddSync(&console)

	log := New(cfg)
	log.WithVault("USDC").Info("Deposit committed", zap.Uint64("shares_minted", 100))
	log.Debug("hidden at info level")
	require.NoError(t, log.Close())

	assert.Contains(t, console.String(), "Deposit committed")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "USDC", entry["asset_mint"])
	assert.EqualValues(t, 100, entry["shares_minted"])
	assert.Contains(t, entry, "timestamp")
}

func TestTrackPerformanceInDevelopment(t *testing.T) {
	var console bytes.Buffer
	log := New(Config{Development: true, Console: zapcore.AddSync(&console)})

	end := log.TrackPerformance("simulate")
	end()

	out := console.String()
	assert.Contains(t, out, "Starting operation")
	assert.Contains(t, out, "Operation completed")
	assert.Contains(t, out, "correlation_id")
	assert.NoError(t, log.Close())
}

func TestPrettyConsole(t *testing.T) {
	var console bytes.Buffer
	log := New(Config{Pretty: true, Console: zapcore.AddSync(&console)})
	log.Warn("Journal write failed", zap.String("vault", "USDC"))
	require.NoError(t, log.Close())

	out := console.String()
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "Journal write failed")
	assert.Contains(t, out, `"vault": "USDC"`)
	assert.NotContains(t, out, ColorYellow)

	console.Reset()
	log = New(Config{Pretty: true, Color: true, Console: zapcore.AddSync(&console)})
	log.Info("Registry restored")
	require.NoError(t, log.Close())
	assert.Contains(t, console.String(), ColorGreen+"[INFO]"+ColorReset)
}
