// Package cli implements the vault command line.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/solana-vault/internal/config"
	"github.com/rovshanmuradov/solana-vault/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Single-asset share vault",
		Long: `Run share-vault scenarios on an in-memory or Solana SPL ledger,
and inspect vault program addresses, accounts and events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (json|yaml); defaults plus SOLANA_VAULT_* env when empty")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))
	cmd.AddCommand(NewQuoteCommand(opts))
	cmd.AddCommand(NewDecodeLogsCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		cfg.DebugLogging = true
	}
	return cfg, nil
}

// newLogger logs to the command's stderr so JSON output on stdout stays clean.
func newLogger(cmd *cobra.Command, cfg *config.Config) *logger.Logger {
	lc := logger.DefaultConfig()
	lc.LogFile = cfg.LogFile
	lc.Development = cfg.DebugLogging
	stderr := cmd.ErrOrStderr()
	lc.Console = zapcore.Lock(zapcore.AddSync(stderr))
	lc.Pretty = true
	if f, ok := stderr.(*os.File); ok {
		lc.Color = logger.IsTerminal(f)
	}
	return logger.New(lc)
}
