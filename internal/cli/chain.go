package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-vault/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-vault/internal/events"
	"github.com/rovshanmuradov/solana-vault/internal/logger"
	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	var programID string

	cmd := &cobra.Command{
		Use:   "derive <asset-mint>",
		Short: "Print the program-derived addresses of a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := resolveProgram(rootOpts, programID)
			if err != nil {
				return err
			}
			mint, err := solana.PublicKeyFromBase58(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset mint: %w", err)
			}
			addrs, err := solbc.DeriveVaultAddresses(program, mint)
			if err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			data := map[string]any{
				"program":        program.String(),
				"asset_mint":     mint.String(),
				"vault_state":    addrs.State.String(),
				"state_bump":     addrs.StateBump,
				"authority":      addrs.Authority.String(),
				"authority_bump": addrs.AuthorityBump,
				"custody":        addrs.Custody.String(),
				"custody_bump":   addrs.CustodyBump,
			}
			return out.Emit(data, nil, func(w io.Writer) {
				line(w, "vault_state %s (bump %d)", addrs.State, addrs.StateBump)
				line(w, "authority   %s (bump %d)", addrs.Authority, addrs.AuthorityBump)
				line(w, "custody     %s (bump %d)", addrs.Custody, addrs.CustodyBump)
			})
		},
	}
	cmd.Flags().StringVarP(&programID, "program", "p", "", "vault program id (defaults to program_id from config)")
	return cmd
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var programID string

	cmd := &cobra.Command{
		Use:   "inspect <asset-mint>",
		Short: "Fetch and decode a vault state account over RPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			program, err := resolveProgramID(cfg.ProgramID, programID)
			if err != nil {
				return err
			}
			mint, err := solana.PublicKeyFromBase58(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset mint: %w", err)
			}
			addrs, err := solbc.DeriveVaultAddresses(program, mint)
			if err != nil {
				return err
			}

			log := newLogger(cmd, cfg)
			defer log.Close()
			client, err := solbc.NewClient(cfg.RPCList, cfg.ConfirmTimeout(), log.Logger)
			if err != nil {
				return err
			}

			var acc solbc.VaultStateAccount
			if err := client.GetAccountDataInto(cmd.Context(), addrs.State, &acc); err != nil {
				return fmt.Errorf("fetch vault state %s: %w", addrs.State, err)
			}
			custody, err := client.GetTokenAccountBalance(cmd.Context(), acc.VaultAssetAccount)
			if err != nil {
				return fmt.Errorf("fetch custody balance: %w", err)
			}

			st := acc.State()
			view := newVaultView(st, cfg.Decimals)
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			data := map[string]any{
				"vault_state":     addrs.State.String(),
				"state":           view,
				"custody_balance": types.FormatUnits(custody, cfg.Decimals),
				"consistent":      st.Validate() == nil,
			}
			return out.Emit(data, nil, func(w io.Writer) {
				line(w, "vault %s at %s", view.AssetMint, addrs.State)
				line(w, "  share mint  %s", view.ShareMint)
				line(w, "  admin       %s (paused=%t)", view.Admin, view.Paused)
				line(w, "  totals      assets=%s shares=%s price=%s", view.TotalAsset, view.TotalShares, view.PricePerShare)
				line(w, "  custody     %s holds %s", acc.VaultAssetAccount, types.FormatUnits(custody, cfg.Decimals))
				if err := st.Validate(); err != nil {
					line(w, "  WARNING     %v", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&programID, "program", "p", "", "vault program id (defaults to program_id from config)")
	return cmd
}

// NewDecodeLogsCommand creates the decode-logs command.
func NewDecodeLogsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		signature string
		vaultID   string
	)

	cmd := &cobra.Command{
		Use:   "decode-logs [file|-]",
		Short: "Decode vault events from program log lines",
		Long: `Decode deposit and withdraw events from "Program data:" log lines.

Logs are read from a file, from stdin ("-"), or fetched over RPC with
--signature. Lines of other programs are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var logs []string
			switch {
			case signature != "" && len(args) > 0:
				return errors.New("pass either a log file or --signature, not both")
			case signature != "":
				sig, err := solana.SignatureFromBase58(signature)
				if err != nil {
					return fmt.Errorf("invalid signature: %w", err)
				}
				cfg, err := rootOpts.loadConfig()
				if err != nil {
					return err
				}
				log := newLogger(cmd, cfg)
				defer log.Close()
				if logs, err = fetchLogs(cmd, cfg.RPCList, cfg.ConfirmTimeout(), log, sig); err != nil {
					return err
				}
			case len(args) == 1:
				var err error
				if logs, err = readLogs(cmd.InOrStdin(), args[0]); err != nil {
					return err
				}
			default:
				return errors.New("a log file or --signature is required")
			}

			evs, err := solbc.DecodeProgramLogs(logs, vault.Address(vaultID))
			if err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			rows := make([]map[string]string, 0, len(evs))
			for _, e := range evs {
				rec := events.JournalRecord(e)
				row := make(map[string]string, len(rec))
				for i, col := range events.JournalHeader {
					if rec[i] != "" {
						row[col] = rec[i]
					}
				}
				rows = append(rows, row)
			}
			return out.Emit(rows, nil, func(w io.Writer) {
				if len(evs) == 0 {
					line(w, "no vault events")
					return
				}
				for _, e := range evs {
					line(w, "%s", strings.Join(events.JournalRecord(e), " "))
				}
			})
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "fetch logs of this transaction over RPC")
	cmd.Flags().StringVar(&vaultID, "vault", "", "asset mint to label decoded events with")
	return cmd
}

func fetchLogs(cmd *cobra.Command, rpcList []string, timeout time.Duration, log *logger.Logger, sig solana.Signature) ([]string, error) {
	client, err := solbc.NewClient(rpcList, timeout, log.Logger)
	if err != nil {
		return nil, err
	}
	return client.GetTransactionLogs(cmd.Context(), sig)
}

func readLogs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open logs: %w", err)
		}
		defer f.Close()
		r = f
	}
	var logs []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			logs = append(logs, l)
		}
	}
	return logs, sc.Err()
}

func resolveProgram(opts *RootOptions, flag string) (solana.PublicKey, error) {
	if flag != "" {
		return resolveProgramID("", flag)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return resolveProgramID(cfg.ProgramID, "")
}

func resolveProgramID(configured, flag string) (solana.PublicKey, error) {
	id := flag
	if id == "" {
		id = configured
	}
	if id == "" {
		return solana.PublicKey{}, errors.New("program id required: pass --program or set program_id")
	}
	pk, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id: %w", err)
	}
	return pk, nil
}
