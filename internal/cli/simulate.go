package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/app"
	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	var scenarioPath string

	cmd := &cobra.Command{
		Use:   "simulate --scenario <file>",
		Short: "Run a scenario of vault operations",
		Long: `Run a YAML scenario against the configured ledger and report every step.

Each step may name the error kind it expects (InvalidAmount, Unauthorized,
VaultPaused, InsufficientShares, ...). The command exits with 1 when an
outcome differs from its expectation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, scenarioPath)
		},
	}
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file (yaml)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

type stepView struct {
	Vault  string `json:"vault"`
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Actor  string `json:"actor"`
	Expect string `json:"expect,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
	OK     bool   `json:"ok"`
}

type vaultView struct {
	AssetMint     string `json:"asset_mint"`
	ShareMint     string `json:"share_mint"`
	Admin         string `json:"admin"`
	Paused        bool   `json:"paused"`
	TotalAsset    string `json:"total_asset"`
	TotalShares   string `json:"total_shares"`
	PricePerShare string `json:"price_per_share"`
	Sequence      uint64 `json:"sequence"`
}

type reportView struct {
	RunID    string      `json:"run_id"`
	Name     string      `json:"name,omitempty"`
	Applied  int         `json:"applied"`
	Rejected int         `json:"rejected"`
	Duration string      `json:"duration"`
	Steps    []stepView  `json:"steps"`
	Vaults   []vaultView `json:"vaults"`
}

func newVaultView(st vault.State, decimals int) vaultView {
	return vaultView{
		AssetMint:     st.AssetMint.String(),
		ShareMint:     st.ShareMint.String(),
		Admin:         st.Admin.String(),
		Paused:        st.Paused,
		TotalAsset:    types.FormatUnits(st.TotalAsset, decimals),
		TotalShares:   types.FormatUnits(st.TotalShares, decimals),
		PricePerShare: vault.PricePerShare(&st).String(),
		Sequence:      st.Sequence,
	}
}

func newReportView(rep *app.Report, decimals int) reportView {
	v := reportView{
		RunID:    rep.RunID,
		Name:     rep.Name,
		Applied:  rep.Applied,
		Rejected: rep.Rejected,
		Duration: rep.Duration.Round(time.Microsecond).String(),
	}
	for _, s := range rep.Steps {
		sv := stepView{
			Vault:  s.Vault.String(),
			Step:   s.Step,
			Op:     s.Op,
			Actor:  s.Actor,
			Expect: s.Expect,
			Kind:   s.Kind,
			Detail: s.Detail,
			OK:     s.Matched(),
		}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		v.Steps = append(v.Steps, sv)
	}
	for _, st := range rep.Vaults {
		v.Vaults = append(v.Vaults, newVaultView(st, decimals))
	}
	return v
}

func runSimulate(cmd *cobra.Command, opts *RootOptions, scenarioPath string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	sc, err := app.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	log := newLogger(cmd, cfg)
	defer log.Close()

	ctx, cancel := app.NotifyContext(cmd.Context(), log.Logger)
	defer cancel()

	runner, err := app.NewRunner(ctx, cfg, log)
	if err != nil {
		return err
	}
	rep, runErr := runner.Run(ctx, sc)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := runner.Close(closeCtx); err != nil {
		log.Warn("Shutdown incomplete", zap.Error(err))
	}

	if errors.Is(runErr, app.ErrExpectationMismatch) {
		runErr = &ExitError{Code: ExitFailure, Err: runErr}
	}
	if rep == nil {
		return runErr
	}

	decimals := cfg.Decimals
	if sc.Decimals != nil {
		decimals = *sc.Decimals
	}
	view := newReportView(rep, decimals)
	return out.Emit(view, runErr, func(w io.Writer) {
		line(w, "run %s (%s): %d applied, %d rejected in %s", view.RunID, view.Name, view.Applied, view.Rejected, view.Duration)
		for _, s := range view.Steps {
			mark := "ok"
			if !s.OK {
				mark = "MISMATCH"
			}
			outcome := s.Detail
			if s.Kind != "" {
				outcome = s.Kind
			}
			line(w, "  %-8s %s #%d %-9s %-10s %s", mark, s.Vault, s.Step, s.Op, s.Actor, outcome)
		}
		for _, v := range view.Vaults {
			line(w, "vault %s: assets=%s shares=%s price=%s admin=%s paused=%t seq=%d",
				v.AssetMint, v.TotalAsset, v.TotalShares, v.PricePerShare, v.Admin, v.Paused, v.Sequence)
		}
	})
}
