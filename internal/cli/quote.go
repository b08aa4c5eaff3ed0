package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-vault/internal/config"
	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

type quoteOptions struct {
	totalAsset  string
	totalShares string
	decimals    int
	policy      string
}

// NewQuoteCommand creates the quote command.
func NewQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	qo := &quoteOptions{}

	cmd := &cobra.Command{
		Use:   "quote <deposit|withdraw> <amount>",
		Short: "Preview shares minted or assets returned against given totals",
		Long: `Preview a deposit (amount in asset units) or a withdraw (amount in shares)
against pool totals, without touching any ledger. Results round down.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"deposit", "withdraw"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(cmd, rootOpts, qo, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&qo.totalAsset, "total-asset", "0", "pool asset total")
	cmd.Flags().StringVar(&qo.totalShares, "total-shares", "0", "pool share total")
	cmd.Flags().IntVar(&qo.decimals, "decimals", 0, "decimal places of amounts and totals")
	cmd.Flags().StringVar(&qo.policy, "zero-mint", "reject", "zero-result policy (reject|accept)")
	return cmd
}

func runQuote(cmd *cobra.Command, opts *RootOptions, qo *quoteOptions, op, amountArg string) error {
	if qo.decimals < 0 || qo.decimals > config.MaxDecimals {
		return fmt.Errorf("invalid --decimals %d: must be within 0..%d", qo.decimals, config.MaxDecimals)
	}
	policy, err := vault.ParseZeroMintPolicy(qo.policy)
	if err != nil {
		return err
	}
	st := vault.State{}
	if st.TotalAsset, err = types.ParseUnits(qo.totalAsset, qo.decimals); err != nil {
		return fmt.Errorf("total-asset: %w", err)
	}
	if st.TotalShares, err = types.ParseUnits(qo.totalShares, qo.decimals); err != nil {
		return fmt.Errorf("total-shares: %w", err)
	}
	amount, err := types.ParseUnits(amountArg, qo.decimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

	var result uint64
	switch op {
	case "deposit":
		result, err = vault.PreviewDeposit(&st, amount, policy)
	case "withdraw":
		result, err = vault.PreviewWithdraw(&st, amount, policy)
	default:
		return fmt.Errorf("unknown operation %q: must be deposit or withdraw", op)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", vault.ErrorKind(err), err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	data := map[string]string{
		"operation":       op,
		"amount":          types.FormatUnits(amount, qo.decimals),
		"result":          types.FormatUnits(result, qo.decimals),
		"price_per_share": vault.PricePerShare(&st).String(),
	}
	return out.Emit(data, nil, func(w io.Writer) {
		unit := "shares"
		if op == "withdraw" {
			unit = "assets"
		}
		line(w, "%s %s -> %s %s (price per share %s)", op, data["amount"], data["result"], unit, data["price_per_share"])
	})
}
