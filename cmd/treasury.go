package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scarablabs/scarab/internal/output"
	"github.com/scarablabs/scarab/internal/payout"
)

var treasuryCmd = &cobra.Command{
	Use:   "treasury",
	Short: "Show the payout wallet address and balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return treasuryRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(treasuryCmd)
}

func treasuryRun(ctx context.Context) error {
	baseURL := viper.GetString("payout.base_url")
	if baseURL == "" {
		return fmt.Errorf("payment rail not configured (set payout.base_url)")
	}

	rail := payout.NewClient(baseURL, viper.GetString("payout.api_key"),
		time.Duration(viper.GetInt("payout.timeout_seconds"))*time.Second)

	addr, err := rail.Address(ctx)
	if err != nil {
		return fmt.Errorf("fetch treasury address: %w", err)
	}
	balances, err := rail.Balance(ctx, addr)
	if err != nil {
		return fmt.Errorf("fetch treasury balance: %w", err)
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("Treasury"), addr)
	fmt.Fprintf(ui.Out, "  ETH:   %s\n", balances.ETH)
	fmt.Fprintf(ui.Out, "  USDC:  %s\n", balances.USDC)
	return nil
}
