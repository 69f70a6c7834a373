package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/units"
)

// adminCmd groups the administrator operations. Each runs as --account,
// which must be an administrator.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrator operations",
}

var openMarketCmd = &cobra.Command{
	Use:   "open",
	Short: "End the ambassador phase for good",
	Args:  cobra.NoArgs,
	RunE: adminRun(func(ctx context.Context, m *dex.Market, caller string, args []string) (string, error) {
		return "Ambassador phase ended", m.DisableInitialStage(ctx, caller)
	}),
}

var setAdministratorCmd = &cobra.Command{
	Use:   "set-admin <account> <true|false>",
	Short: "Grant or revoke administrator status",
	Args:  cobra.ExactArgs(2),
	RunE: adminRun(func(ctx context.Context, m *dex.Market, caller string, args []string) (string, error) {
		status, err := strconv.ParseBool(args[1])
		if err != nil {
			return "", fmt.Errorf("invalid status %q", args[1])
		}
		return fmt.Sprintf("Administrator %s set to %t", args[0], status),
			m.SetAdministrator(ctx, caller, args[0], status)
	}),
}

var setStakingCmd = &cobra.Command{
	Use:   "set-staking <tokens>",
	Short: "Set the balance a referrer needs to earn referral bonuses",
	Args:  cobra.ExactArgs(1),
	RunE: adminRun(func(ctx context.Context, m *dex.Market, caller string, args []string) (string, error) {
		amount, err := parseAmount("tokens", args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Staking requirement set to %s", units.Humanize(amount)),
			m.SetStakingRequirement(ctx, caller, amount)
	}),
}

var setNameCmd = &cobra.Command{
	Use:   "set-name <name>",
	Short: "Rename the token",
	Args:  cobra.ExactArgs(1),
	RunE: adminRun(func(ctx context.Context, m *dex.Market, caller string, args []string) (string, error) {
		return fmt.Sprintf("Name set to %q", args[0]), m.SetName(ctx, caller, args[0])
	}),
}

var setSymbolCmd = &cobra.Command{
	Use:   "set-symbol <symbol>",
	Short: "Change the token symbol",
	Args:  cobra.ExactArgs(1),
	RunE: adminRun(func(ctx context.Context, m *dex.Market, caller string, args []string) (string, error) {
		return fmt.Sprintf("Symbol set to %q", args[0]), m.SetSymbol(ctx, caller, args[0])
	}),
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.PersistentFlags().String("account", "", "Administrator account (required)")
	adminCmd.AddCommand(openMarketCmd, setAdministratorCmd, setStakingCmd, setNameCmd, setSymbolCmd)
}

// adminRun adapts an admin operation to a cobra RunE. The message is
// printed only when the operation succeeds.
func adminRun(op func(ctx context.Context, m *dex.Market, caller string, args []string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			msg, err := op(ctx, market, caller, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		})
	}
}
