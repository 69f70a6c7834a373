package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/units"
)

// Trade commands act on the local ledger as --account. Amounts are decimals
// with up to 18 fractional digits: "1.5" is 1.5e18 base units.

var buyCmd = &cobra.Command{
	Use:   "buy <currency>",
	Short: "Buy tokens with <currency>",
	Example: `  curvedex buy 0.5 --account alice
  curvedex buy 2 --account bob --referrer alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		referrer, _ := cmd.Flags().GetString("referrer")
		value, err := parseAmount("currency", args[0])
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			tokens, err := market.Buy(ctx, caller, value, referrer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bought %s tokens\n", units.Humanize(tokens))
			return nil
		})
	},
}

var sellCmd = &cobra.Command{
	Use:   "sell <tokens>",
	Short: "Sell tokens; the proceeds become withdrawable dividends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		tokens, err := parseAmount("tokens", args[0])
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			proceeds, err := market.Sell(ctx, caller, tokens)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sold for %s, now claimable\n", units.Humanize(proceeds))
			return nil
		})
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <to> <tokens>",
	Short: "Transfer tokens; the fee is burned and paid out as dividends",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		tokens, err := parseAmount("tokens", args[1])
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			if err := market.Transfer(ctx, caller, args[0], tokens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Transferred %s tokens to %s\n", units.Humanize(tokens), args[0])
			return nil
		})
	},
}

var reinvestCmd = &cobra.Command{
	Use:   "reinvest",
	Short: "Buy tokens with all claimable dividends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			tokens, err := market.Reinvest(ctx, caller)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reinvested into %s tokens\n", units.Humanize(tokens))
			return nil
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw all claimable dividends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			amount, err := market.Withdraw(ctx, caller)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Withdrew %s\n", units.Humanize(amount))
			return nil
		})
	},
}

var exitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Sell every token and withdraw everything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			result, err := market.Exit(ctx, caller)
			if result == nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.TokensSold.Sign() > 0 {
				fmt.Fprintf(out, "Sold %s tokens for %s\n", units.Humanize(result.TokensSold), units.Humanize(result.SaleProceeds))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Withdrew %s\n", units.Humanize(result.Withdrawn))
			return nil
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account <id>",
	Short: "Show an account's balance and dividends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			acct, err := market.Account(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account       : %s\n", acct.ID)
			fmt.Fprintf(out, "Balance       : %s\n", units.Humanize(acct.Balance))
			fmt.Fprintf(out, "Dividends     : %s\n", units.Humanize(acct.Dividends))
			fmt.Fprintf(out, "Referral      : %s\n", units.Humanize(acct.Referral))
			if acct.Administrator {
				fmt.Fprintln(out, "Administrator : yes")
			}
			if acct.Ambassador {
				fmt.Fprintln(out, "Ambassador    : yes")
			}
			return nil
		})
	},
}

var holdersCmd = &cobra.Command{
	Use:   "holders",
	Short: "List every account holding tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			holdings, err := market.Holdings(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, h := range holdings {
				fmt.Fprintf(out, "%-24s %s\n", h.Account, units.Humanize(h.Balance))
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{buyCmd, sellCmd, transferCmd, reinvestCmd, withdrawCmd, exitCmd} {
		c.Flags().String("account", "", "Account acting (required)")
		rootCmd.AddCommand(c)
	}
	buyCmd.Flags().String("referrer", "", "Referring account")

	rootCmd.AddCommand(accountCmd, holdersCmd)
}

func accountFlag(cmd *cobra.Command) (string, error) {
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		return "", errors.New("--account is required")
	}
	return account, nil
}
