package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/curvedex/internal/app"
	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/units"
)

// marketStatus mirrors the API's market view: amounts are base units.
type marketStatus struct {
	Name                  string `json:"name" yaml:"name"`
	Symbol                string `json:"symbol" yaml:"symbol"`
	DividendFee           string `json:"dividend_fee" yaml:"dividend_fee"`
	TokenPriceInitial     string `json:"token_price_initial" yaml:"token_price_initial"`
	TokenPriceIncremental string `json:"token_price_incremental" yaml:"token_price_incremental"`
	StakingRequirement    string `json:"staking_requirement" yaml:"staking_requirement"`
	RestrictedPhase       bool   `json:"restricted_phase" yaml:"restricted_phase"`
	TotalSupply           string `json:"total_supply" yaml:"total_supply"`
	ProfitPerShare        string `json:"profit_per_share" yaml:"profit_per_share"`
	TotalTaxed            string `json:"total_taxed" yaml:"total_taxed"`
	Unallocated           string `json:"unallocated" yaml:"unallocated"`
	BuyPrice              string `json:"buy_price" yaml:"buy_price"`
	SellPrice             string `json:"sell_price" yaml:"sell_price"`
}

func newMarketStatus(info *dex.Info) *marketStatus {
	return &marketStatus{
		Name:                  info.Name,
		Symbol:                info.Symbol,
		DividendFee:           info.DividendFee.String(),
		TokenPriceInitial:     info.TokenPriceInitial.String(),
		TokenPriceIncremental: info.TokenPriceIncremental.String(),
		StakingRequirement:    info.StakingRequirement.String(),
		RestrictedPhase:       info.RestrictedPhase,
		TotalSupply:           info.TotalSupply.String(),
		ProfitPerShare:        info.ProfitPerShare.String(),
		TotalTaxed:            info.TotalTaxed.String(),
		Unallocated:           info.Unallocated.String(),
		BuyPrice:              info.BuyPrice.String(),
		SellPrice:             info.SellPrice.String(),
	}
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show market status",
	Long: `Display the market's supply, prices and fee totals.

The local ledger is read unless --api-url points at a running server. The
bolt backend is locked while 'curvedex serve' runs, so use --api-url then.`,
	RunE: runStatus,
}

// quoteCmd represents the quote command
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote a buy or a sell without executing it",
}

var quoteBuyCmd = &cobra.Command{
	Use:   "buy <currency>",
	Short: "Tokens a purchase of <currency> would mint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseAmount("currency", args[0])
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			tokens, err := market.CalculateTokensFor(ctx, value)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s tokens\n", units.Humanize(tokens))
			return nil
		})
	},
}

var quoteSellCmd = &cobra.Command{
	Use:   "sell <tokens>",
	Short: "Currency a sale of <tokens> would pay after the fee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := parseAmount("tokens", args[0])
		if err != nil {
			return err
		}
		return withMarket(func(ctx context.Context, market *dex.Market) error {
			value, err := market.CalculateCurrencyFor(ctx, tokens)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", units.Humanize(value))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.AddCommand(quoteBuyCmd, quoteSellCmd)

	statusCmd.Flags().String("api-url", "", "API server URL, e.g. http://localhost:8080")
	statusCmd.Flags().String("format", "table", "Output format (table, json, yaml)")
	statusCmd.Flags().Duration("timeout", 10*time.Second, "API request timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api-url")
	format, _ := cmd.Flags().GetString("format")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var status *marketStatus
	if apiURL != "" {
		var err error
		if status, err = fetchStatus(apiURL, timeout); err != nil {
			return fmt.Errorf("failed to fetch status: %w", err)
		}
	} else {
		err := withMarket(func(ctx context.Context, market *dex.Market) error {
			info, err := market.Info(ctx)
			if err != nil {
				return err
			}
			status = newMarketStatus(info)
			return nil
		})
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	case "yaml":
		return yaml.NewEncoder(out).Encode(status)
	case "table":
		return displayTable(out, status)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func fetchStatus(apiURL string, timeout time.Duration) (*marketStatus, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(strings.TrimRight(apiURL, "/") + "/api/v1/market")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Success bool          `json:"success"`
		Data    *marketStatus `json:"data"`
		Error   string        `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || !body.Success || body.Data == nil {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, body.Error)
	}
	return body.Data, nil
}

func displayTable(out io.Writer, s *marketStatus) error {
	amount := func(v string) string {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return v
		}
		return units.Humanize(n)
	}
	baseUnits := func(v string) string {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return v
		}
		return humanize.BigComma(n)
	}

	phase := "open"
	if s.RestrictedPhase {
		phase = "ambassadors only"
	}

	fmt.Fprintf(out, "%s (%s) - %s\n\n", s.Name, s.Symbol, time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, "Market:")
	fmt.Fprintf(out, "  Phase               : %s\n", phase)
	fmt.Fprintf(out, "  Total Supply        : %s %s\n", amount(s.TotalSupply), s.Symbol)
	fmt.Fprintf(out, "  Buy Price           : %s\n", amount(s.BuyPrice))
	fmt.Fprintf(out, "  Sell Price          : %s\n", amount(s.SellPrice))
	fmt.Fprintf(out, "  Fees Collected      : %s\n", amount(s.TotalTaxed))
	fmt.Fprintf(out, "  Unallocated         : %s\n", amount(s.Unallocated))
	fmt.Fprintf(out, "  Profit Per Share    : %s\n", baseUnits(s.ProfitPerShare))

	fmt.Fprintln(out, "\nParameters:")
	fmt.Fprintf(out, "  Fee Divisor         : %s\n", s.DividendFee)
	fmt.Fprintf(out, "  Initial Price       : %s\n", baseUnits(s.TokenPriceInitial))
	fmt.Fprintf(out, "  Price Increment     : %s\n", baseUnits(s.TokenPriceIncremental))
	fmt.Fprintf(out, "  Staking Requirement : %s %s\n", amount(s.StakingRequirement), s.Symbol)
	return nil
}

// withMarket opens the local ledger for a one-shot command. The API and the
// metrics exporter stay off.
func withMarket(fn func(ctx context.Context, market *dex.Market) error) error {
	manager, factory, err := loadConfig(false)
	if err != nil {
		return err
	}
	defer factory.Sync()

	cfg := manager.Get()
	cfg.API.Enabled = false
	cfg.Monitoring.Enabled = false

	ctx := context.Background()
	application, err := app.New(ctx, factory.Logger(), cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	return fn(ctx, application.Market())
}

// parseAmount reads a decimal amount with up to 18 fractional digits.
func parseAmount(name, s string) (*big.Int, error) {
	n, err := units.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}
