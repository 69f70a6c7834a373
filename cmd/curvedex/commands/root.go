package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/config"
	"github.com/shizukutanaka/curvedex/internal/logging"
)

const Version = "1.0.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "curvedex",
	Short: "Bonding-curve token market with dividends",
	Long: `curvedex runs a token market priced on a linear bonding curve. Every buy,
sell and transfer pays a fee that is shared among token holders as
dividends, with a referral bonus for staked referrers.

Run 'curvedex init' to write a configuration, then 'curvedex serve' to
start the HTTP API, or use the one-shot commands against the local ledger.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "curvedex.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`curvedex {{.Version}}
Bonding-curve token market with dividends
`)
}

// readConfig loads the config file with a bootstrap logger.
func readConfig() (*config.Manager, error) {
	bootstrap := zap.NewNop()
	if verbose {
		bootstrap, _ = zap.NewDevelopment()
	}

	manager, err := config.NewManager(bootstrap, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return manager, nil
}

// loadConfig reads the config file and builds the configured logger
// factory. One-shot commands log warnings and errors to stderr only.
func loadConfig(daemon bool) (*config.Manager, *logging.LoggerFactory, error) {
	manager, err := readConfig()
	if err != nil {
		return nil, nil, err
	}

	logCfg := manager.Get().Logging
	if !daemon {
		if logCfg.OutputPath == "" || logCfg.OutputPath == "stdout" {
			logCfg.OutputPath = "stderr"
		}
		logCfg.Format = "console"
		if !verbose {
			logCfg.Level = "warn"
			logCfg.ModuleLevels = nil
		}
	} else if verbose {
		logCfg.Level = "debug"
	}

	factory, err := logging.NewLoggerFactory(&logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return manager, factory, nil
}
