package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/curvedex/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Write a default configuration file with the HTTP API enabled and a freshly
generated JWT signing secret. The file is created with 0600 permissions.

Examples:
  # Single administrator, bolt ledger under ./data
  curvedex init --admin alice

  # Start in the ambassador phase
  curvedex init --admin alice --ambassador bob --ambassador carol --restricted`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "Overwrite existing configuration")
	initCmd.Flags().StringSlice("admin", nil, "Administrator account (repeatable)")
	initCmd.Flags().StringSlice("ambassador", nil, "Ambassador account (repeatable)")
	initCmd.Flags().Bool("restricted", false, "Open the market in the ambassador phase")
	initCmd.Flags().String("driver", "bolt", "Storage driver (memory, bolt, sqlite, postgres)")
	initCmd.Flags().String("data-dir", "./data", "Directory for the bolt and sqlite ledgers")
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	admins, _ := cmd.Flags().GetStringSlice("admin")
	ambassadors, _ := cmd.Flags().GetStringSlice("ambassador")
	restricted, _ := cmd.Flags().GetBool("restricted")
	driver, _ := cmd.Flags().GetString("driver")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	if !force && fileExists(cfgFile) {
		return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.Market.Administrators = admins
	cfg.Market.Ambassadors = ambassadors
	cfg.Market.RestrictedPhase = restricted
	cfg.Storage.Driver = driver
	cfg.Storage.Path = filepath.Join(dataDir, "curvedex.bolt")
	if driver == "sqlite" {
		cfg.Storage.Database.DSN = filepath.Join(dataDir, "curvedex.db")
	}
	cfg.API.Enabled = true
	cfg.API.JWTSecret = secret

	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", cfgFile, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration written to %s\n", cfgFile)
	if len(admins) == 0 {
		fmt.Fprintln(out, "Warning: no administrators configured, admin commands will be refused")
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Review the market section; its economics are fixed at first start")
	fmt.Fprintln(out, "  2. Run 'curvedex serve' to start the API")
	fmt.Fprintln(out, "  3. Run 'curvedex token <account>' to get a bearer token")
	return nil
}

// generateSecret returns 32 random bytes, hex encoded.
func generateSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
