package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/curvedex/internal/api"
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token <account>",
	Short: "Issue an API bearer token for an account",
	Long: `Sign a JWT with the configured secret. The API treats the token's subject
as the calling account.

Example:
  curl -H "Authorization: Bearer $(curvedex token alice)" \
       -d '{"value":"1000000000000"}' localhost:8080/api/v1/buy`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default from config)")
}

func runToken(cmd *cobra.Command, args []string) error {
	manager, factory, err := loadConfig(false)
	if err != nil {
		return err
	}
	defer factory.Sync()

	cfg := manager.Get().API
	if cfg.JWTSecret == "" {
		return errors.New("api.jwt_secret is not configured, run 'curvedex init'")
	}
	ttl := cfg.TokenTTL
	if cmd.Flags().Changed("ttl") {
		ttl, _ = cmd.Flags().GetDuration("ttl")
	}

	token, err := api.NewAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer, ttl).IssueToken(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
