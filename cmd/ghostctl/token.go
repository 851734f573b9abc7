package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-im/ghost/internal/auth"
)

var (
	tokenSecret string
	tokenIssuer string
	tokenName   string
	tokenTTL    time.Duration
	tokenSave   bool
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret shared with the server (default $JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", os.Getenv("JWT_ISSUER"), "token issuer (default $JWT_ISSUER)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token and user in the config file")
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for a user",
	Long:  "Issue a signed bearer token. The server must share the same secret.\nIntended for development and testing.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return fmt.Errorf("--secret or JWT_SECRET is required")
		}
		tok, err := auth.NewVerifier(tokenSecret, tokenIssuer).Issue(args[0], tokenName, tokenTTL)
		if err != nil {
			return err
		}
		if tokenSave {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Auth.Token = tok
			cfg.Auth.UserID = args[0]
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
