package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/punchamoorthee/tcr/internal/auth"
	"github.com/punchamoorthee/tcr/internal/domain"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for --account",
	Long: `Mint a bearer token for --account signed with --secret.

Examples:
  # Export a token for later calls
  export TCRCTL_TOKEN=$(tcrctl token -a alice --secret dev-secret-change-me)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, secret := viper.GetString("account"), viper.GetString("secret")
		if account == "" || secret == "" {
			return fmt.Errorf("--account and --secret are required")
		}
		token, err := auth.NewTokenService(secret).Issue(domain.AccountID(account), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
