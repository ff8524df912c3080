package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/punchamoorthee/tcr/internal/auth"
	"github.com/punchamoorthee/tcr/internal/client"
	"github.com/punchamoorthee/tcr/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "tcrctl",
	Short: "Command line client for a tcr node",
	Long: `Command line client for a tcr node.

Queries are unauthenticated. Transitions are signed for --account, either
with a token passed via --token or one minted locally from --secret.

Every flag can also be set through the environment, e.g. TCRCTL_URL,
TCRCTL_ACCOUNT or TCRCTL_SECRET.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("url", "http://localhost:8080", "node base URL")
	flags.StringP("account", "a", "", "account the transition is applied for")
	flags.String("secret", "", "JWT signing secret of the node")
	flags.String("token", "", "bearer token (overrides --secret)")
	flags.StringP("idempotency-key", "k", "", "idempotency key for transitions")

	for _, name := range []string{"url", "account", "secret", "token", "idempotency-key"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("tcrctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// newClient builds a client for the configured node. Signing is only
// required for transitions.
func newClient(signed bool) (*client.Client, error) {
	var opts []client.Option
	token := viper.GetString("token")
	if token == "" && signed {
		account := viper.GetString("account")
		secret := viper.GetString("secret")
		if account == "" || secret == "" {
			return nil, fmt.Errorf("--account and --secret (or --token) are required")
		}
		var err error
		if token, err = auth.NewTokenService(secret).Issue(domain.AccountID(account), 5*time.Minute); err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
	}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(viper.GetString("url"), opts...), nil
}

func idempotencyKey() string {
	return viper.GetString("idempotency-key")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
