package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/punchamoorthee/tcr/internal/domain"
)

var listingStatus string

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show height, params and total issuance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		chain, err := c.Chain(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(chain)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance [account]",
	Short: "Show total, locked and spendable balance (defaults to --account)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := viper.GetString("account")
		if len(args) == 1 {
			account = args[0]
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		acct, err := c.Account(cmd.Context(), domain.AccountID(account))
		if err != nil {
			return err
		}
		return printJSON(acct)
	},
}

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "List live listings in proposal order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		listings, err := c.Listings(cmd.Context(), domain.ListingStatus(listingStatus))
		if err != nil {
			return err
		}
		return printJSON(listings)
	},
}

var listingCmd = &cobra.Command{
	Use:   "listing <hash>",
	Short: "Show one listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := domain.ParseHash(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		listing, err := c.Listing(cmd.Context(), hash)
		if err != nil {
			return err
		}
		return printJSON(listing)
	},
}

var showChallengeCmd = &cobra.Command{
	Use:   "show-challenge <id>",
	Short: "Show a challenge and its tallies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChallengeID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ch, err := c.Challenge(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(ch)
	},
}

func init() {
	listingsCmd.Flags().StringVar(&listingStatus, "status", "", "filter by status (applied, whitelisted, in_challenge)")
	rootCmd.AddCommand(chainCmd, balanceCmd, listingsCmd, listingCmd, showChallengeCmd)
}
