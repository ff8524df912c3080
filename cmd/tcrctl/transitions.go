package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/tcr/internal/client"
	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/models"
	"github.com/punchamoorthee/tcr/internal/runtime"
)

var (
	proposeData    string
	proposeHash    string
	proposeDeposit uint64
)

var transferCmd = &cobra.Command{
	Use:   "transfer <to> <amount>",
	Short: "Transfer spendable tokens",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseBalance(args[1])
		if err != nil {
			return err
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.Transfer(cmd.Context(), idempotencyKey(), domain.AccountID(args[0]), amount)
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <spender> <amount>",
	Short: "Raise the allowance of spender",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseBalance(args[1])
		if err != nil {
			return err
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.Approve(cmd.Context(), idempotencyKey(), domain.AccountID(args[0]), amount)
		})
	},
}

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a listing by --data or --hash",
	Long: `Propose a listing and lock --deposit from the caller.

Examples:
  tcrctl propose -a alice --data "example.org" --deposit 100
  tcrctl propose -a alice --hash 0x0101...01 --deposit 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := models.ProposeRequest{Deposit: domain.Balance(proposeDeposit)}
		switch {
		case cmd.Flags().Changed("data") && cmd.Flags().Changed("hash"):
			return fmt.Errorf("set either --data or --hash")
		case cmd.Flags().Changed("data"):
			req.Data = &proposeData
		case cmd.Flags().Changed("hash"):
			hash, err := domain.ParseHash(proposeHash)
			if err != nil {
				return err
			}
			req.Hash = &hash
		default:
			return fmt.Errorf("--data or --hash is required")
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.Propose(cmd.Context(), idempotencyKey(), req)
		})
	},
}

var challengeCmd = &cobra.Command{
	Use:   "challenge <hash> <deposit>",
	Short: "Challenge a listing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := domain.ParseHash(args[0])
		if err != nil {
			return err
		}
		deposit, err := parseBalance(args[1])
		if err != nil {
			return err
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.ChallengeListing(cmd.Context(), idempotencyKey(), hash, deposit)
		})
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote <challenge-id> <for|against> <weight>",
	Short: "Lock weight behind one side of a challenge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChallengeID(args[0])
		if err != nil {
			return err
		}
		choice := domain.Choice(args[1])
		if !choice.Valid() {
			return fmt.Errorf("choice must be %q or %q", domain.ChoiceFor, domain.ChoiceAgainst)
		}
		weight, err := parseBalance(args[2])
		if err != nil {
			return err
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.Vote(cmd.Context(), idempotencyKey(), id, choice, weight)
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <challenge-id>",
	Short: "Settle a challenge after its commit stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChallengeID(args[0])
		if err != nil {
			return err
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.Resolve(cmd.Context(), idempotencyKey(), id)
		})
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <challenge-id>",
	Short: "Claim the caller's share of a resolved challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChallengeID(args[0])
		if err != nil {
			return err
		}
		return transition(func(c *client.Client) (*runtime.Receipt, error) {
			return c.Claim(cmd.Context(), idempotencyKey(), id)
		})
	},
}

func init() {
	proposeCmd.Flags().StringVar(&proposeData, "data", "", "listing data, hashed by the node")
	proposeCmd.Flags().StringVar(&proposeHash, "hash", "", "listing hash (0x-prefixed hex)")
	proposeCmd.Flags().Uint64Var(&proposeDeposit, "deposit", 0, "deposit to lock")

	rootCmd.AddCommand(transferCmd, approveCmd, proposeCmd, challengeCmd, voteCmd, resolveCmd, claimCmd)
}

// transition runs one signed call and prints its receipt.
func transition(fn func(*client.Client) (*runtime.Receipt, error)) error {
	c, err := newClient(true)
	if err != nil {
		return err
	}
	rcpt, err := fn(c)
	if err != nil {
		return err
	}
	return printJSON(rcpt)
}

func parseBalance(s string) (domain.Balance, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return domain.Balance(v), nil
}

func parseChallengeID(s string) (domain.ChallengeID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid challenge id %q", s)
	}
	return domain.ChallengeID(v), nil
}
