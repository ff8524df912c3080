package registry_test

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/ledger"
	"github.com/punchamoorthee/tcr/internal/registry"
	"github.com/punchamoorthee/tcr/internal/state"
)

// TestRandomTransitionsKeepInvariants drives the registry with random calls
// and checks the ledger after every step: locked never exceeds total, tokens
// are conserved, and no challenge pays out more than its pool.
func TestRandomTransitionsKeepInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := domain.Params{
			MinDeposit:        domain.Balance(rapid.Uint64Range(1, 50).Draw(t, "min_deposit")),
			ApplyStageLength:  domain.Height(rapid.Uint64Range(0, 5).Draw(t, "apply")),
			CommitStageLength: domain.Height(rapid.Uint64Range(1, 5).Draw(t, "commit")),
		}
		store := state.NewMemoryStore()
		accounts := []domain.AccountID{accountA, accountB, accountC, accountD}
		hashes := []domain.Hash{{0x01}, {0x02}, {0x03}}

		ctx := context.Background()
		err := store.Update(ctx, func(kv state.ReadWriter) error {
			tok := ledger.New(kv, domain.Env{}, nil)
			for _, id := range accounts {
				if err := tok.Mint(id, 500); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("genesis: %v", err)
		}

		var height domain.Height
		var challenges domain.ChallengeID
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			caller := rapid.SampledFrom(accounts).Draw(t, "caller")
			hash := rapid.SampledFrom(hashes).Draw(t, "hash")
			amount := domain.Balance(rapid.Uint64Range(0, 200).Draw(t, "amount"))
			var id domain.ChallengeID
			if challenges > 0 {
				id = domain.ChallengeID(rapid.Uint64Range(1, uint64(challenges)).Draw(t, "challenge"))
			}
			op := rapid.IntRange(0, 8).Draw(t, "op")

			env := domain.Env{Height: height}
			err := store.Update(ctx, func(kv state.ReadWriter) error {
				tok := ledger.New(kv, env, nil)
				reg := registry.New(&params, kv, tok, env, nil)
				switch op {
				case 0:
					return reg.Propose(caller, hash, amount)
				case 1:
					cid, err := reg.Challenge(caller, hash, amount)
					if err == nil {
						challenges = cid
					}
					return err
				case 2:
					choice := rapid.SampledFrom([]domain.Choice{domain.ChoiceFor, domain.ChoiceAgainst}).Draw(t, "choice")
					return reg.Vote(caller, id, choice, amount)
				case 3:
					_, err := reg.Resolve(caller, id)
					return err
				case 4:
					_, err := reg.ClaimReward(caller, id)
					return err
				case 5:
					return reg.UpdateStatus(caller, hash)
				case 6:
					return reg.Exit(caller, hash)
				case 7:
					to := rapid.SampledFrom(accounts).Draw(t, "to")
					return tok.Transfer(caller, to, amount)
				default:
					height += domain.Height(rapid.Uint64Range(1, 4).Draw(t, "blocks"))
					return nil
				}
			})
			if err != nil && !domain.IsPrecondition(err) {
				t.Fatalf("step %d op %d: unexpected error: %v", i, op, err)
			}

			checkInvariants(t, store, challenges)
		}
	})
}

func checkInvariants(t *rapid.T, store state.Store, challenges domain.ChallengeID) {
	err := store.View(context.Background(), func(r state.Reader) error {
		issuance, err := ledger.TotalIssuance(r)
		if err != nil {
			return err
		}
		var sum domain.Balance
		err = ledger.Accounts(r, func(id domain.AccountID, b domain.AccountBalance) error {
			if b.Locked > b.Total {
				t.Fatalf("%s: locked %d exceeds total %d", id, b.Locked, b.Total)
			}
			sum += b.Total
			return nil
		})
		if err != nil {
			return err
		}
		if sum != issuance {
			t.Fatalf("balances sum to %d, issuance is %d", sum, issuance)
		}

		for id := domain.ChallengeID(1); id <= challenges; id++ {
			c, found, err := registry.GetChallenge(r, id)
			if err != nil {
				return err
			}
			if found && c.Claimed > c.RewardPool {
				t.Fatalf("challenge %d paid %d from a pool of %d", id, c.Claimed, c.RewardPool)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
