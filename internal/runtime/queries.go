package runtime

import (
	"context"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/ledger"
	"github.com/punchamoorthee/tcr/internal/registry"
	"github.com/punchamoorthee/tcr/internal/state"
)

// Reads go straight to committed state and never block behind Apply.

func (rt *Runtime) Account(ctx context.Context, id domain.AccountID) (domain.AccountBalance, error) {
	var b domain.AccountBalance
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		b, err = ledger.Balance(r, id)
		return err
	})
	return b, err
}

func (rt *Runtime) Allowance(ctx context.Context, owner, spender domain.AccountID) (domain.Balance, error) {
	var a domain.Balance
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		a, err = ledger.Allowance(r, owner, spender)
		return err
	})
	return a, err
}

// AccountBalances returns every account that has ever held a balance.
func (rt *Runtime) AccountBalances(ctx context.Context) (map[domain.AccountID]domain.AccountBalance, error) {
	out := make(map[domain.AccountID]domain.AccountBalance)
	err := rt.store.View(ctx, func(r state.Reader) error {
		return ledger.Accounts(r, func(id domain.AccountID, b domain.AccountBalance) error {
			out[id] = b
			return nil
		})
	})
	return out, err
}

func (rt *Runtime) TotalIssuance(ctx context.Context) (domain.Balance, error) {
	var total domain.Balance
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		total, err = ledger.TotalIssuance(r)
		return err
	})
	return total, err
}

// Listing returns ErrNotFound for a hash that is not live.
func (rt *Runtime) Listing(ctx context.Context, hash domain.Hash) (domain.Listing, error) {
	var (
		l     domain.Listing
		found bool
	)
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		l, found, err = registry.GetListing(r, hash)
		return err
	})
	if err != nil {
		return l, err
	}
	if !found {
		return l, domain.ErrNotFound
	}
	return l, nil
}

func (rt *Runtime) Listings(ctx context.Context) ([]domain.Listing, error) {
	var out []domain.Listing
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		out, err = registry.Listings(r)
		return err
	})
	return out, err
}

func (rt *Runtime) Challenge(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	var (
		c     domain.Challenge
		found bool
	)
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		c, found, err = registry.GetChallenge(r, id)
		return err
	})
	if err != nil {
		return c, err
	}
	if !found {
		return c, domain.ErrChallengeNotFound
	}
	return c, nil
}

// Vote reports false when voter has not voted on challenge id.
func (rt *Runtime) Vote(ctx context.Context, id domain.ChallengeID, voter domain.AccountID) (domain.Vote, bool, error) {
	var (
		v     domain.Vote
		found bool
	)
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		v, found, err = registry.GetVote(r, id, voter)
		return err
	})
	return v, found, err
}

func (rt *Runtime) Votes(ctx context.Context, id domain.ChallengeID) ([]domain.Vote, error) {
	var out []domain.Vote
	err := rt.store.View(ctx, func(r state.Reader) error {
		var err error
		out, err = registry.Votes(r, id)
		return err
	})
	return out, err
}
