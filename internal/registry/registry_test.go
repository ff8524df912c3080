package registry_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/ledger"
	"github.com/punchamoorthee/tcr/internal/registry"
	"github.com/punchamoorthee/tcr/internal/state"
)

const (
	accountA domain.AccountID = "A"
	accountB domain.AccountID = "B"
	accountC domain.AccountID = "C"
	accountD domain.AccountID = "D"
)

var listingL = domain.Hash{0x01, 0x02, 0x03}

type RegistrySuite struct {
	suite.Suite
	params domain.Params
	store  *state.MemoryStore
	height domain.Height
	events domain.EventBuffer
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.params = domain.Params{MinDeposit: 50, ApplyStageLength: 10, CommitStageLength: 10}
	s.store = state.NewMemoryStore()
	s.height = 0
	s.Require().NoError(s.store.Update(context.Background(), func(kv state.ReadWriter) error {
		tok := ledger.New(kv, domain.Env{}, nil)
		for _, id := range []domain.AccountID{accountA, accountB, accountC, accountD} {
			if err := tok.Mint(id, 1000); err != nil {
				return err
			}
		}
		return nil
	}))
}

// do runs fn as one transition at the current height. Events of earlier
// transitions are cleared first.
func (s *RegistrySuite) do(fn func(r *registry.Registry) error) error {
	s.events.Reset()
	env := domain.Env{Height: s.height}
	return s.store.Update(context.Background(), func(kv state.ReadWriter) error {
		tok := ledger.New(kv, env, &s.events)
		return fn(registry.New(&s.params, kv, tok, env, &s.events))
	})
}

func (s *RegistrySuite) propose(caller domain.AccountID, hash domain.Hash, deposit domain.Balance) {
	s.Require().NoError(s.do(func(r *registry.Registry) error {
		return r.Propose(caller, hash, deposit)
	}))
}

func (s *RegistrySuite) challenge(caller domain.AccountID, hash domain.Hash, deposit domain.Balance) domain.ChallengeID {
	var id domain.ChallengeID
	s.Require().NoError(s.do(func(r *registry.Registry) error {
		var err error
		id, err = r.Challenge(caller, hash, deposit)
		return err
	}))
	return id
}

func (s *RegistrySuite) vote(caller domain.AccountID, id domain.ChallengeID, choice domain.Choice, weight domain.Balance) {
	s.Require().NoError(s.do(func(r *registry.Registry) error {
		return r.Vote(caller, id, choice, weight)
	}))
}

func (s *RegistrySuite) resolve(id domain.ChallengeID) domain.Outcome {
	var outcome domain.Outcome
	s.Require().NoError(s.do(func(r *registry.Registry) error {
		var err error
		outcome, err = r.Resolve(accountA, id)
		return err
	}))
	return outcome
}

func (s *RegistrySuite) claim(caller domain.AccountID, id domain.ChallengeID) (domain.Balance, error) {
	var share domain.Balance
	err := s.do(func(r *registry.Registry) error {
		var err error
		share, err = r.ClaimReward(caller, id)
		return err
	})
	return share, err
}

func (s *RegistrySuite) balance(id domain.AccountID) domain.AccountBalance {
	var b domain.AccountBalance
	s.Require().NoError(s.store.View(context.Background(), func(r state.Reader) error {
		var err error
		b, err = ledger.Balance(r, id)
		return err
	}))
	return b
}

func (s *RegistrySuite) listing(hash domain.Hash) (domain.Listing, bool) {
	var (
		l     domain.Listing
		found bool
	)
	s.Require().NoError(s.store.View(context.Background(), func(r state.Reader) error {
		var err error
		l, found, err = registry.GetListing(r, hash)
		return err
	}))
	return l, found
}

func (s *RegistrySuite) getChallenge(id domain.ChallengeID) domain.Challenge {
	var c domain.Challenge
	s.Require().NoError(s.store.View(context.Background(), func(r state.Reader) error {
		var (
			found bool
			err   error
		)
		c, found, err = registry.GetChallenge(r, id)
		s.Require().True(found)
		return err
	}))
	return c
}

func (s *RegistrySuite) kinds() []domain.EventKind {
	var out []domain.EventKind
	for _, e := range s.events.Events() {
		out = append(out, e.Kind)
	}
	return out
}

func (s *RegistrySuite) TestRejectedListingPaysTheWinningVoter() {
	s.propose(accountA, listingL, 100)
	s.Equal(domain.AccountBalance{Total: 1000, Locked: 100}, s.balance(accountA))

	s.height = 5
	id := s.challenge(accountB, listingL, 100)
	s.Equal(domain.ChallengeID(1), id)
	s.Equal(domain.Height(15), s.getChallenge(id).CommitBy)

	s.vote(accountC, id, domain.ChoiceFor, 30)
	s.height = 14
	s.vote(accountD, id, domain.ChoiceAgainst, 60)

	s.height = 15
	s.Equal(domain.OutcomeListingRejected, s.resolve(id))
	s.Equal([]domain.EventKind{
		domain.EventTransfer, // owner deposit slashed
		domain.EventTransfer, // C's vote slashed
		domain.EventResolved,
		domain.EventRejected,
	}, s.kinds())

	_, found := s.listing(listingL)
	s.False(found)

	s.Equal(domain.AccountBalance{Total: 900}, s.balance(accountA))
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountB))
	s.Equal(domain.AccountBalance{Total: 970}, s.balance(accountC))
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountD))
	s.Equal(domain.AccountBalance{Total: 130}, s.balance(domain.RewardPot))

	c := s.getChallenge(id)
	s.True(c.Resolved)
	s.Equal(domain.Balance(130), c.RewardPool)
	s.Equal(domain.Balance(60), c.WinningWeight)

	share, err := s.claim(accountD, id)
	s.Require().NoError(err)
	s.Equal(domain.Balance(130), share)
	s.Equal(domain.Balance(1130), s.balance(accountD).Total)
	s.Equal(domain.Balance(0), s.balance(domain.RewardPot).Total)

	_, err = s.claim(accountC, id)
	s.ErrorIs(err, domain.ErrDidNotVoteWinningSide)
	_, err = s.claim(accountB, id)
	s.ErrorIs(err, domain.ErrDidNotVoteWinningSide)
}

func (s *RegistrySuite) TestTieGoesToTheChallenger() {
	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 100)
	s.vote(accountC, id, domain.ChoiceFor, 50)
	s.vote(accountD, id, domain.ChoiceAgainst, 50)

	s.height = 10
	s.Equal(domain.OutcomeListingRejected, s.resolve(id))

	_, found := s.listing(listingL)
	s.False(found)
	s.Equal(domain.Balance(150), s.getChallenge(id).RewardPool)
}

func (s *RegistrySuite) TestKeptListingIsWhitelisted() {
	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 80)
	s.vote(accountC, id, domain.ChoiceFor, 40)
	s.vote(accountD, id, domain.ChoiceAgainst, 20)

	s.height = 10
	s.Equal(domain.OutcomeListingKept, s.resolve(id))
	s.Contains(s.kinds(), domain.EventAccepted)

	l, found := s.listing(listingL)
	s.Require().True(found)
	s.True(l.Whitelisted)
	s.Zero(l.ChallengeID)
	s.Equal(domain.StatusWhitelisted, l.Status(s.height))

	// The owner's deposit stays at stake while the listing is live.
	s.Equal(domain.AccountBalance{Total: 1000, Locked: 100}, s.balance(accountA))
	s.Equal(domain.AccountBalance{Total: 920}, s.balance(accountB))
	s.Equal(domain.AccountBalance{Total: 980}, s.balance(accountD))
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountC))

	c := s.getChallenge(id)
	s.Equal(domain.Balance(100), c.RewardPool)

	share, err := s.claim(accountC, id)
	s.Require().NoError(err)
	s.Equal(domain.Balance(100), share)

	// A kept listing can be challenged again.
	s.height = 11
	next := s.challenge(accountD, listingL, 50)
	s.Equal(domain.ChallengeID(2), next)
}

func (s *RegistrySuite) TestDoubleClaimFails() {
	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 100)
	s.vote(accountD, id, domain.ChoiceAgainst, 10)
	s.height = 10
	s.resolve(id)

	_, err := s.claim(accountD, id)
	s.Require().NoError(err)
	after := s.balance(accountD)

	_, err = s.claim(accountD, id)
	s.ErrorIs(err, domain.ErrAlreadyClaimed)
	s.Equal(after, s.balance(accountD))
}

func (s *RegistrySuite) TestClaimsNeverExceedThePool() {
	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 100)
	for _, voter := range []domain.AccountID{accountB, accountC, accountD} {
		s.vote(voter, id, domain.ChoiceAgainst, 1)
	}
	s.height = 10
	s.resolve(id)

	var paid domain.Balance
	for _, voter := range []domain.AccountID{accountB, accountC, accountD} {
		share, err := s.claim(voter, id)
		s.Require().NoError(err)
		s.Equal(domain.Balance(33), share)
		paid += share
	}

	c := s.getChallenge(id)
	s.Equal(domain.Balance(100), c.RewardPool)
	s.Equal(paid, c.Claimed)
	s.Equal(domain.Balance(1), c.Unclaimed())
	s.Equal(domain.Balance(1), s.balance(domain.RewardPot).Total)
}

func (s *RegistrySuite) TestUnbackedWinnerTakesThePool() {
	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 100)
	s.vote(accountC, id, domain.ChoiceFor, 25)

	s.height = 10
	s.Equal(domain.OutcomeListingKept, s.resolve(id))
	share, err := s.claim(accountC, id)
	s.Require().NoError(err)
	s.Equal(domain.Balance(100), share)

	// No votes at all: the tie rejects the listing and the challenger is paid at once.
	other := domain.Hash{0x09}
	s.propose(accountA, other, 70)
	id = s.challenge(accountB, other, 50)
	s.height = 20
	s.Equal(domain.OutcomeListingRejected, s.resolve(id))
	s.Contains(s.kinds(), domain.EventClaimed)

	c := s.getChallenge(id)
	s.Equal(domain.Balance(70), c.RewardPool)
	s.Equal(domain.Balance(70), c.Claimed)
	// B lost 100 on the first challenge.
	s.Equal(domain.AccountBalance{Total: 970}, s.balance(accountB))
	s.Zero(s.balance(domain.RewardPot).Total)
}

func (s *RegistrySuite) TestProposePreconditions() {
	s.propose(accountA, listingL, 100)

	err := s.do(func(r *registry.Registry) error { return r.Propose(accountB, listingL, 100) })
	s.ErrorIs(err, domain.ErrAlreadyExists)

	other := domain.Hash{0xff}
	err = s.do(func(r *registry.Registry) error { return r.Propose(accountB, other, 49) })
	s.ErrorIs(err, domain.ErrDepositTooLow)

	err = s.do(func(r *registry.Registry) error { return r.Propose(accountB, other, 1001) })
	s.ErrorIs(err, domain.ErrInsufficientSpendable)

	_, found := s.listing(other)
	s.False(found)
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountB))
}

func (s *RegistrySuite) TestProposeData() {
	data := []byte("https://example.org")
	var hash domain.Hash
	s.Require().NoError(s.do(func(r *registry.Registry) error {
		var err error
		hash, err = r.ProposeData(accountA, data, 50)
		return err
	}))
	s.Equal(registry.HashData(data), hash)

	l, found := s.listing(hash)
	s.Require().True(found)
	s.Equal(data, l.Data)
	s.Equal(domain.Height(10), l.ApplicationExpiry)

	err := s.do(func(r *registry.Registry) error {
		_, err := r.ProposeData(accountA, []byte(strings.Repeat("x", registry.MaxDataLength+1)), 50)
		return err
	})
	s.ErrorIs(err, domain.ErrDataTooLong)
}

func (s *RegistrySuite) TestChallengePreconditions() {
	err := s.do(func(r *registry.Registry) error {
		_, err := r.Challenge(accountB, listingL, 100)
		return err
	})
	s.ErrorIs(err, domain.ErrNotFound)

	s.propose(accountA, listingL, 100)

	err = s.do(func(r *registry.Registry) error {
		_, err := r.Challenge(accountA, listingL, 100)
		return err
	})
	s.ErrorIs(err, domain.ErrSelfChallenge)

	err = s.do(func(r *registry.Registry) error {
		_, err := r.Challenge(accountB, listingL, 10)
		return err
	})
	s.ErrorIs(err, domain.ErrDepositTooLow)

	s.challenge(accountB, listingL, 100)
	err = s.do(func(r *registry.Registry) error {
		_, err := r.Challenge(accountC, listingL, 100)
		return err
	})
	s.ErrorIs(err, domain.ErrAlreadyChallenged)
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountC))
}

func (s *RegistrySuite) TestVotePreconditions() {
	voteErr := func(caller domain.AccountID, id domain.ChallengeID, choice domain.Choice, weight domain.Balance) error {
		return s.do(func(r *registry.Registry) error { return r.Vote(caller, id, choice, weight) })
	}

	s.ErrorIs(voteErr(accountC, 1, domain.ChoiceFor, 10), domain.ErrChallengeNotFound)
	s.ErrorIs(voteErr(accountC, 1, "maybe", 10), domain.ErrChallengeNotFound)

	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 100)

	s.ErrorIs(voteErr(accountC, id, "maybe", 10), domain.ErrInvalidChoice)
	s.ErrorIs(voteErr(accountC, id, domain.ChoiceFor, 0), domain.ErrZeroWeight)
	s.ErrorIs(voteErr(accountC, id, domain.ChoiceFor, 5000), domain.ErrInsufficientSpendable)

	s.vote(accountC, id, domain.ChoiceFor, 10)
	s.ErrorIs(voteErr(accountC, id, domain.ChoiceAgainst, 10), domain.ErrAlreadyVoted)

	// A weight that would overflow the tally is still just unaffordable.
	err := voteErr(accountD, id, domain.ChoiceFor, math.MaxUint64)
	s.ErrorIs(err, domain.ErrInsufficientSpendable)
	s.False(domain.IsInvariant(err))
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountD))

	s.height = 10
	s.ErrorIs(voteErr(accountD, id, domain.ChoiceFor, 10), domain.ErrChallengeClosed)

	c := s.getChallenge(id)
	s.Equal(domain.Balance(10), c.VotesFor)
	s.Zero(c.VotesAgainst)
}

func (s *RegistrySuite) TestResolvePreconditions() {
	resolveErr := func(id domain.ChallengeID) error {
		return s.do(func(r *registry.Registry) error {
			_, err := r.Resolve(accountC, id)
			return err
		})
	}

	s.ErrorIs(resolveErr(7), domain.ErrChallengeNotFound)

	s.propose(accountA, listingL, 100)
	id := s.challenge(accountB, listingL, 100)

	s.height = 9
	s.ErrorIs(resolveErr(id), domain.ErrTooEarly)
	_, err := s.claim(accountC, id)
	s.ErrorIs(err, domain.ErrChallengeNotResolved)

	s.height = 10
	s.Require().NoError(resolveErr(id))
	s.ErrorIs(resolveErr(id), domain.ErrAlreadyResolved)
}

func (s *RegistrySuite) TestWhitelistingAfterExpiryMovesNoTokens() {
	s.propose(accountA, listingL, 100)

	s.height = 9
	l, _ := s.listing(listingL)
	s.Equal(domain.StatusApplied, l.Status(s.height))
	err := s.do(func(r *registry.Registry) error { return r.UpdateStatus(accountC, listingL) })
	s.ErrorIs(err, domain.ErrTooEarly)

	s.height = 10
	s.Equal(domain.StatusWhitelisted, l.Status(s.height))
	s.Require().NoError(s.do(func(r *registry.Registry) error { return r.UpdateStatus(accountC, listingL) }))
	s.Equal([]domain.EventKind{domain.EventAccepted}, s.kinds())

	l, _ = s.listing(listingL)
	s.True(l.Whitelisted)
	s.Equal(domain.AccountBalance{Total: 1000, Locked: 100}, s.balance(accountA))
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountC))

	// Repeating it changes nothing.
	s.Require().NoError(s.do(func(r *registry.Registry) error { return r.UpdateStatus(accountC, listingL) }))
	s.Empty(s.events.Events())
}

func (s *RegistrySuite) TestExit() {
	s.propose(accountA, listingL, 100)

	exitErr := func(caller domain.AccountID) error {
		return s.do(func(r *registry.Registry) error { return r.Exit(caller, listingL) })
	}
	s.ErrorIs(exitErr(accountA), domain.ErrNotWhitelisted)
	s.ErrorIs(exitErr(accountB), domain.ErrNotOwner)

	s.height = 10
	s.Require().NoError(exitErr(accountA))
	s.Equal(domain.AccountBalance{Total: 1000}, s.balance(accountA))
	_, found := s.listing(listingL)
	s.False(found)

	// The hash is free again.
	s.propose(accountB, listingL, 60)
	l, _ := s.listing(listingL)
	s.Equal(accountB, l.Owner)
	s.Equal(uint64(2), l.Index)
}

func (s *RegistrySuite) TestListingsInProposalOrder() {
	for i, h := range []domain.Hash{{0x09}, {0x01}, {0x05}} {
		s.height = domain.Height(i)
		s.propose(accountA, h, 50)
	}
	var got []domain.Listing
	s.Require().NoError(s.store.View(context.Background(), func(r state.Reader) error {
		var err error
		got, err = registry.Listings(r)
		return err
	}))
	s.Require().Len(got, 3)
	s.Equal(domain.Hash{0x09}, got[0].Hash)
	s.Equal(domain.Hash{0x05}, got[2].Hash)
}

func TestShare(t *testing.T) {
	tests := []struct {
		pool, weight, total domain.Balance
		want                domain.Balance
	}{
		{130, 60, 60, 130},
		{100, 1, 3, 33},
		{100, 2, 3, 66},
		{10, 0, 5, 0},
		{10, 5, 0, 0},
		{math.MaxUint64, math.MaxUint64 - 1, math.MaxUint64, math.MaxUint64 - 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, registry.Share(tt.pool, tt.weight, tt.total),
			"Share(%d, %d, %d)", tt.pool, tt.weight, tt.total)
	}
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Transfer(from, to domain.AccountID, amount domain.Balance) error {
	return m.Called(from, to, amount).Error(0)
}

func (m *mockLedger) Lock(holder domain.AccountID, amount domain.Balance) error {
	return m.Called(holder, amount).Error(0)
}

func (m *mockLedger) Unlock(holder domain.AccountID, amount domain.Balance) error {
	return m.Called(holder, amount).Error(0)
}

func (m *mockLedger) SlashLocked(holder domain.AccountID, amount domain.Balance, beneficiary domain.AccountID) error {
	return m.Called(holder, amount, beneficiary).Error(0)
}

func TestLedgerFailureAbortsTheTransition(t *testing.T) {
	params := domain.Params{MinDeposit: 50, ApplyStageLength: 10, CommitStageLength: 10}
	store := state.NewMemoryStore()
	boom := errors.New("ledger unavailable")

	tok := new(mockLedger)
	tok.On("Lock", accountA, domain.Balance(100)).Return(nil).Once()
	tok.On("Lock", accountB, domain.Balance(100)).Return(boom).Once()

	var events domain.EventBuffer
	run := func(fn func(r *registry.Registry) error) error {
		return store.Update(context.Background(), func(kv state.ReadWriter) error {
			return fn(registry.New(&params, kv, tok, domain.Env{}, &events))
		})
	}

	require.NoError(t, run(func(r *registry.Registry) error { return r.Propose(accountA, listingL, 100) }))

	err := run(func(r *registry.Registry) error {
		_, err := r.Challenge(accountB, listingL, 100)
		return err
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.View(context.Background(), func(r state.Reader) error {
		l, found, err := registry.GetListing(r, listingL)
		require.NoError(t, err)
		require.True(t, found)
		assert.Zero(t, l.ChallengeID)
		_, found, err = registry.GetChallenge(r, 1)
		assert.False(t, found)
		return err
	}))
	tok.AssertExpectations(t)
}
