// Package registry is the token-curated registry state machine: listings are
// proposed against a deposit, may be challenged, and challenges are settled
// by a token-weighted vote whose losers fund the winners' rewards.
package registry

import (
	"fmt"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/state"
)

// MaxDataLength bounds the listing payload accepted by ProposeData.
const MaxDataLength = 256

// Ledger is what the registry needs from the token ledger. Deposits and vote
// weight are locked while at stake and slashed into domain.RewardPot when lost.
type Ledger interface {
	Transfer(from, to domain.AccountID, amount domain.Balance) error
	Lock(holder domain.AccountID, amount domain.Balance) error
	Unlock(holder domain.AccountID, amount domain.Balance) error
	SlashLocked(holder domain.AccountID, amount domain.Balance, beneficiary domain.AccountID) error
}

type Registry struct {
	params *domain.Params
	kv     state.ReadWriter
	ledger Ledger
	env    domain.Env
	events domain.Emitter
}

func New(params *domain.Params, kv state.ReadWriter, ledger Ledger, env domain.Env, events domain.Emitter) *Registry {
	if events == nil {
		events = domain.Discard{}
	}
	return &Registry{params: params, kv: kv, ledger: ledger, env: env, events: events}
}

// HashData is the listing hash of a data payload.
func HashData(data []byte) domain.Hash {
	return domain.Hash(blake2b.Sum256(data))
}

// Propose applies for a new listing, locking deposit from caller.
func (r *Registry) Propose(caller domain.AccountID, hash domain.Hash, deposit domain.Balance) error {
	return r.propose(caller, hash, deposit, nil)
}

// ProposeData proposes the listing identified by the BLAKE2b-256 hash of data
// and stores data alongside it.
func (r *Registry) ProposeData(caller domain.AccountID, data []byte, deposit domain.Balance) (domain.Hash, error) {
	if len(data) > MaxDataLength {
		return domain.Hash{}, fmt.Errorf("%w: %d bytes, max %d", domain.ErrDataTooLong, len(data), MaxDataLength)
	}
	hash := HashData(data)
	return hash, r.propose(caller, hash, deposit, data)
}

func (r *Registry) propose(caller domain.AccountID, hash domain.Hash, deposit domain.Balance, data []byte) error {
	_, found, err := GetListing(r.kv, hash)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, hash)
	}
	if deposit < r.params.MinDeposit {
		return fmt.Errorf("%w: %d < %d", domain.ErrDepositTooLow, deposit, r.params.MinDeposit)
	}

	if err := r.ledger.Lock(caller, deposit); err != nil {
		return err
	}

	index, err := r.next(listingCountKey)
	if err != nil {
		return err
	}

	l := domain.Listing{
		Hash:              hash,
		Owner:             caller,
		Deposit:           deposit,
		ApplicationExpiry: r.env.Height + r.params.ApplyStageLength,
		Data:              data,
		Index:             index,
	}
	if err := putListing(r.kv, l); err != nil {
		return err
	}

	r.emit(domain.Event{Kind: domain.EventProposed, Account: caller, Amount: deposit, Listing: &hash})
	return nil
}

// Challenge opens a vote on a live listing, locking deposit from caller.
func (r *Registry) Challenge(caller domain.AccountID, hash domain.Hash, deposit domain.Balance) (domain.ChallengeID, error) {
	l, found, err := GetListing(r.kv, hash)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, hash)
	}
	if l.ChallengeID != 0 {
		return 0, fmt.Errorf("%w: challenge %d", domain.ErrAlreadyChallenged, l.ChallengeID)
	}
	if deposit < r.params.MinDeposit {
		return 0, fmt.Errorf("%w: %d < %d", domain.ErrDepositTooLow, deposit, r.params.MinDeposit)
	}
	if caller == l.Owner {
		return 0, domain.ErrSelfChallenge
	}

	if err := r.ledger.Lock(caller, deposit); err != nil {
		return 0, err
	}

	next, err := r.next(challengeNonceKey)
	if err != nil {
		return 0, err
	}
	id := domain.ChallengeID(next)

	c := domain.Challenge{
		ID:          id,
		ListingHash: hash,
		Challenger:  caller,
		Deposit:     deposit,
		CommitBy:    r.env.Height + r.params.CommitStageLength,
	}
	if err := putChallenge(r.kv, c); err != nil {
		return 0, err
	}
	l.ChallengeID = id
	if err := putListing(r.kv, l); err != nil {
		return 0, err
	}

	r.emit(domain.Event{Kind: domain.EventChallenged, Account: caller, Amount: deposit, Listing: &hash, ChallengeID: id})
	return id, nil
}

// Vote commits weight from caller to one side of an open challenge.
func (r *Registry) Vote(caller domain.AccountID, id domain.ChallengeID, choice domain.Choice, weight domain.Balance) error {
	c, found, err := GetChallenge(r.kv, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", domain.ErrChallengeNotFound, id)
	}
	if !choice.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidChoice, choice)
	}
	if c.Resolved || r.env.Height >= c.CommitBy {
		return fmt.Errorf("%w: commit by %d", domain.ErrChallengeClosed, c.CommitBy)
	}
	if _, voted, err := GetVote(r.kv, id, caller); err != nil {
		return err
	} else if voted {
		return domain.ErrAlreadyVoted
	}
	if weight == 0 {
		return domain.ErrZeroWeight
	}

	// Tallies are bounded by locked supply once the lock succeeds.
	if err := r.ledger.Lock(caller, weight); err != nil {
		return err
	}
	if choice == domain.ChoiceFor {
		if c.VotesFor, err = add(c.VotesFor, weight); err != nil {
			return err
		}
	} else {
		if c.VotesAgainst, err = add(c.VotesAgainst, weight); err != nil {
			return err
		}
	}

	v := domain.Vote{ChallengeID: id, Voter: caller, Choice: choice, Weight: weight}
	if err := putVote(r.kv, v); err != nil {
		return err
	}
	if err := putChallenge(r.kv, c); err != nil {
		return err
	}

	r.emit(domain.Event{Kind: domain.EventVoted, Account: caller, Amount: weight, ChallengeID: id, Choice: choice})
	return nil
}

// Resolve settles a challenge once its commit stage is over. Ties go to the
// challenger. The losing principal's deposit and every losing vote are
// slashed into the reward pot.
func (r *Registry) Resolve(caller domain.AccountID, id domain.ChallengeID) (domain.Outcome, error) {
	c, found, err := GetChallenge(r.kv, id)
	if err != nil {
		return domain.OutcomePending, err
	}
	if !found {
		return domain.OutcomePending, fmt.Errorf("%w: %d", domain.ErrChallengeNotFound, id)
	}
	if c.Resolved {
		return domain.OutcomePending, domain.ErrAlreadyResolved
	}
	if r.env.Height < c.CommitBy {
		return domain.OutcomePending, fmt.Errorf("%w: resolvable at %d", domain.ErrTooEarly, c.CommitBy)
	}

	l, found, err := GetListing(r.kv, c.ListingHash)
	if err != nil {
		return domain.OutcomePending, err
	}
	if !found || l.ChallengeID != id {
		return domain.OutcomePending, fmt.Errorf("%w: %s for challenge %d", domain.ErrNotFound, c.ListingHash, id)
	}

	votes, err := Votes(r.kv, id)
	if err != nil {
		return domain.OutcomePending, err
	}

	if c.VotesFor > c.VotesAgainst {
		c.Outcome = domain.OutcomeListingKept
		c.WinningWeight = c.VotesFor
		if err := r.ledger.SlashLocked(c.Challenger, c.Deposit, domain.RewardPot); err != nil {
			return domain.OutcomePending, err
		}
		c.RewardPool = c.Deposit

		l.Whitelisted = true
		l.ChallengeID = 0
		if err := putListing(r.kv, l); err != nil {
			return domain.OutcomePending, err
		}
	} else {
		c.Outcome = domain.OutcomeListingRejected
		c.WinningWeight = c.VotesAgainst
		if err := r.ledger.SlashLocked(l.Owner, l.Deposit, domain.RewardPot); err != nil {
			return domain.OutcomePending, err
		}
		c.RewardPool = l.Deposit

		if err := r.ledger.Unlock(c.Challenger, c.Deposit); err != nil {
			return domain.OutcomePending, err
		}
		if err := r.kv.Delete(listingKey(l.Hash)); err != nil {
			return domain.OutcomePending, err
		}
	}

	winner := c.Outcome.Winner()
	for _, v := range votes {
		if v.Choice == winner {
			err = r.ledger.Unlock(v.Voter, v.Weight)
		} else {
			err = r.ledger.SlashLocked(v.Voter, v.Weight, domain.RewardPot)
			if err == nil {
				c.RewardPool, err = add(c.RewardPool, v.Weight)
			}
		}
		if err != nil {
			return domain.OutcomePending, err
		}
	}

	// Nobody backed the winning side, so the winning principal takes the pot.
	if c.WinningWeight == 0 && c.RewardPool > 0 {
		recipient := c.Challenger
		if c.Outcome == domain.OutcomeListingKept {
			recipient = l.Owner
		}
		if err := r.ledger.Transfer(domain.RewardPot, recipient, c.RewardPool); err != nil {
			return domain.OutcomePending, err
		}
		c.Claimed = c.RewardPool
		r.emit(domain.Event{Kind: domain.EventClaimed, Account: recipient, Amount: c.RewardPool, ChallengeID: id})
	}

	c.Resolved = true
	if err := putChallenge(r.kv, c); err != nil {
		return domain.OutcomePending, err
	}

	hash := l.Hash
	r.emit(domain.Event{Kind: domain.EventResolved, Account: caller, Amount: c.RewardPool, Listing: &hash, ChallengeID: id, Outcome: c.Outcome})
	if c.Outcome == domain.OutcomeListingKept {
		r.emit(domain.Event{Kind: domain.EventAccepted, Account: l.Owner, Listing: &hash})
	} else {
		r.emit(domain.Event{Kind: domain.EventRejected, Account: l.Owner, Amount: l.Deposit, Listing: &hash})
	}
	return c.Outcome, nil
}

// ClaimReward pays caller its share of a resolved challenge's reward pool:
// floor(pool * weight / winning weight). Rounding dust stays in the pot.
func (r *Registry) ClaimReward(caller domain.AccountID, id domain.ChallengeID) (domain.Balance, error) {
	c, found, err := GetChallenge(r.kv, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %d", domain.ErrChallengeNotFound, id)
	}
	if !c.Resolved {
		return 0, domain.ErrChallengeNotResolved
	}

	v, voted, err := GetVote(r.kv, id, caller)
	if err != nil {
		return 0, err
	}
	if !voted || v.Choice != c.Outcome.Winner() {
		return 0, domain.ErrDidNotVoteWinningSide
	}
	if v.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}

	share := Share(c.RewardPool, v.Weight, c.WinningWeight)
	if err := r.ledger.Transfer(domain.RewardPot, caller, share); err != nil {
		return 0, err
	}

	v.Claimed = true
	c.Claimed += share
	if err := putVote(r.kv, v); err != nil {
		return 0, err
	}
	if err := putChallenge(r.kv, c); err != nil {
		return 0, err
	}

	r.emit(domain.Event{Kind: domain.EventClaimed, Account: caller, Amount: share, ChallengeID: id})
	return share, nil
}

// Share computes floor(pool * weight / total) without overflowing.
func Share(pool, weight, total domain.Balance) domain.Balance {
	if total == 0 || weight == 0 {
		return 0
	}
	if weight >= total {
		return pool
	}
	hi, lo := bits.Mul64(uint64(pool), uint64(weight))
	q, _ := bits.Div64(hi, lo, uint64(total))
	return domain.Balance(q)
}

// UpdateStatus persists the whitelisting of an applied listing whose
// application stage has ended unchallenged.
func (r *Registry) UpdateStatus(caller domain.AccountID, hash domain.Hash) error {
	l, found, err := GetListing(r.kv, hash)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, hash)
	}
	if l.ChallengeID != 0 {
		return fmt.Errorf("%w: challenge %d", domain.ErrAlreadyChallenged, l.ChallengeID)
	}
	if l.Whitelisted {
		return nil
	}
	if r.env.Height < l.ApplicationExpiry {
		return fmt.Errorf("%w: application ends at %d", domain.ErrTooEarly, l.ApplicationExpiry)
	}

	l.Whitelisted = true
	if err := putListing(r.kv, l); err != nil {
		return err
	}
	r.emit(domain.Event{Kind: domain.EventAccepted, Account: l.Owner, Listing: &hash})
	return nil
}

// Exit removes a whitelisted, unchallenged listing and releases its deposit.
func (r *Registry) Exit(caller domain.AccountID, hash domain.Hash) error {
	l, found, err := GetListing(r.kv, hash)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, hash)
	}
	if caller != l.Owner {
		return domain.ErrNotOwner
	}
	if l.ChallengeID != 0 {
		return fmt.Errorf("%w: challenge %d", domain.ErrAlreadyChallenged, l.ChallengeID)
	}
	if l.Status(r.env.Height) != domain.StatusWhitelisted {
		return domain.ErrNotWhitelisted
	}

	if err := r.ledger.Unlock(l.Owner, l.Deposit); err != nil {
		return err
	}
	if err := r.kv.Delete(listingKey(hash)); err != nil {
		return err
	}

	r.emit(domain.Event{Kind: domain.EventExited, Account: caller, Amount: l.Deposit, Listing: &hash})
	return nil
}

func (r *Registry) emit(e domain.Event) {
	e.Height = r.env.Height
	r.events.Emit(e)
}

// next increments the counter at key and returns the new value.
func (r *Registry) next(key []byte) (uint64, error) {
	var n uint64
	if _, err := state.GetJSON(r.kv, key, &n); err != nil {
		return 0, err
	}
	n++
	if err := state.PutJSON(r.kv, key, n); err != nil {
		return 0, err
	}
	return n, nil
}

func add(a, b domain.Balance) (domain.Balance, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, domain.ErrOverflow
	}
	return domain.Balance(sum), nil
}
