package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountID identifies a ledger account. Callers are authenticated by the host
// before an AccountID reaches a state transition.
type AccountID string

// Height is the block height used as the only clock inside a transition.
type Height uint64

// Balance is an amount of token units.
type Balance uint64

// ChallengeID is allocated from a counter starting at 1. Zero means "no challenge".
type ChallengeID uint64

// Hash is the 32-byte content hash that identifies a listing.
type Hash [32]byte

// ParseHash accepts 64 hex characters with an optional 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Params is the immutable registry configuration written at genesis.
type Params struct {
	MinDeposit        Balance `json:"min_deposit" yaml:"min_deposit"`
	ApplyStageLength  Height  `json:"apply_stage_length" yaml:"apply_stage_length"`
	CommitStageLength Height  `json:"commit_stage_length" yaml:"commit_stage_length"`
}

func (p Params) Validate() error {
	if p.MinDeposit == 0 {
		return fmt.Errorf("min_deposit must be positive")
	}
	if p.CommitStageLength == 0 {
		return fmt.Errorf("commit_stage_length must be positive")
	}
	return nil
}

// Env carries the ambient inputs of a single transition.
type Env struct {
	Height Height
}

// AccountBalance is the persisted balance record. Locked never exceeds Total.
type AccountBalance struct {
	Total  Balance `json:"total"`
	Locked Balance `json:"locked"`
}

func (b AccountBalance) Spendable() Balance {
	return b.Total - b.Locked
}

type ListingStatus string

const (
	StatusApplied     ListingStatus = "applied"
	StatusWhitelisted ListingStatus = "whitelisted"
	StatusInChallenge ListingStatus = "in_challenge"
)

// Listing is a live registry entry. Rejected or exited listings are deleted.
type Listing struct {
	Hash              Hash        `json:"hash"`
	Owner             AccountID   `json:"owner"`
	Deposit           Balance     `json:"deposit"`
	Whitelisted       bool        `json:"whitelisted"`
	ApplicationExpiry Height      `json:"application_expiry"`
	ChallengeID       ChallengeID `json:"challenge_id,omitempty"`
	Data              []byte      `json:"data,omitempty"`
	Index             uint64      `json:"index"`
}

// Status reports the lifecycle state as seen at height h. An applied listing
// whose expiry has passed without a challenge reads as whitelisted even
// before UpdateStatus persists it.
func (l Listing) Status(h Height) ListingStatus {
	switch {
	case l.ChallengeID != 0:
		return StatusInChallenge
	case l.Whitelisted, h >= l.ApplicationExpiry:
		return StatusWhitelisted
	default:
		return StatusApplied
	}
}

type Choice string

const (
	ChoiceFor     Choice = "for"
	ChoiceAgainst Choice = "against"
)

func (c Choice) Valid() bool {
	return c == ChoiceFor || c == ChoiceAgainst
}

type Outcome string

const (
	OutcomePending         Outcome = ""
	OutcomeListingKept     Outcome = "listing_kept"
	OutcomeListingRejected Outcome = "listing_rejected"
)

// Winner is the vote side whose voters share the reward pool.
func (o Outcome) Winner() Choice {
	if o == OutcomeListingKept {
		return ChoiceFor
	}
	return ChoiceAgainst
}

type Challenge struct {
	ID           ChallengeID `json:"id"`
	ListingHash  Hash        `json:"listing_hash"`
	Challenger   AccountID   `json:"challenger"`
	Deposit      Balance     `json:"deposit"`
	CommitBy     Height      `json:"commit_by"`
	VotesFor     Balance     `json:"votes_for"`
	VotesAgainst Balance     `json:"votes_against"`
	Resolved     bool        `json:"resolved"`
	Outcome      Outcome     `json:"outcome,omitempty"`
	RewardPool   Balance     `json:"reward_pool"`
	// WinningWeight is frozen at resolution and used as the claim denominator.
	WinningWeight Balance `json:"winning_weight"`
	Claimed       Balance `json:"claimed"`
}

// Unclaimed is what is left of the pool after paid-out shares.
func (c Challenge) Unclaimed() Balance {
	return c.RewardPool - c.Claimed
}

type Vote struct {
	ChallengeID ChallengeID `json:"challenge_id"`
	Voter       AccountID   `json:"voter"`
	Choice      Choice      `json:"choice"`
	Weight      Balance     `json:"weight"`
	Claimed     bool        `json:"claimed"`
}

// RewardPot is the module account that holds forfeited deposits until
// winning voters claim them. It cannot act as a caller.
const RewardPot AccountID = "modl/tcr"

// IsReserved reports whether id belongs to a module account.
func (id AccountID) IsReserved() bool {
	return strings.HasPrefix(string(id), "modl/")
}
