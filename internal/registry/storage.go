package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/state"
)

const module = "Registry"

var (
	listingCountKey   = state.Prefix(module, "ListingCount")
	challengeNonceKey = state.Prefix(module, "ChallengeNonce")
	listingsPrefix    = state.Prefix(module, "Listings")
)

func listingKey(hash domain.Hash) []byte {
	return state.MapKey(module, "Listings", hash[:])
}

func challengeKey(id domain.ChallengeID) []byte {
	return state.MapKey(module, "Challenges", state.U64(uint64(id)))
}

func votesPrefix(id domain.ChallengeID) []byte {
	return state.MapKey(module, "Votes", state.U64(uint64(id)))
}

func voteKey(id domain.ChallengeID, voter domain.AccountID) []byte {
	return state.MapKey(module, "Votes", state.U64(uint64(id)), []byte(voter))
}

func GetListing(r state.Reader, hash domain.Hash) (domain.Listing, bool, error) {
	var l domain.Listing
	found, err := state.GetJSON(r, listingKey(hash), &l)
	if err != nil {
		return l, false, fmt.Errorf("read listing %s: %w", hash, err)
	}
	return l, found, nil
}

// Listings returns every live listing ordered by proposal index.
func Listings(r state.Reader) ([]domain.Listing, error) {
	var out []domain.Listing
	err := r.Iterate(listingsPrefix, func(_, value []byte) error {
		var l domain.Listing
		if err := json.Unmarshal(value, &l); err != nil {
			return fmt.Errorf("decode listing: %w", err)
		}
		out = append(out, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// ListingCount is the number of proposals ever made.
func ListingCount(r state.Reader) (uint64, error) {
	var n uint64
	_, err := state.GetJSON(r, listingCountKey, &n)
	return n, err
}

func GetChallenge(r state.Reader, id domain.ChallengeID) (domain.Challenge, bool, error) {
	var c domain.Challenge
	found, err := state.GetJSON(r, challengeKey(id), &c)
	if err != nil {
		return c, false, fmt.Errorf("read challenge %d: %w", id, err)
	}
	return c, found, nil
}

func GetVote(r state.Reader, id domain.ChallengeID, voter domain.AccountID) (domain.Vote, bool, error) {
	var v domain.Vote
	found, err := state.GetJSON(r, voteKey(id, voter), &v)
	if err != nil {
		return v, false, fmt.Errorf("read vote: %w", err)
	}
	return v, found, nil
}

// Votes returns the votes cast on a challenge in storage key order.
func Votes(r state.Reader, id domain.ChallengeID) ([]domain.Vote, error) {
	var out []domain.Vote
	err := r.Iterate(votesPrefix(id), func(_, value []byte) error {
		var v domain.Vote
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode vote: %w", err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func putListing(w state.ReadWriter, l domain.Listing) error {
	return state.PutJSON(w, listingKey(l.Hash), l)
}

func putChallenge(w state.ReadWriter, c domain.Challenge) error {
	return state.PutJSON(w, challengeKey(c.ID), c)
}

func putVote(w state.ReadWriter, v domain.Vote) error {
	return state.PutJSON(w, voteKey(v.ChallengeID, v.Voter), v)
}
