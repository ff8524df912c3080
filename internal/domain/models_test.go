package domain_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tcr/internal/domain"
)

func TestParseHash(t *testing.T) {
	hex := strings.Repeat("ab", 32)

	h, err := domain.ParseHash("0x" + hex)
	require.NoError(t, err)
	assert.Equal(t, "0x"+hex, h.String())

	unprefixed, err := domain.ParseHash(hex)
	require.NoError(t, err)
	assert.Equal(t, h, unprefixed)

	_, err = domain.ParseHash("0xabcd")
	assert.Error(t, err)
	_, err = domain.ParseHash("zz")
	assert.Error(t, err)
}

func TestHashJSON(t *testing.T) {
	var h domain.Hash
	h[0], h[31] = 1, 2

	raw, err := json.Marshal(struct {
		H domain.Hash `json:"h"`
	}{h})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(`{"h":"%s"}`, h), string(raw))

	var back struct {
		H domain.Hash `json:"h"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, h, back.H)
	assert.False(t, back.H.IsZero())
}

func TestListingStatus(t *testing.T) {
	l := domain.Listing{ApplicationExpiry: 10}

	assert.Equal(t, domain.StatusApplied, l.Status(9))
	assert.Equal(t, domain.StatusWhitelisted, l.Status(10))

	l.ChallengeID = 3
	assert.Equal(t, domain.StatusInChallenge, l.Status(20))

	l.ChallengeID = 0
	l.Whitelisted = true
	assert.Equal(t, domain.StatusWhitelisted, l.Status(0))
}

func TestOutcomeWinner(t *testing.T) {
	assert.Equal(t, domain.ChoiceFor, domain.OutcomeListingKept.Winner())
	assert.Equal(t, domain.ChoiceAgainst, domain.OutcomeListingRejected.Winner())
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  domain.Params
		wantErr bool
	}{
		{"valid", domain.Params{MinDeposit: 50, ApplyStageLength: 10, CommitStageLength: 10}, false},
		{"zero apply stage", domain.Params{MinDeposit: 50, CommitStageLength: 10}, false},
		{"zero deposit", domain.Params{ApplyStageLength: 10, CommitStageLength: 10}, true},
		{"zero commit stage", domain.Params{MinDeposit: 50, ApplyStageLength: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReservedAccounts(t *testing.T) {
	assert.True(t, domain.RewardPot.IsReserved())
	assert.True(t, domain.AccountID("modl/other").IsReserved())
	assert.False(t, domain.AccountID("alice").IsReserved())
}

func TestErrorClasses(t *testing.T) {
	wrapped := fmt.Errorf("%w: extra", domain.ErrChallengeNotFound)
	assert.True(t, domain.IsNotFound(wrapped))
	assert.True(t, domain.IsPrecondition(wrapped))
	assert.False(t, domain.IsInvariant(wrapped))

	assert.True(t, domain.IsInvariant(fmt.Errorf("x: %w", domain.ErrLockUnderflow)))
	assert.False(t, domain.IsPrecondition(domain.ErrOverflow))
	assert.False(t, domain.IsPrecondition(domain.ErrNotInitialized))
}

func TestEventBuffer(t *testing.T) {
	var b domain.EventBuffer
	b.Emit(domain.Event{Kind: domain.EventTransfer})
	b.Emit(domain.Event{Kind: domain.EventMinted})
	require.Len(t, b.Events(), 2)
	assert.Equal(t, domain.EventMinted, b.Events()[1].Kind)

	b.Reset()
	assert.Empty(t, b.Events())
}
