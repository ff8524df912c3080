package runtime_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/registry"
	"github.com/punchamoorthee/tcr/internal/runtime"
	"github.com/punchamoorthee/tcr/internal/state"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]domain.Event
}

func (r *recorder) Publish(_ context.Context, events []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func newRuntime(t *testing.T) (*runtime.Runtime, *recorder, state.Store) {
	t.Helper()
	store := state.NewMemoryStore()
	rec := &recorder{}
	rt := runtime.New(store,
		runtime.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		runtime.WithPublisher(rec),
	)
	require.NoError(t, rt.Genesis(context.Background(), runtime.DevGenesis()))
	return rt, rec, store
}

func TestApplyBeforeGenesis(t *testing.T) {
	rt := runtime.New(state.NewMemoryStore())
	_, err := rt.Apply(context.Background(), "alice", runtime.TransferCall{To: "bob", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	assert.ErrorIs(t, rt.Load(context.Background()), domain.ErrNotInitialized)
}

func TestGenesisOnlyOnce(t *testing.T) {
	rt, _, _ := newRuntime(t)
	err := rt.Genesis(context.Background(), runtime.DevGenesis())
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestGenesisValidate(t *testing.T) {
	g := runtime.DevGenesis()
	g.Accounts = append(g.Accounts, runtime.GenesisAccount{Account: "alice", Balance: 1})
	assert.Error(t, g.Validate())

	g = runtime.DevGenesis()
	g.Params.MinDeposit = 0
	assert.Error(t, g.Validate())
}

func TestLoadResumesCommittedState(t *testing.T) {
	ctx := context.Background()
	rt, _, store := newRuntime(t)
	h, err := rt.AdvanceBlocks(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.Height(3), h)
	_, err = rt.Apply(ctx, "alice", runtime.TransferCall{To: "bob", Amount: 10})
	require.NoError(t, err)

	restarted := runtime.New(store)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, domain.Height(3), restarted.Height())
	assert.Equal(t, runtime.DevGenesis().Params, restarted.Params())

	b, err := restarted.Account(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.Balance(1010), b.Total)
}

func TestApplyPublishesAfterCommit(t *testing.T) {
	ctx := context.Background()
	rt, rec, _ := newRuntime(t)

	rcpt, err := rt.Apply(ctx, "alice", runtime.TransferCall{To: "bob", Amount: 25})
	require.NoError(t, err)
	assert.Equal(t, "transfer", rcpt.Call)
	assert.Equal(t, domain.AccountID("alice"), rcpt.Caller)
	assert.Equal(t, domain.Balance(25), rcpt.Amount)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, domain.EventTransfer, rcpt.Events[0].Kind)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, rcpt.Events, rec.batches[0])
}

func TestRejectedCallCommitsAndPublishesNothing(t *testing.T) {
	ctx := context.Background()
	rt, rec, _ := newRuntime(t)

	_, err := rt.Apply(ctx, "alice", runtime.ProposeCall{Hash: domain.Hash{1}, Deposit: 49})
	assert.ErrorIs(t, err, domain.ErrDepositTooLow)

	_, err = rt.Apply(ctx, "alice", runtime.ProposeCall{Hash: domain.Hash{1}, Deposit: 100})
	require.NoError(t, err)
	rcpt, err := rt.Apply(ctx, "bob", runtime.ChallengeCall{Listing: domain.Hash{1}, Deposit: 100})
	require.NoError(t, err)
	require.Equal(t, 2, rec.count())

	// The tally is updated before the weight is locked; the failed lock
	// must take the tally with it.
	_, err = rt.Apply(ctx, "carol", runtime.VoteCall{Challenge: rcpt.ChallengeID, Choice: domain.ChoiceFor, Weight: 5000})
	assert.ErrorIs(t, err, domain.ErrInsufficientSpendable)
	assert.Equal(t, 2, rec.count())

	c, err := rt.Challenge(ctx, rcpt.ChallengeID)
	require.NoError(t, err)
	assert.Zero(t, c.VotesFor)
	_, voted, err := rt.Vote(ctx, rcpt.ChallengeID, "carol")
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestApplyRejectsBadCallers(t *testing.T) {
	rt, _, _ := newRuntime(t)
	_, err := rt.Apply(context.Background(), "", runtime.TransferCall{To: "bob", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidCaller)

	_, err = rt.Apply(context.Background(), domain.RewardPot, runtime.TransferCall{To: "bob", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrReservedAccount)
}

func TestChallengeLifecycle(t *testing.T) {
	ctx := context.Background()
	rt, rec, _ := newRuntime(t)
	apply := func(caller domain.AccountID, call runtime.Call) *runtime.Receipt {
		t.Helper()
		rcpt, err := rt.Apply(ctx, caller, call)
		require.NoError(t, err)
		return rcpt
	}

	proposed := apply("alice", runtime.ProposeCall{Data: []byte("example.org"), Deposit: 100})
	require.NotNil(t, proposed.Listing)
	hash := *proposed.Listing
	assert.Equal(t, registry.HashData([]byte("example.org")), hash)

	_, err := rt.AdvanceBlocks(ctx, 5)
	require.NoError(t, err)
	challenged := apply("bob", runtime.ChallengeCall{Listing: hash, Deposit: 100})
	id := challenged.ChallengeID

	l, err := rt.Listing(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInChallenge, l.Status(rt.Height()))

	apply("carol", runtime.VoteCall{Challenge: id, Choice: domain.ChoiceFor, Weight: 30})
	apply("dave", runtime.VoteCall{Challenge: id, Choice: domain.ChoiceAgainst, Weight: 60})

	_, err = rt.Apply(ctx, "carol", runtime.ResolveCall{Challenge: id})
	assert.ErrorIs(t, err, domain.ErrTooEarly)

	_, err = rt.AdvanceBlocks(ctx, 10)
	require.NoError(t, err)
	resolved := apply("carol", runtime.ResolveCall{Challenge: id})
	assert.Equal(t, domain.OutcomeListingRejected, resolved.Outcome)

	_, err = rt.Listing(ctx, hash)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	claimed := apply("dave", runtime.ClaimRewardCall{Challenge: id})
	assert.Equal(t, domain.Balance(130), claimed.Amount)

	balances, err := rt.AccountBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountBalance{Total: 900}, balances["alice"])
	assert.Equal(t, domain.AccountBalance{Total: 1000}, balances["bob"])
	assert.Equal(t, domain.AccountBalance{Total: 970}, balances["carol"])
	assert.Equal(t, domain.AccountBalance{Total: 1130}, balances["dave"])

	total, err := rt.TotalIssuance(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Balance(4000), total)

	votes, err := rt.Votes(ctx, id)
	require.NoError(t, err)
	assert.Len(t, votes, 2)
	assert.Equal(t, 6, rec.count())
}

func TestDelegatedTransfer(t *testing.T) {
	ctx := context.Background()
	rt, _, _ := newRuntime(t)

	_, err := rt.Apply(ctx, "alice", runtime.ApproveCall{Spender: "bob", Amount: 100})
	require.NoError(t, err)
	_, err = rt.Apply(ctx, "bob", runtime.TransferFromCall{From: "alice", To: "carol", Amount: 60})
	require.NoError(t, err)

	left, err := rt.Allowance(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.Balance(40), left)

	_, err = rt.Apply(ctx, "carol", runtime.TransferFromCall{From: "alice", To: "carol", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestReadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	content := `params:
  min_deposit: 20
  apply_stage_length: 3
  commit_stage_length: 4
accounts:
  - account: alice
    balance: 500
  - account: bob
    balance: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	g, err := runtime.ReadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, domain.Params{MinDeposit: 20, ApplyStageLength: 3, CommitStageLength: 4}, g.Params)
	assert.Equal(t, []runtime.GenesisAccount{{Account: "alice", Balance: 500}, {Account: "bob", Balance: 7}}, g.Accounts)

	_, err = runtime.ReadGenesis(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
