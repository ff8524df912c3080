package runtime

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/ledger"
	"github.com/punchamoorthee/tcr/internal/metrics"
	"github.com/punchamoorthee/tcr/internal/state"
)

// GenesisAccount is an initial balance.
type GenesisAccount struct {
	Account domain.AccountID `json:"account" yaml:"account"`
	Balance domain.Balance   `json:"balance" yaml:"balance"`
}

// Genesis is the initial chain state: immutable params and the token supply.
type Genesis struct {
	Params   domain.Params    `json:"params" yaml:"params"`
	Accounts []GenesisAccount `json:"accounts" yaml:"accounts"`
}

func (g Genesis) Validate() error {
	if err := g.Params.Validate(); err != nil {
		return fmt.Errorf("genesis params: %w", err)
	}
	seen := make(map[domain.AccountID]bool, len(g.Accounts))
	for _, a := range g.Accounts {
		if a.Account == "" {
			return fmt.Errorf("genesis account with empty id")
		}
		if seen[a.Account] {
			return fmt.Errorf("genesis account %s listed twice", a.Account)
		}
		seen[a.Account] = true
	}
	return nil
}

// Genesis writes the initial state at height 0 and loads it. It refuses to
// run against a store that already holds params.
func (rt *Runtime) Genesis(ctx context.Context, g Genesis) error {
	if err := g.Validate(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	err := rt.store.Update(ctx, func(kv state.ReadWriter) error {
		return WriteGenesis(kv, g)
	})
	if err != nil {
		return err
	}

	rt.params, rt.height, rt.loaded = g.Params, 0, true
	metrics.BlockHeight.Set(0)
	rt.logger.Info("genesis applied", "accounts", len(g.Accounts), "min_deposit", g.Params.MinDeposit)
	return nil
}

// WriteGenesis writes g into kv. Used directly when building a genesis
// snapshot for bulk loading.
func WriteGenesis(kv state.ReadWriter, g Genesis) error {
	var existing domain.Params
	found, err := state.GetJSON(kv, paramsKey, &existing)
	if err != nil {
		return err
	}
	if found {
		return domain.ErrAlreadyInitialized
	}

	if err := state.PutJSON(kv, paramsKey, g.Params); err != nil {
		return err
	}
	if err := state.PutJSON(kv, heightKey, domain.Height(0)); err != nil {
		return err
	}

	tok := ledger.New(kv, domain.Env{}, nil)
	for _, a := range g.Accounts {
		if err := tok.Mint(a.Account, a.Balance); err != nil {
			return fmt.Errorf("mint %s: %w", a.Account, err)
		}
	}
	return nil
}

// ReadGenesis loads a YAML genesis file.
func ReadGenesis(path string) (Genesis, error) {
	var g Genesis
	raw, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("read genesis: %w", err)
	}
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return g, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	return g, g.Validate()
}

// DevGenesis is used by development nodes started without a genesis file.
func DevGenesis() Genesis {
	return Genesis{
		Params: domain.Params{MinDeposit: 50, ApplyStageLength: 10, CommitStageLength: 10},
		Accounts: []GenesisAccount{
			{Account: "alice", Balance: 1000},
			{Account: "bob", Balance: 1000},
			{Account: "carol", Balance: 1000},
			{Account: "dave", Balance: 1000},
		},
	}
}
