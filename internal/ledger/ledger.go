// Package ledger holds token balances. Each account has a total and a locked
// portion; only total minus locked can be spent.
//
// A Ledger is bound to the ReadWriter of one transition. Every operation
// validates all of its inputs before its first write, so a rejected call
// leaves storage untouched.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/state"
)

const module = "Token"

var (
	issuanceKey = state.Prefix(module, "TotalIssuance")
	balancesPfx = state.Prefix(module, "Balances")
)

func balanceKey(id domain.AccountID) []byte {
	return state.MapKey(module, "Balances", []byte(id))
}

func allowanceKey(owner, spender domain.AccountID) []byte {
	return state.MapKey(module, "Allowances", []byte(owner), []byte(spender))
}

// Balance returns the balance record of id. Unknown accounts have a zero balance.
func Balance(r state.Reader, id domain.AccountID) (domain.AccountBalance, error) {
	var b domain.AccountBalance
	if _, err := state.GetJSON(r, balanceKey(id), &b); err != nil {
		return b, fmt.Errorf("read balance of %s: %w", id, err)
	}
	return b, nil
}

func Allowance(r state.Reader, owner, spender domain.AccountID) (domain.Balance, error) {
	var a domain.Balance
	if _, err := state.GetJSON(r, allowanceKey(owner, spender), &a); err != nil {
		return 0, fmt.Errorf("read allowance: %w", err)
	}
	return a, nil
}

func TotalIssuance(r state.Reader) (domain.Balance, error) {
	var total domain.Balance
	if _, err := state.GetJSON(r, issuanceKey, &total); err != nil {
		return 0, fmt.Errorf("read issuance: %w", err)
	}
	return total, nil
}

// Accounts visits every stored balance record.
func Accounts(r state.Reader, fn func(domain.AccountID, domain.AccountBalance) error) error {
	return r.Iterate(balancesPfx, func(key, value []byte) error {
		var rec balanceRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode balance: %w", err)
		}
		return fn(rec.Account, rec.AccountBalance)
	})
}

type Ledger struct {
	kv     state.ReadWriter
	env    domain.Env
	events domain.Emitter
}

func New(kv state.ReadWriter, env domain.Env, events domain.Emitter) *Ledger {
	if events == nil {
		events = domain.Discard{}
	}
	return &Ledger{kv: kv, env: env, events: events}
}

func (l *Ledger) Balance(id domain.AccountID) (domain.AccountBalance, error) {
	return Balance(l.kv, id)
}

// Transfer moves amount from the spendable balance of from to the total of to.
func (l *Ledger) Transfer(from, to domain.AccountID, amount domain.Balance) error {
	if amount == 0 {
		return nil
	}

	src, err := l.Balance(from)
	if err != nil {
		return err
	}
	if amount > src.Spendable() {
		return fmt.Errorf("%w: %s has %d, needs %d", domain.ErrInsufficientSpendable, from, src.Spendable(), amount)
	}
	if from == to {
		return nil
	}

	dst, err := l.Balance(to)
	if err != nil {
		return err
	}
	if dst.Total > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", domain.ErrOverflow, to)
	}

	src.Total -= amount
	dst.Total += amount
	if err := l.put(from, src); err != nil {
		return err
	}
	if err := l.put(to, dst); err != nil {
		return err
	}

	l.events.Emit(domain.Event{
		Kind:         domain.EventTransfer,
		Height:       l.env.Height,
		Account:      from,
		Counterparty: to,
		Amount:       amount,
	})
	return nil
}

// Lock earmarks amount of the holder's spendable balance.
func (l *Ledger) Lock(holder domain.AccountID, amount domain.Balance) error {
	b, err := l.Balance(holder)
	if err != nil {
		return err
	}
	if amount > b.Spendable() {
		return fmt.Errorf("%w: %s has %d, needs %d", domain.ErrInsufficientSpendable, holder, b.Spendable(), amount)
	}
	if amount == 0 {
		return nil
	}
	b.Locked += amount
	return l.put(holder, b)
}

func (l *Ledger) Unlock(holder domain.AccountID, amount domain.Balance) error {
	b, err := l.Balance(holder)
	if err != nil {
		return err
	}
	if amount > b.Locked {
		return fmt.Errorf("%w: %s has %d locked, releasing %d", domain.ErrLockUnderflow, holder, b.Locked, amount)
	}
	if amount == 0 {
		return nil
	}
	b.Locked -= amount
	return l.put(holder, b)
}

// SlashLocked moves amount out of the holder's locked balance straight into
// the beneficiary's total. The slashed tokens are never spendable by holder.
func (l *Ledger) SlashLocked(holder domain.AccountID, amount domain.Balance, beneficiary domain.AccountID) error {
	src, err := l.Balance(holder)
	if err != nil {
		return err
	}
	if amount > src.Locked {
		return fmt.Errorf("%w: %s has %d locked, slashing %d", domain.ErrLockUnderflow, holder, src.Locked, amount)
	}
	if amount == 0 {
		return nil
	}

	if holder == beneficiary {
		src.Locked -= amount
		return l.put(holder, src)
	}

	dst, err := l.Balance(beneficiary)
	if err != nil {
		return err
	}
	if dst.Total > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", domain.ErrOverflow, beneficiary)
	}

	src.Total -= amount
	src.Locked -= amount
	dst.Total += amount
	if err := l.put(holder, src); err != nil {
		return err
	}
	if err := l.put(beneficiary, dst); err != nil {
		return err
	}

	l.events.Emit(domain.Event{
		Kind:         domain.EventTransfer,
		Height:       l.env.Height,
		Account:      holder,
		Counterparty: beneficiary,
		Amount:       amount,
	})
	return nil
}

// Mint creates new tokens. Only genesis calls it.
func (l *Ledger) Mint(to domain.AccountID, amount domain.Balance) error {
	total, err := TotalIssuance(l.kv)
	if err != nil {
		return err
	}
	if total > math.MaxUint64-amount {
		return fmt.Errorf("%w: issuance", domain.ErrOverflow)
	}
	dst, err := l.Balance(to)
	if err != nil {
		return err
	}
	if dst.Total > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %s", domain.ErrOverflow, to)
	}

	dst.Total += amount
	if err := l.put(to, dst); err != nil {
		return err
	}
	if err := state.PutJSON(l.kv, issuanceKey, total+amount); err != nil {
		return err
	}

	l.events.Emit(domain.Event{
		Kind:    domain.EventMinted,
		Height:  l.env.Height,
		Account: to,
		Amount:  amount,
	})
	return nil
}

// Approve adds amount to what spender may move out of owner's account.
// The allowance saturates at the numeric maximum.
func (l *Ledger) Approve(owner, spender domain.AccountID, amount domain.Balance) error {
	current, err := Allowance(l.kv, owner, spender)
	if err != nil {
		return err
	}
	next := domain.Balance(math.MaxUint64)
	if current <= math.MaxUint64-amount {
		next = current + amount
	}
	if err := state.PutJSON(l.kv, allowanceKey(owner, spender), next); err != nil {
		return err
	}

	l.events.Emit(domain.Event{
		Kind:         domain.EventApproval,
		Height:       l.env.Height,
		Account:      owner,
		Counterparty: spender,
		Amount:       next,
	})
	return nil
}

// TransferFrom spends allowance granted by from to spender.
func (l *Ledger) TransferFrom(spender, from, to domain.AccountID, amount domain.Balance) error {
	allowed, err := Allowance(l.kv, from, spender)
	if err != nil {
		return err
	}
	if amount > allowed {
		return fmt.Errorf("%w: %s may move %d of %s", domain.ErrInsufficientAllowance, spender, allowed, from)
	}

	// Transfer validates before writing, so the allowance is only reduced
	// once the balance move has gone through.
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	return state.PutJSON(l.kv, allowanceKey(from, spender), allowed-amount)
}

// balanceRecord is the stored form. The account id is kept in the value so
// iteration does not need to decode keys.
type balanceRecord struct {
	Account domain.AccountID `json:"account"`
	domain.AccountBalance
}

func (l *Ledger) put(id domain.AccountID, b domain.AccountBalance) error {
	return state.PutJSON(l.kv, balanceKey(id), balanceRecord{Account: id, AccountBalance: b})
}
