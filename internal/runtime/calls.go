package runtime

import (
	"fmt"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/ledger"
	"github.com/punchamoorthee/tcr/internal/registry"
)

// Call is one externally submitted state transition.
type Call interface {
	Name() string
}

type TransferCall struct {
	To     domain.AccountID `json:"to"`
	Amount domain.Balance   `json:"amount"`
}

type ApproveCall struct {
	Spender domain.AccountID `json:"spender"`
	Amount  domain.Balance   `json:"amount"`
}

type TransferFromCall struct {
	From   domain.AccountID `json:"from"`
	To     domain.AccountID `json:"to"`
	Amount domain.Balance   `json:"amount"`
}

// ProposeCall proposes Hash, or the hash of Data when Data is set.
type ProposeCall struct {
	Hash    domain.Hash    `json:"hash"`
	Data    []byte         `json:"data,omitempty"`
	Deposit domain.Balance `json:"deposit"`
}

type ChallengeCall struct {
	Listing domain.Hash    `json:"listing"`
	Deposit domain.Balance `json:"deposit"`
}

type VoteCall struct {
	Challenge domain.ChallengeID `json:"challenge"`
	Choice    domain.Choice      `json:"choice"`
	Weight    domain.Balance     `json:"weight"`
}

type ResolveCall struct {
	Challenge domain.ChallengeID `json:"challenge"`
}

type ClaimRewardCall struct {
	Challenge domain.ChallengeID `json:"challenge"`
}

type UpdateStatusCall struct {
	Listing domain.Hash `json:"listing"`
}

type ExitCall struct {
	Listing domain.Hash `json:"listing"`
}

func (TransferCall) Name() string     { return "transfer" }
func (ApproveCall) Name() string      { return "approve" }
func (TransferFromCall) Name() string { return "transfer_from" }
func (ProposeCall) Name() string      { return "propose" }
func (ChallengeCall) Name() string    { return "challenge" }
func (VoteCall) Name() string         { return "vote" }
func (ResolveCall) Name() string      { return "resolve" }
func (ClaimRewardCall) Name() string  { return "claim_reward" }
func (UpdateStatusCall) Name() string { return "update_status" }
func (ExitCall) Name() string         { return "exit" }

// dispatch runs call against the ledger and registry of one transition and
// fills in the call-specific receipt fields.
func dispatch(caller domain.AccountID, call Call, tok *ledger.Ledger, reg *registry.Registry, rcpt *Receipt) error {
	switch c := call.(type) {
	case TransferCall:
		rcpt.Amount = c.Amount
		return tok.Transfer(caller, c.To, c.Amount)
	case ApproveCall:
		rcpt.Amount = c.Amount
		return tok.Approve(caller, c.Spender, c.Amount)
	case TransferFromCall:
		rcpt.Amount = c.Amount
		return tok.TransferFrom(caller, c.From, c.To, c.Amount)
	case ProposeCall:
		hash := c.Hash
		if c.Data != nil {
			var err error
			if hash, err = reg.ProposeData(caller, c.Data, c.Deposit); err != nil {
				return err
			}
		} else if err := reg.Propose(caller, hash, c.Deposit); err != nil {
			return err
		}
		rcpt.Listing = &hash
		rcpt.Amount = c.Deposit
		return nil
	case ChallengeCall:
		id, err := reg.Challenge(caller, c.Listing, c.Deposit)
		if err != nil {
			return err
		}
		rcpt.Listing = &c.Listing
		rcpt.ChallengeID = id
		rcpt.Amount = c.Deposit
		return nil
	case VoteCall:
		rcpt.ChallengeID = c.Challenge
		rcpt.Amount = c.Weight
		return reg.Vote(caller, c.Challenge, c.Choice, c.Weight)
	case ResolveCall:
		outcome, err := reg.Resolve(caller, c.Challenge)
		rcpt.ChallengeID = c.Challenge
		rcpt.Outcome = outcome
		return err
	case ClaimRewardCall:
		share, err := reg.ClaimReward(caller, c.Challenge)
		rcpt.ChallengeID = c.Challenge
		rcpt.Amount = share
		return err
	case UpdateStatusCall:
		rcpt.Listing = &c.Listing
		return reg.UpdateStatus(caller, c.Listing)
	case ExitCall:
		rcpt.Listing = &c.Listing
		return reg.Exit(caller, c.Listing)
	default:
		return fmt.Errorf("unsupported call %T", call)
	}
}
