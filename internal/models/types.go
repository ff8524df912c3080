// Package models holds the HTTP request and response bodies.
package models

import (
	"github.com/punchamoorthee/tcr/internal/domain"
)

// TransferRequest is the payload from the client. The sender is the caller.
type TransferRequest struct {
	To     domain.AccountID `json:"to"`
	Amount domain.Balance   `json:"amount"`
}

type ApproveRequest struct {
	Spender domain.AccountID `json:"spender"`
	Amount  domain.Balance   `json:"amount"`
}

// TransferFromRequest moves tokens out of From using the caller's allowance.
type TransferFromRequest struct {
	From   domain.AccountID `json:"from"`
	To     domain.AccountID `json:"to"`
	Amount domain.Balance   `json:"amount"`
}

// ProposeRequest names a listing either by Hash or by its Data, which is
// hashed server-side. Exactly one must be set.
type ProposeRequest struct {
	Hash    *domain.Hash   `json:"hash,omitempty"`
	Data    *string        `json:"data,omitempty"`
	Deposit domain.Balance `json:"deposit"`
}

type ChallengeRequest struct {
	Deposit domain.Balance `json:"deposit"`
}

type VoteRequest struct {
	Choice domain.Choice  `json:"choice"`
	Weight domain.Balance `json:"weight"`
}

// Account is the balance view of one account.
type Account struct {
	ID        domain.AccountID `json:"id"`
	Total     domain.Balance   `json:"total"`
	Locked    domain.Balance   `json:"locked"`
	Spendable domain.Balance   `json:"spendable"`
}

type Allowance struct {
	Owner   domain.AccountID `json:"owner"`
	Spender domain.AccountID `json:"spender"`
	Amount  domain.Balance   `json:"amount"`
}

// Listing adds the status as seen at the current height.
type Listing struct {
	domain.Listing
	Status domain.ListingStatus `json:"status"`
}

type Challenge struct {
	domain.Challenge
	Unclaimed domain.Balance `json:"unclaimed"`
}

type Chain struct {
	Height        domain.Height  `json:"height"`
	Params        domain.Params  `json:"params"`
	TotalIssuance domain.Balance `json:"total_issuance"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
