package domain

import "errors"

// Precondition errors. The caller can correct these.
var (
	ErrAlreadyExists         = errors.New("listing already exists")
	ErrNotFound              = errors.New("listing not found")
	ErrDepositTooLow         = errors.New("deposit below minimum")
	ErrAlreadyChallenged     = errors.New("listing already challenged")
	ErrSelfChallenge         = errors.New("owner cannot challenge own listing")
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrChallengeClosed       = errors.New("challenge closed for voting")
	ErrAlreadyVoted          = errors.New("already voted")
	ErrTooEarly              = errors.New("too early")
	ErrAlreadyResolved       = errors.New("challenge already resolved")
	ErrChallengeNotResolved  = errors.New("challenge not resolved")
	ErrDidNotVoteWinningSide = errors.New("did not vote on the winning side")
	ErrAlreadyClaimed        = errors.New("reward already claimed")
	ErrInsufficientSpendable = errors.New("insufficient spendable balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroWeight            = errors.New("vote weight must be positive")
	ErrInvalidChoice         = errors.New("invalid vote choice")
	ErrDataTooLong           = errors.New("listing data too long")
	ErrNotOwner              = errors.New("caller does not own listing")
	ErrNotWhitelisted        = errors.New("listing not whitelisted")
	ErrReservedAccount       = errors.New("account is reserved")
	ErrInvalidCaller         = errors.New("caller identity required")
	ErrAlreadyInitialized    = errors.New("state already initialized")
	ErrNotInitialized        = errors.New("state not initialized")
)

// Invariant errors. Reaching one of these means a defect in the state machine.
var (
	ErrLockUnderflow = errors.New("lock underflow")
	ErrOverflow      = errors.New("balance overflow")
)

// IsInvariant reports whether err wraps an invariant violation.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrLockUnderflow) || errors.Is(err, ErrOverflow)
}

var notFoundErrors = []error{ErrNotFound, ErrChallengeNotFound}

// IsNotFound reports whether err refers to a missing listing or challenge.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var preconditionErrors = []error{
	ErrAlreadyExists, ErrNotFound, ErrDepositTooLow,
	ErrAlreadyChallenged, ErrSelfChallenge, ErrChallengeNotFound,
	ErrChallengeClosed, ErrAlreadyVoted, ErrTooEarly,
	ErrAlreadyResolved, ErrChallengeNotResolved, ErrDidNotVoteWinningSide,
	ErrAlreadyClaimed, ErrInsufficientSpendable, ErrInsufficientAllowance,
	ErrZeroWeight, ErrInvalidChoice, ErrDataTooLong,
	ErrNotOwner, ErrNotWhitelisted, ErrReservedAccount, ErrInvalidCaller,
}

// IsPrecondition reports whether err is a user-correctable rejection.
func IsPrecondition(err error) bool {
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
