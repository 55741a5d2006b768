package domain

import "errors"

// Engine error kinds. Every failed operation returns one of these sentinels
// (possibly wrapped) and leaves state unchanged. None of them triggers a
// retry inside the engine; retrying is a caller decision.
var (
	ErrInvalidOutcomeCount   = errors.New("outcome count out of range")
	ErrAlreadyInitialized    = errors.New("pool already initialized")
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInvalidOutcome        = errors.New("outcome index out of range")
	ErrDeadlineExpired       = errors.New("deadline expired")
	ErrSlippageExceeded      = errors.New("slippage tolerance exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientLPTokens  = errors.New("insufficient lp token balance")
	ErrMarketResolved        = errors.New("market already resolved")
	ErrMarketNotResolved     = errors.New("market not resolved")
	ErrMarketNotEnded        = errors.New("market has not reached its end time")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrNothingToClaim        = errors.New("nothing to claim")
)

// Infrastructure errors shared across stores and caches.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
