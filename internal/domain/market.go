package domain

import (
	"math/big"
	"time"
)

// ResolutionState enumerates the terminal states a market can reach. A market
// is in exactly one of {unresolved, resolved-valid, resolved-invalid}; the
// tagged form makes the illegal combinations of a nullable winner field
// unrepresentable.
type ResolutionState uint8

const (
	Unresolved ResolutionState = iota
	ResolvedValid
	ResolvedInvalid
)

// String returns the wire representation used by the API and the read-model.
func (s ResolutionState) String() string {
	switch s {
	case ResolvedValid:
		return "resolved_valid"
	case ResolvedInvalid:
		return "resolved_invalid"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of a market's one-shot resolution transition.
// Winner is only meaningful when State == ResolvedValid.
type Resolution struct {
	State  ResolutionState
	Winner int
}

// MarketSnapshot is the read-model projection of a market and its pool,
// persisted after every mutating operation and served over the API. Amounts
// are 18-decimal fixed-point base units.
type MarketSnapshot struct {
	ID           string
	Question     string
	Outcomes     []string
	FeeBps       uint32
	EndTime      time.Time
	Resolution   Resolution
	Reserves     []*big.Int
	Prices       []*big.Int
	Collateral   *big.Int
	ProtocolFees *big.Int
	LPSupply     *big.Int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
