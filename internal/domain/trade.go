package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeSide distinguishes buys from sells in the trade log.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is one immutable entry of the append-only trade log. It is produced
// exactly once per executed trade and never mutated; the read-model and the
// archiver are its only consumers.
//
// CollateralAmount is always the gross collateral crossing the pool
// boundary: collateral paid in on buys, collateral drawn out before the fee
// on sells. Fee is the protocol fee withheld from that gross amount, so
// replaying the log reconstructs fee accrual on both sides.
type Trade struct {
	ID               string
	MarketID         string
	Outcome          int
	Side             TradeSide
	CollateralAmount *big.Int
	TokenAmount      *big.Int
	Fee              *big.Int
	Actor            common.Address
	CreatedAt        time.Time
}
