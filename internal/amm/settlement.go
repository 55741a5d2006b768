package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelab/ammd/internal/domain"
)

// SettlementEngine converts positions in resolved markets into collateral.
// Valid resolutions redeem the winning outcome 1:1; invalid resolutions
// refund every position at 1/N of its token amount, so a trader who spread
// collateral across all outcomes recovers roughly what they put in. Claims
// burn the redeemed positions, making a second claim a no-op.
type SettlementEngine struct{}

// NewSettlementEngine returns a settlement engine. It is stateless; all
// state lives in the market it settles.
func NewSettlementEngine() *SettlementEngine { return &SettlementEngine{} }

// EstimatePayout computes what Claim would pay holder right now, without
// mutating anything. Returns zero (and no error) for empty positions.
func (s *SettlementEngine) EstimatePayout(m *Market, holder common.Address) (*big.Int, error) {
	if !m.Resolved() {
		return nil, domain.ErrMarketNotResolved
	}
	return s.payout(m, holder), nil
}

// Claim redeems holder's positions in a resolved market: the payout is drawn
// from pool collateral and the redeemed outcome tokens are burned. A holder
// with nothing to redeem gets ErrNothingToClaim, which callers treat as a
// soft signal rather than a failure.
func (s *SettlementEngine) Claim(m *Market, holder common.Address) (*big.Int, error) {
	if !m.Resolved() {
		return nil, domain.ErrMarketNotResolved
	}

	payout := s.payout(m, holder)
	if payout.Sign() == 0 {
		return new(big.Int), domain.ErrNothingToClaim
	}
	if err := m.pool.PayOut(payout); err != nil {
		return nil, err
	}

	// Burn the redeemed positions so the claim cannot replay. On an invalid
	// resolution every outcome participated in the payout; on a valid one
	// only the winner did, and the losing positions redeem to nothing anyway.
	switch m.resolution.State {
	case domain.ResolvedValid:
		tok := m.OutcomeToken(m.resolution.Winner)
		if err := m.book.Burn(tok, holder, m.Balance(holder, m.resolution.Winner)); err != nil {
			return nil, err
		}
	case domain.ResolvedInvalid:
		for i := range m.outcomes {
			tok := m.OutcomeToken(i)
			if err := m.book.Burn(tok, holder, m.Balance(holder, i)); err != nil {
				return nil, err
			}
		}
	}
	return payout, nil
}

func (s *SettlementEngine) payout(m *Market, holder common.Address) *big.Int {
	switch m.resolution.State {
	case domain.ResolvedValid:
		return m.Balance(holder, m.resolution.Winner)
	case domain.ResolvedInvalid:
		sum := new(big.Int)
		for i := range m.outcomes {
			sum.Add(sum, m.Balance(holder, i))
		}
		return sum.Quo(sum, big.NewInt(int64(len(m.outcomes))))
	default:
		return new(big.Int)
	}
}
