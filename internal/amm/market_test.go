package amm

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/ammd/internal/domain"
)

var trader = common.HexToAddress("0x00000000000000000000000000000000000000e3")

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestMarket(t *testing.T, outcomes ...string) *Market {
	t.Helper()
	if len(outcomes) == 0 {
		outcomes = []string{"yes", "no"}
	}
	m, err := NewMarket(MarketConfig{
		ID:                "mkt-1",
		Question:          "Will it settle?",
		Outcomes:          outcomes,
		EndTime:           t0.Add(24 * time.Hour),
		FeeBps:            100,
		Creator:           creator,
		InitialCollateral: bi(1_000_000),
	}, t0)
	require.NoError(t, err)
	return m
}

func TestNewMarket_Validation(t *testing.T) {
	base := MarketConfig{
		ID:                "mkt-1",
		Question:          "q",
		Outcomes:          []string{"yes", "no"},
		EndTime:           t0.Add(time.Hour),
		Creator:           creator,
		InitialCollateral: bi(1_000_000),
	}

	t.Run("empty id", func(t *testing.T) {
		cfg := base
		cfg.ID = "  "
		_, err := NewMarket(cfg, t0)
		assert.Error(t, err)
	})
	t.Run("one outcome", func(t *testing.T) {
		cfg := base
		cfg.Outcomes = []string{"yes"}
		_, err := NewMarket(cfg, t0)
		assert.ErrorIs(t, err, domain.ErrInvalidOutcomeCount)
	})
	t.Run("blank outcome name", func(t *testing.T) {
		cfg := base
		cfg.Outcomes = []string{"yes", " "}
		_, err := NewMarket(cfg, t0)
		assert.Error(t, err)
	})
	t.Run("end time in the past", func(t *testing.T) {
		cfg := base
		cfg.EndTime = t0.Add(-time.Minute)
		_, err := NewMarket(cfg, t0)
		assert.Error(t, err)
	})
	t.Run("defaults fee", func(t *testing.T) {
		m, err := NewMarket(base, t0)
		require.NoError(t, err)
		snap, err := m.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, DefaultFeeBps, snap.FeeBps)
	})
}

func TestMarket_BuyCreditsPosition(t *testing.T) {
	m := newTestMarket(t)

	out, _, err := m.Buy(trader, 0, bi(50_000), nil, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, out, m.Balance(trader, 0))
	assert.Equal(t, bi(0), m.Balance(trader, 1))
}

func TestMarket_SellRequiresBalance(t *testing.T) {
	m := newTestMarket(t)

	_, _, err := m.Sell(trader, 0, bi(1), nil, t0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	out, _, err := m.Buy(trader, 0, bi(50_000), nil, t0)
	require.NoError(t, err)
	over := new(big.Int).Add(out, bi(1))
	_, _, err = m.Sell(trader, 0, over, nil, t0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, _, err = m.Sell(trader, 0, out, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, bi(0), m.Balance(trader, 0))
}

func TestMarket_ResolveOnce(t *testing.T) {
	m := newTestMarket(t)
	end := m.EndTime()

	err := m.Resolve(domain.Resolution{State: domain.ResolvedValid, Winner: 0}, end)
	require.NoError(t, err)

	err = m.Resolve(domain.Resolution{State: domain.ResolvedValid, Winner: 1}, end)
	assert.ErrorIs(t, err, domain.ErrMarketResolved)
	assert.Equal(t, 0, m.Resolution().Winner)
}

func TestMarket_ResolveBeforeEnd(t *testing.T) {
	m := newTestMarket(t)
	err := m.Resolve(domain.Resolution{State: domain.ResolvedValid, Winner: 0}, t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)
	assert.False(t, m.Resolved())
}

func TestMarket_ResolveWinnerOutOfRange(t *testing.T) {
	m := newTestMarket(t, "a", "b", "c")
	end := m.EndTime()

	err := m.Resolve(domain.Resolution{State: domain.ResolvedValid, Winner: 3}, end)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	err = m.Resolve(domain.Resolution{State: domain.ResolvedValid, Winner: -1}, end)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestMarket_ResolveToUnresolved(t *testing.T) {
	m := newTestMarket(t)
	err := m.Resolve(domain.Resolution{State: domain.Unresolved}, m.EndTime())
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestMarket_TradingHaltsOnResolution(t *testing.T) {
	m := newTestMarket(t)
	require.NoError(t, m.Resolve(domain.Resolution{State: domain.ResolvedInvalid}, m.EndTime()))

	_, _, err := m.Buy(trader, 0, bi(100), nil, m.EndTime())
	assert.ErrorIs(t, err, domain.ErrMarketResolved)
	_, _, err = m.Sell(trader, 0, bi(100), nil, m.EndTime())
	assert.ErrorIs(t, err, domain.ErrMarketResolved)
	_, _, err = m.QuoteBuy(0, bi(100))
	assert.ErrorIs(t, err, domain.ErrMarketResolved)
	_, _, err = m.QuoteSell(0, bi(100))
	assert.ErrorIs(t, err, domain.ErrMarketResolved)
}

func TestMarket_LiquidityAfterResolution(t *testing.T) {
	m := newTestMarket(t)
	require.NoError(t, m.Resolve(domain.Resolution{State: domain.ResolvedInvalid}, m.EndTime()))

	// Adds are frozen, exits stay open.
	_, err := m.AddLiquidity(lpUser, bi(10_000), nil, m.EndTime())
	assert.ErrorIs(t, err, domain.ErrMarketResolved)

	out, err := m.RemoveLiquidity(creator, bi(999_000), nil, m.EndTime())
	require.NoError(t, err)
	assert.True(t, out.Sign() > 0)
}

func TestMarket_OutcomeTokensAreDistinct(t *testing.T) {
	m := newTestMarket(t, "a", "b", "c")
	seen := map[string]bool{}
	for i := 0; i < m.NumOutcomes(); i++ {
		tok := string(m.OutcomeToken(i))
		assert.False(t, seen[tok], "token %s reused", tok)
		seen[tok] = true
	}
}

func TestMarket_Snapshot(t *testing.T) {
	m := newTestMarket(t)
	_, _, err := m.Buy(trader, 0, bi(50_000), nil, t0.Add(time.Minute))
	require.NoError(t, err)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "mkt-1", snap.ID)
	assert.Equal(t, []string{"yes", "no"}, snap.Outcomes)
	assert.Equal(t, domain.Unresolved, snap.Resolution.State)
	assert.Len(t, snap.Reserves, 2)
	assert.Len(t, snap.Prices, 2)
	assert.Equal(t, t0, snap.CreatedAt)
	assert.Equal(t, t0.Add(time.Minute), snap.UpdatedAt)
	// 50000 in at 1% fee: 49500 net lands in collateral, 500 in fees.
	assert.Equal(t, bi(1_049_500), snap.Collateral)
	assert.Equal(t, bi(500), snap.ProtocolFees)
}
