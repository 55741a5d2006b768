package amm

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/fixedpoint"
)

func newTestRouter(at time.Time) *Router {
	return NewRouter(WithClock(func() time.Time { return at }))
}

func TestRouter_BuyProducesTradeRecord(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0.Add(time.Minute))

	trade, err := r.Buy(m, trader, 0, bi(50_000), nil, time.Time{})
	require.NoError(t, err)

	assert.NotEmpty(t, trade.ID)
	assert.Equal(t, "mkt-1", trade.MarketID)
	assert.Equal(t, domain.TradeBuy, trade.Side)
	assert.Equal(t, 0, trade.Outcome)
	assert.Equal(t, bi(50_000), trade.CollateralAmount)
	assert.Equal(t, trade.TokenAmount, m.Balance(trader, 0))
	assert.Equal(t, trader, trade.Actor)
	assert.Equal(t, t0.Add(time.Minute), trade.CreatedAt)
}

func TestRouter_TradeIDsAreUnique(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0)

	a, err := r.Buy(m, trader, 0, bi(10_000), nil, time.Time{})
	require.NoError(t, err)
	b, err := r.Buy(m, trader, 0, bi(10_000), nil, time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRouter_DeadlineExpired(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0)

	past := t0.Add(-time.Second)
	_, err := r.Buy(m, trader, 0, bi(10_000), nil, past)
	assert.ErrorIs(t, err, domain.ErrDeadlineExpired)
	_, err = r.Sell(m, trader, 0, bi(10_000), nil, past)
	assert.ErrorIs(t, err, domain.ErrDeadlineExpired)
	_, err = r.AddLiquidity(m, lpUser, bi(10_000), nil, past)
	assert.ErrorIs(t, err, domain.ErrDeadlineExpired)
	_, err = r.RemoveLiquidity(m, creator, bi(10_000), nil, past)
	assert.ErrorIs(t, err, domain.ErrDeadlineExpired)

	// An exact-now deadline is still valid.
	_, err = r.Buy(m, trader, 0, bi(10_000), nil, t0)
	require.NoError(t, err)
}

func TestRouter_DefaultSlippageFromQuote(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0)

	quoted, _, err := m.QuoteBuy(0, bi(50_000))
	require.NoError(t, err)

	// With a nil minimum the router derives one from the live quote, so an
	// unmoved pool always fills.
	trade, err := r.Buy(m, trader, 0, bi(50_000), nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, quoted, trade.TokenAmount)
}

func TestRouter_ExplicitMinimumWins(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0)

	quoted, _, err := m.QuoteBuy(0, bi(50_000))
	require.NoError(t, err)
	tooMuch := new(big.Int).Add(quoted, bi(1))

	_, err = r.Buy(m, trader, 0, bi(50_000), tooMuch, time.Time{})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestRouter_SellRoundTrip(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0)

	buy, err := r.Buy(m, trader, 0, bi(50_000), nil, time.Time{})
	require.NoError(t, err)
	sell, err := r.Sell(m, trader, 0, buy.TokenAmount, nil, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, domain.TradeSell, sell.Side)
	assert.Equal(t, buy.TokenAmount, sell.TokenAmount)
	assert.True(t, sell.CollateralAmount.Cmp(buy.CollateralAmount) < 0,
		"fees make the round trip lossy")
}

func TestRouter_TradeRecordsAccrueFees(t *testing.T) {
	m := newTestMarket(t)
	r := newTestRouter(t0)

	buy, err := r.Buy(m, trader, 0, bi(50_000), nil, time.Time{})
	require.NoError(t, err)
	sell, err := r.Sell(m, trader, 0, buy.TokenAmount, nil, time.Time{})
	require.NoError(t, err)

	// Both sides record the gross collateral crossing the curve and the fee
	// taken from it, so replaying the log reproduces the fee bucket.
	wantBuyFee, err := fixedpoint.Bps(buy.CollateralAmount, m.pool.FeeBps())
	require.NoError(t, err)
	assert.Equal(t, wantBuyFee, buy.Fee)

	wantSellFee, err := fixedpoint.Bps(sell.CollateralAmount, m.pool.FeeBps())
	require.NoError(t, err)
	assert.Equal(t, wantSellFee, sell.Fee)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	accrued := new(big.Int).Add(buy.Fee, sell.Fee)
	assert.Equal(t, accrued, snap.ProtocolFees)
}

func TestRouter_ResolveAndClaim(t *testing.T) {
	m := newTestMarket(t)
	r := NewRouter(WithClock(func() time.Time { return t0 }))

	buy, err := r.Buy(m, trader, 0, bi(50_000), nil, time.Time{})
	require.NoError(t, err)

	// Resolution uses the router clock, so it fails until the clock passes
	// the market end.
	err = r.Resolve(m, domain.Resolution{State: domain.ResolvedValid, Winner: 0})
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)

	late := newTestRouter(m.EndTime())
	require.NoError(t, late.Resolve(m, domain.Resolution{State: domain.ResolvedValid, Winner: 0}))

	est, err := late.EstimatePayout(m, trader)
	require.NoError(t, err)
	assert.Equal(t, buy.TokenAmount, est)

	paid, err := late.Claim(m, trader)
	require.NoError(t, err)
	assert.Equal(t, buy.TokenAmount, paid)
}

func TestRouter_CustomDefaults(t *testing.T) {
	r := NewRouter(
		WithSlippageBps(0),
		WithDeadline(time.Minute),
		WithClock(func() time.Time { return t0 }),
	)
	assert.Equal(t, t0, r.Now())

	m := newTestMarket(t)
	quoted, _, err := m.QuoteBuy(0, bi(50_000))
	require.NoError(t, err)

	// Zero tolerance means the derived minimum is the quote itself; a calm
	// pool still fills exactly.
	trade, err := r.Buy(m, trader, 0, bi(50_000), nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, quoted, trade.TokenAmount)
}
