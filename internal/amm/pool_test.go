package amm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/fixedpoint"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func newTestPool(t *testing.T, outcomes int, initial int64, feeBps uint32) *Pool {
	t.Helper()
	p := NewPool(feeBps)
	require.NoError(t, p.Init(outcomes, bi(initial), nil))
	return p
}

func TestPool_InitValidation(t *testing.T) {
	tests := []struct {
		name     string
		outcomes int
		initial  *big.Int
		wantErr  error
	}{
		{"one outcome", 1, bi(1_000_000), domain.ErrInvalidOutcomeCount},
		{"nine outcomes", 9, bi(1_000_000), domain.ErrInvalidOutcomeCount},
		{"zero collateral", 2, bi(0), domain.ErrZeroAmount},
		{"nil collateral", 2, nil, domain.ErrZeroAmount},
		{"below dead shares", 2, bi(1_000), domain.ErrInsufficientLiquidity},
		{"over max", 2, new(big.Int).Add(fixedpoint.MaxAmount, bi(1)), domain.ErrZeroAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(100)
			assert.ErrorIs(t, p.Init(tt.outcomes, tt.initial, nil), tt.wantErr)
		})
	}
}

func TestPool_InitTwice(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	assert.ErrorIs(t, p.Init(2, bi(1_000_000), nil), domain.ErrAlreadyInitialized)
}

func TestPool_EqualSeedPricesAtOneOverN(t *testing.T) {
	for _, n := range []int{2, 3, 8} {
		p := newTestPool(t, n, 1_000_000, 100)
		prices, err := p.Prices()
		require.NoError(t, err)

		want := new(big.Int).Quo(fixedpoint.Scale, bi(int64(n)))
		for i, px := range prices {
			diff := new(big.Int).Sub(want, px)
			diff.Abs(diff)
			assert.True(t, diff.Cmp(bi(1)) <= 0,
				"n=%d outcome %d: price %s not 1/N", n, i, px)
		}
	}
}

func TestPool_SkewedDistribution(t *testing.T) {
	p := NewPool(0)
	// A smaller reserve means a scarcer, more expensive outcome.
	require.NoError(t, p.Init(2, bi(1_000_000), []*big.Int{bi(500_000), bi(2_000_000)}))
	prices, err := p.Prices()
	require.NoError(t, err)
	assert.True(t, prices[0].Cmp(prices[1]) > 0, "scarce outcome should be pricier")
}

func TestPool_PricesPartitionOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "n")
		p := NewPool(100)
		dist := make([]*big.Int, n)
		for i := range dist {
			dist[i] = bi(rapid.Int64Range(1_001, 1_000_000_000).Draw(t, "reserve"))
		}
		require.NoError(t, p.Init(n, bi(1_000_000_000), dist))

		prices, err := p.Prices()
		require.NoError(t, err)
		sum := new(big.Int)
		for _, px := range prices {
			sum.Add(sum, px)
		}
		gap := new(big.Int).Sub(fixedpoint.Scale, sum)
		assert.True(t, gap.Sign() >= 0, "prices must not exceed the full partition")
		assert.True(t, gap.Cmp(bi(int64(n))) <= 0,
			"floor loss bounded by one unit per outcome, got gap %s", gap)
	})
}

func TestPool_QuoteBuyValidation(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)

	_, _, err := p.QuoteBuy(-1, bi(100))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, _, err = p.QuoteBuy(2, bi(100))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, _, err = p.QuoteBuy(0, bi(0))
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	_, _, err = p.QuoteBuy(0, nil)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	_, _, err = p.QuoteBuy(0, new(big.Int).Add(fixedpoint.MaxAmount, bi(1)))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestPool_QuoteBuyIsDeterministic(t *testing.T) {
	p := newTestPool(t, 3, 1_000_000, 100)
	a, feeA, err := p.QuoteBuy(1, bi(50_000))
	require.NoError(t, err)
	b, feeB, err := p.QuoteBuy(1, bi(50_000))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, feeA, feeB)
}

func TestPool_BuyPaysAtLeastNetCollateral(t *testing.T) {
	// Outcome prices are below one, so a buy must return at least the net
	// collateral in outcome tokens.
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "n")
		p := NewPool(uint32(rapid.IntRange(0, 1_000).Draw(t, "fee")))
		require.NoError(t, p.Init(n, bi(1_000_000_000), nil))

		in := bi(rapid.Int64Range(100, 100_000_000).Draw(t, "in"))
		outcome := rapid.IntRange(0, n-1).Draw(t, "outcome")

		tokensOut, fee, err := p.QuoteBuy(outcome, in)
		require.NoError(t, err)
		net := new(big.Int).Sub(in, fee)
		assert.True(t, tokensOut.Cmp(net) >= 0,
			"tokensOut %s below net collateral %s", tokensOut, net)
	})
}

func TestPool_RoundTripNeverProfits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "n")
		fee := uint32(rapid.IntRange(0, 500).Draw(t, "fee"))
		p := NewPool(fee)
		require.NoError(t, p.Init(n, bi(1_000_000_000), nil))

		in := bi(rapid.Int64Range(1_000, 500_000_000).Draw(t, "in"))
		outcome := rapid.IntRange(0, n-1).Draw(t, "outcome")

		tokensOut, _, err := p.ApplyBuy(outcome, in, nil)
		require.NoError(t, err)
		back, _, err := p.ApplySell(outcome, tokensOut, nil)
		require.NoError(t, err)

		assert.True(t, back.Cmp(in) <= 0,
			"round trip must not profit: in %s out %s", in, back)
	})
}

func TestPool_ConservationUnderTrading(t *testing.T) {
	// collateral + protocolFees always equals deposits minus withdrawals.
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 4).Draw(t, "n")
		p := NewPool(uint32(rapid.IntRange(0, 300).Draw(t, "fee")))
		initial := bi(1_000_000_000)
		require.NoError(t, p.Init(n, initial, nil))

		deposits := new(big.Int).Set(initial)
		withdrawals := new(big.Int)
		held := make([]*big.Int, n)
		for i := range held {
			held[i] = new(big.Int)
		}

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			outcome := rapid.IntRange(0, n-1).Draw(t, "outcome")
			if rapid.Bool().Draw(t, "buy") || held[outcome].Sign() == 0 {
				in := bi(rapid.Int64Range(100, 10_000_000).Draw(t, "in"))
				out, _, err := p.ApplyBuy(outcome, in, nil)
				require.NoError(t, err)
				deposits.Add(deposits, in)
				held[outcome].Add(held[outcome], out)
			} else {
				out, _, err := p.ApplySell(outcome, held[outcome], nil)
				require.NoError(t, err)
				withdrawals.Add(withdrawals, out)
				held[outcome].SetInt64(0)
			}

			pot := new(big.Int).Add(p.Collateral(), p.ProtocolFees())
			want := new(big.Int).Sub(deposits, withdrawals)
			require.Equal(t, want, pot, "conservation broken at step %d", s)
		}
	})
}

func TestPool_ApplyBuySlippage(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	quoted, _, err := p.QuoteBuy(0, bi(10_000))
	require.NoError(t, err)

	// One unit above the quote must be rejected, and rejected atomically.
	before := p.Reserves()
	tooMuch := new(big.Int).Add(quoted, bi(1))
	_, _, err = p.ApplyBuy(0, bi(10_000), tooMuch)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, before, p.Reserves())

	out, _, err := p.ApplyBuy(0, bi(10_000), quoted)
	require.NoError(t, err)
	assert.Equal(t, quoted, out)
}

func TestPool_ApplySellSlippage(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	tokens, _, err := p.ApplyBuy(0, bi(10_000), nil)
	require.NoError(t, err)

	quoted, _, err := p.QuoteSell(0, tokens)
	require.NoError(t, err)
	tooMuch := new(big.Int).Add(quoted, bi(1))
	_, _, err = p.ApplySell(0, tokens, tooMuch)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	out, _, err := p.ApplySell(0, tokens, quoted)
	require.NoError(t, err)
	assert.Equal(t, quoted, out)
}

func TestPool_BuyMovesPriceUp(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	before, err := p.Price(0)
	require.NoError(t, err)

	_, _, err = p.ApplyBuy(0, bi(100_000), nil)
	require.NoError(t, err)

	after, err := p.Price(0)
	require.NoError(t, err)
	assert.True(t, after.Cmp(before) > 0, "buying an outcome must raise its price")
}

func TestPool_ScaleUpPreservesPrices(t *testing.T) {
	p := newTestPool(t, 3, 1_000_000_000_000, 100)
	_, _, err := p.ApplyBuy(1, bi(250_000_000_000), nil)
	require.NoError(t, err)

	before, err := p.Prices()
	require.NoError(t, err)
	require.NoError(t, p.ScaleUp(bi(500_000_000_000)))
	after, err := p.Prices()
	require.NoError(t, err)

	// Floor rounding on each scaled reserve perturbs prices by at most a few
	// parts per reserve magnitude, far below one part in 1e9 of the scale.
	tolerance := new(big.Int).Quo(fixedpoint.Scale, bi(1_000_000_000))
	for i := range before {
		diff := new(big.Int).Sub(before[i], after[i])
		diff.Abs(diff)
		assert.True(t, diff.Cmp(tolerance) <= 0,
			"outcome %d price moved by %s on liquidity add", i, diff)
	}
}

func TestPool_ScaleDownClampsReserves(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	require.NoError(t, p.ScaleDown(bi(999_999)))
	for _, r := range p.Reserves() {
		assert.True(t, r.Sign() > 0, "reserves must stay positive")
	}
	assert.Equal(t, bi(1), p.Collateral())
}

func TestPool_ScaleDownOverdraw(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	assert.ErrorIs(t, p.ScaleDown(bi(1_000_001)), domain.ErrInsufficientLiquidity)
}

func TestPool_PayOut(t *testing.T) {
	p := newTestPool(t, 2, 1_000_000, 100)
	require.NoError(t, p.PayOut(bi(400_000)))
	assert.Equal(t, bi(600_000), p.Collateral())

	assert.ErrorIs(t, p.PayOut(bi(600_001)), domain.ErrInsufficientLiquidity)
	assert.ErrorIs(t, p.PayOut(bi(0)), domain.ErrZeroAmount)
}

func TestPool_SellMoreThanPoolHolds(t *testing.T) {
	// Selling into a pool can never drain another outcome's reserve to zero
	// or pull out more collateral than the pool holds.
	p := newTestPool(t, 2, 1_000_000, 0)
	tokens, _, err := p.ApplyBuy(0, bi(900_000), nil)
	require.NoError(t, err)

	out, _, err := p.ApplySell(0, tokens, nil)
	require.NoError(t, err)
	assert.True(t, out.Cmp(bi(900_000)) <= 0)
	for _, r := range p.Reserves() {
		assert.True(t, r.Sign() > 0)
	}
	assert.True(t, p.Collateral().Sign() > 0)
}
