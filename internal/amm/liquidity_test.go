package amm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/outcomelab/ammd/internal/domain"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	lpUser  = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func newTestLedger(t *testing.T, initial int64) (*Pool, *LiquidityLedger) {
	t.Helper()
	p := NewPool(100)
	require.NoError(t, p.Init(2, bi(initial), nil))
	l := NewLiquidityLedger(p, nil)
	_, err := l.Bootstrap(creator, bi(initial))
	require.NoError(t, err)
	return p, l
}

func TestLiquidityLedger_Bootstrap(t *testing.T) {
	_, l := newTestLedger(t, 1_000_000)

	// The creator's mint is reduced by the locked dead shares.
	assert.Equal(t, bi(999_000), l.BalanceOf(creator))
	assert.Equal(t, bi(1_000), l.BalanceOf(deadShareHolder))
	assert.Equal(t, bi(1_000_000), l.TotalSupply())
}

func TestLiquidityLedger_BootstrapTwice(t *testing.T) {
	_, l := newTestLedger(t, 1_000_000)
	_, err := l.Bootstrap(creator, bi(1_000_000))
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestLiquidityLedger_BootstrapBelowFloor(t *testing.T) {
	p := NewPool(100)
	require.NoError(t, p.Init(2, bi(1_000_000), nil))
	l := NewLiquidityLedger(p, nil)
	_, err := l.Bootstrap(creator, bi(1_000))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestLiquidityLedger_AddMintsProRata(t *testing.T) {
	p, l := newTestLedger(t, 1_000_000)

	// Doubling the pool value doubles the supply.
	minted, err := l.Add(lpUser, bi(1_000_000), nil)
	require.NoError(t, err)
	assert.Equal(t, bi(1_000_000), minted)
	assert.Equal(t, bi(2_000_000), l.TotalSupply())
	assert.Equal(t, bi(2_000_000), p.Collateral())
}

func TestLiquidityLedger_AddZero(t *testing.T) {
	_, l := newTestLedger(t, 1_000_000)
	_, err := l.Add(lpUser, bi(0), nil)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = l.Add(lpUser, nil, nil)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestLiquidityLedger_AddSlippage(t *testing.T) {
	_, l := newTestLedger(t, 1_000_000)
	_, err := l.Add(lpUser, bi(500_000), bi(500_001))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	minted, err := l.Add(lpUser, bi(500_000), bi(500_000))
	require.NoError(t, err)
	assert.Equal(t, bi(500_000), minted)
}

func TestLiquidityLedger_RemoveProportional(t *testing.T) {
	p, l := newTestLedger(t, 1_000_000)
	minted, err := l.Add(lpUser, bi(500_000), nil)
	require.NoError(t, err)

	out, err := l.Remove(lpUser, minted, nil)
	require.NoError(t, err)
	// Fee-free round trip: the LP gets back what they put in, modulo floor.
	assert.True(t, out.Cmp(bi(500_000)) <= 0)
	assert.True(t, out.Cmp(bi(499_999)) >= 0)
	assert.Equal(t, bi(0), l.BalanceOf(lpUser))
	assert.True(t, p.Collateral().Cmp(bi(1_000_000)) >= 0)
}

func TestLiquidityLedger_RemoveMoreThanHeld(t *testing.T) {
	_, l := newTestLedger(t, 1_000_000)
	_, err := l.Remove(lpUser, bi(1), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientLPTokens)

	_, err = l.Remove(creator, bi(999_001), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientLPTokens)
}

func TestLiquidityLedger_DeadSharesAreUnredeemable(t *testing.T) {
	p, l := newTestLedger(t, 1_000_000)

	// Even after the creator fully exits, the dead shares keep the supply
	// and a sliver of collateral in the pool.
	out, err := l.Remove(creator, bi(999_000), nil)
	require.NoError(t, err)
	assert.True(t, out.Cmp(bi(999_000)) <= 0)
	assert.Equal(t, bi(1_000), l.TotalSupply())
	assert.True(t, p.Collateral().Sign() > 0)
}

func TestLiquidityLedger_RemoveReservesObligations(t *testing.T) {
	p := NewPool(0)
	require.NoError(t, p.Init(2, bi(1_000_000), nil))
	l := NewLiquidityLedger(p, func() *big.Int { return bi(400_000) })
	_, err := l.Bootstrap(creator, bi(1_000_000))
	require.NoError(t, err)

	// Shares redeem against collateral net of the reserved amount:
	// 999000 * (1000000 - 400000) / 1000000.
	out, err := l.Remove(creator, bi(999_000), nil)
	require.NoError(t, err)
	assert.Equal(t, bi(599_400), out)
	assert.True(t, p.Collateral().Cmp(bi(400_000)) >= 0,
		"collateral %s dipped below the reserved amount", p.Collateral())
}

func TestLiquidityLedger_RemoveBlockedWhenFullyObligated(t *testing.T) {
	p := NewPool(0)
	require.NoError(t, p.Init(2, bi(1_000_000), nil))
	l := NewLiquidityLedger(p, p.Collateral)
	_, err := l.Bootstrap(creator, bi(1_000_000))
	require.NoError(t, err)

	_, err = l.Remove(creator, bi(999_000), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	// The failed exit burns nothing.
	assert.Equal(t, bi(999_000), l.BalanceOf(creator))
	assert.Equal(t, bi(1_000_000), p.Collateral())
}

func TestLiquidityLedger_ValueAccruesFromTrades(t *testing.T) {
	p, l := newTestLedger(t, 1_000_000)

	// A buy grows pool value, so the same deposit mints fewer shares than a
	// value-for-value add would.
	_, _, err := p.ApplyBuy(0, bi(500_000), nil)
	require.NoError(t, err)

	minted, err := l.Add(lpUser, bi(1_000_000), nil)
	require.NoError(t, err)
	assert.True(t, minted.Cmp(bi(1_000_000)) < 0,
		"minted %s should be below deposit against a grown pool", minted)
}

func TestLiquidityLedger_ExitNeverExceedsShare(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(10_000, 1_000_000_000).Draw(t, "initial")
		p := NewPool(uint32(rapid.IntRange(0, 300).Draw(t, "fee")))
		require.NoError(t, p.Init(2, bi(initial), nil))
		l := NewLiquidityLedger(p, nil)
		_, err := l.Bootstrap(creator, bi(initial))
		require.NoError(t, err)

		deposit := rapid.Int64Range(1_000, 1_000_000_000).Draw(t, "deposit")
		minted, err := l.Add(lpUser, bi(deposit), nil)
		if err != nil {
			// Dust deposits that floor to zero shares are rejected.
			assert.ErrorIs(t, err, domain.ErrZeroAmount)
			return
		}

		out, err := l.Remove(lpUser, minted, nil)
		require.NoError(t, err)
		assert.True(t, out.Cmp(bi(deposit)) <= 0,
			"fee-free exit %s must not exceed deposit %s", out, deposit)
	})
}
