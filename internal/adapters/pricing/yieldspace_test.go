package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/internal/adapters/pricing"
	"github.com/mvaldes-dev/ratebot/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pool(shares, bonds, sharePrice string) domain.PoolState {
	return domain.PoolState{
		Config: domain.PoolConfig{
			PositionDuration:   pricing.YearSeconds,
			CheckpointDuration: 86_400,
			Fees:               domain.Fees{Curve: dec("0.001")},
		},
		ShareReserves:   dec(shares),
		BondReserves:    dec(bonds),
		VaultSharePrice: dec(sharePrice),
	}
}

func TestSpotPriceAndFixedRate(t *testing.T) {
	y := pricing.NewYieldSpace()
	p := pool("500000", "1000000", "1")

	spot, err := y.SpotPrice(p)
	require.NoError(t, err)
	assert.True(t, spot.Equal(dec("0.5")))

	// r = (1−p)/(p·t) con t = 1 año.
	rate, err := y.FixedRate(p)
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("1")))

	// El precio del vault escala el valor base de las shares.
	spot2, err := y.SpotPrice(pool("500000", "1000000", "1.6"))
	require.NoError(t, err)
	assert.True(t, spot2.Equal(dec("0.8")))
}

func TestSpotPrice_RejectsEmptyReserves(t *testing.T) {
	y := pricing.NewYieldSpace()

	_, err := y.SpotPrice(pool("0", "1000000", "1"))
	assert.Error(t, err)

	_, err = y.SpotPrice(pool("500000", "0", "1"))
	assert.Error(t, err)
}

// BondsGivenSharesAndRate es la inversa exacta de FixedRate con las shares
// constantes.
func TestBondsGivenSharesAndRate_Inverts(t *testing.T) {
	y := pricing.NewYieldSpace()
	p := pool("500000", "1000000", "1")

	for _, target := range []string{"0.01", "0.05", "0.10"} {
		bonds, err := y.BondsGivenSharesAndRate(dec(target), p)
		require.NoError(t, err)

		moved := p
		moved.BondReserves = bonds
		back, err := y.FixedRate(moved)
		require.NoError(t, err)

		assert.True(t, back.Sub(dec(target)).Abs().LessThan(dec("0.0000000000000000001")),
			"target %s, got back %s", target, back)
	}
}

func TestShareConversions_AverageExecutionPrice(t *testing.T) {
	y := pricing.NewYieldSpace()
	p := pool("500000", "1000000", "1")

	spot, err := y.SpotPrice(p)
	require.NoError(t, err)

	// Vender bonos al pool ejecuta por debajo del spot; comprarlos, por
	// encima. El precio medio captura el deslizamiento del propio trade.
	out, err := y.SharesOutGivenBondsIn(dec("10000"), p)
	require.NoError(t, err)
	assert.True(t, out.LessThan(dec("10000").Mul(spot)))
	assert.True(t, out.IsPositive())

	in, err := y.SharesInGivenBondsOut(dec("10000"), p)
	require.NoError(t, err)
	assert.True(t, in.GreaterThan(dec("10000").Mul(spot)))

	_, err = y.SharesInGivenBondsOut(dec("1000000"), p)
	assert.Error(t, err, "drenar las reservas de bonos no es cotizable")
}

func TestMaxLong(t *testing.T) {
	y := pricing.NewYieldSpace()
	p := pool("500000", "1000000", "1")

	// Presupuesto pequeño: manda el presupuesto.
	got, err := y.MaxLong(dec("100"), p)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("100")))

	// Presupuesto enorme: manda la capacidad del pool hasta la par.
	got, err = y.MaxLong(dec("99999999"), p)
	require.NoError(t, err)
	assert.True(t, got.LessThan(dec("99999999")))
	assert.True(t, got.IsPositive())

	// Un pool en par o por encima no admite más longs.
	got, err = y.MaxLong(dec("100"), pool("1000000", "1000000", "1"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestMaxShort(t *testing.T) {
	y := pricing.NewYieldSpace()
	p := pool("500000", "1000000", "1")

	small, err := y.MaxShort(dec("10"), p)
	require.NoError(t, err)
	assert.True(t, small.IsPositive())

	capped, err := y.MaxShort(dec("99999999999"), p)
	require.NoError(t, err)
	// Con presupuesto ilimitado acota el 90% de las reservas pagables.
	assert.True(t, capped.LessThan(dec("1000000")))
	assert.True(t, small.LessThan(capped))
}
