package harness_test

import (
	"context"
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/internal/application/dispatch"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/harness"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSim() *harness.SimGateway {
	return harness.NewSimGateway(harness.SimConfig{
		Config: domain.PoolConfig{
			ContractAddress:    "0xpool",
			PositionDuration:   31_536_000,
			CheckpointDuration: 86_400,
			Fees: domain.Fees{
				Curve: dec("0.001"),
				Flat:  dec("0.0001"),
			},
			MinimumTransaction: dec("0.001"),
			InitialSharePrice:  dec("1"),
		},
		ShareReserves:   dec("500000"),
		BondReserves:    dec("1000000"),
		LPTotalSupply:   dec("500000"),
		VaultSharePrice: dec("1"),
		VariableRate:    dec("0.05"),
		StartTime:       1_700_000_000,
	})
}

func TestRoundTrip(t *testing.T) {
	err := harness.CheckRoundTrip(context.Background(), newSim(), dec("1000"), dec("0.000000001"))
	assert.NoError(t, err)
}

func TestPathIndependence(t *testing.T) {
	positions := []domain.TradeRequest{
		domain.OpenLongTrade(dec("1000"), nil),
		domain.OpenShortTrade(dec("800"), nil),
		domain.OpenLongTrade(dec("2500"), nil),
		domain.OpenShortTrade(dec("1200"), nil),
		domain.OpenLongTrade(dec("600"), nil),
	}

	t.Run("al vencimiento", func(t *testing.T) {
		// Liquidación plana: las restas conmutan y los finales son exactos.
		rng := rand.New(rand.NewSource(7))
		err := harness.CheckPathIndependence(context.Background(), newSim(), positions, 10, dec("0.0001"), rng, true)
		assert.NoError(t, err)
	})

	t.Run("dentro del checkpoint", func(t *testing.T) {
		// Cierres por la curva antes del vencimiento: el orden mueve el
		// precio y los finales solo coinciden dentro de la tolerancia.
		rng := rand.New(rand.NewSource(7))
		err := harness.CheckPathIndependence(context.Background(), newSim(), positions, 10, dec("0.0001"), rng, false)
		assert.NoError(t, err)
	})
}

func TestProfitNoop(t *testing.T) {
	err := harness.CheckProfitNoop(context.Background(), newSim(), dec("1000"))
	assert.NoError(t, err)
}

func TestRandomSequenceKeepsInvariants(t *testing.T) {
	seeds := []int64{1, 2, 3}
	for _, seed := range seeds {
		rng := rand.New(rand.NewSource(seed))
		wallet, err := harness.RunRandomSequence(context.Background(), newSim(), rng, harness.SequenceConfig{
			Trades:      60,
			MinBase:     dec("1"),
			MaxBase:     dec("5000"),
			AdvanceMax:  100_000,
			AllowShorts: true,
			AllowLP:     true,
		})
		require.NoError(t, err, "seed %d", seed)
		require.NoError(t, harness.CheckLedgerNonNegative(wallet), "seed %d", seed)
	}
}

func TestSim_PreviewDoesNotMutate(t *testing.T) {
	gw := newSim()
	before := gw.PoolState()

	d := dispatch.New(gw, true)
	signer := harness.NewSimSigner("0xpreview")
	wallet := domain.NewWallet(signer.Address(), dec("10000"))

	// Con preview forzado el dispatch hace la llamada de solo lectura antes
	// del submit; la primera no debe mover el pool.
	_, _, err := d.Dispatch(context.Background(), domain.OpenLongTrade(dec("1000"), nil), wallet, before, signer)
	require.NoError(t, err)

	outputs, err := gw.Preview(context.Background(), mustCall(t, gw, dec("1000")))
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	mid := gw.PoolState()
	outputs2, err := gw.Preview(context.Background(), mustCall(t, gw, dec("1000")))
	require.NoError(t, err)
	after := gw.PoolState()

	assert.True(t, mid.ShareReserves.Equal(after.ShareReserves), "preview movió las reservas")
	assert.True(t, mid.BondReserves.Equal(after.BondReserves))
	assert.Zero(t, outputs[1].(*big.Int).Cmp(outputs2[1].(*big.Int)),
		"dos previews seguidos deben cotizar igual")
}

func TestSim_FailureInjection(t *testing.T) {
	signer := harness.NewSimSigner("0xfault")
	wallet := domain.NewWallet(signer.Address(), dec("10000"))

	t.Run("forced revert surfaces as UnknownBlockError", func(t *testing.T) {
		gw := newSim()
		gw.FailNextSubmit = true
		d := dispatch.New(gw, false)

		_, _, err := d.Dispatch(context.Background(), domain.OpenLongTrade(dec("100"), nil), wallet, gw.PoolState(), signer)
		var ube *domain.UnknownBlockError
		require.ErrorAs(t, err, &ube)
		assert.True(t, ube.Retryable())
	})

	t.Run("duplicate event surfaces as ReceiptDecodeError", func(t *testing.T) {
		gw := newSim()
		gw.ExtraEventNext = true
		d := dispatch.New(gw, false)

		_, _, err := d.Dispatch(context.Background(), domain.OpenLongTrade(dec("100"), nil), wallet, gw.PoolState(), signer)
		var rde *domain.ReceiptDecodeError
		require.ErrorAs(t, err, &rde)
		assert.Equal(t, 2, rde.Matches)
	})

	t.Run("missing event surfaces as ReceiptDecodeError", func(t *testing.T) {
		gw := newSim()
		gw.DropEventNext = true
		d := dispatch.New(gw, false)

		_, _, err := d.Dispatch(context.Background(), domain.OpenLongTrade(dec("100"), nil), wallet, gw.PoolState(), signer)
		var rde *domain.ReceiptDecodeError
		require.ErrorAs(t, err, &rde)
		assert.Equal(t, 0, rde.Matches)
	})
}

func TestSim_AdvanceTimeAccruesVaultSharePrice(t *testing.T) {
	gw := newSim()
	before := gw.PoolState()

	gw.AdvanceTime(31_536_000) // un año al 5%

	after := gw.PoolState()
	assert.True(t, after.VaultSharePrice.Equal(dec("1.05")),
		"un año de interés simple al 5%%: got %s", after.VaultSharePrice)
	assert.Equal(t, before.BlockTime+31_536_000, after.BlockTime)
	assert.Greater(t, after.BlockNumber, before.BlockNumber)
}

func TestSim_BelowMinimumTransactionReverts(t *testing.T) {
	gw := newSim()
	d := dispatch.New(gw, false)
	signer := harness.NewSimSigner("0xdust")
	wallet := domain.NewWallet(signer.Address(), dec("10"))

	_, _, err := d.Dispatch(context.Background(), domain.OpenLongTrade(dec("0.0001"), nil), wallet, gw.PoolState(), signer)
	var ube *domain.UnknownBlockError
	require.ErrorAs(t, err, &ube, "por debajo del mínimo el contrato revierte")
}

func mustCall(t *testing.T, _ *harness.SimGateway, base decimal.Decimal) ports.Call {
	t.Helper()
	return ports.Call{
		Method: "openLong",
		Args:   []any{base.Shift(18).Truncate(0).BigInt(), big.NewInt(0)},
	}
}
