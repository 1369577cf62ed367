package bot_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/internal/adapters/notify"
	"github.com/mvaldes-dev/ratebot/internal/adapters/pricing"
	"github.com/mvaldes-dev/ratebot/internal/application/bot"
	"github.com/mvaldes-dev/ratebot/internal/application/dispatch"
	"github.com/mvaldes-dev/ratebot/internal/application/engine"
	"github.com/mvaldes-dev/ratebot/internal/application/solver"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/harness"
	"github.com/mvaldes-dev/ratebot/internal/strategy"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestBot(t *testing.T, out *bytes.Buffer) (*bot.Bot, *engine.Agent) {
	t.Helper()

	gw := harness.NewSimGateway(harness.SimConfig{
		Config: domain.PoolConfig{
			PositionDuration:   pricing.YearSeconds,
			CheckpointDuration: 86_400,
			Fees:               domain.Fees{Curve: dec("0.001"), Flat: dec("0.0001")},
			MinimumTransaction: dec("0.001"),
		},
		ShareReserves: dec("500000"),
		BondReserves:  dec("1000000"),
		LPTotalSupply: dec("500000"),
		VariableRate:  dec("0.05"),
		StartTime:     1_700_000_000,
	})

	oracle := pricing.NewYieldSpace()
	agent := &engine.Agent{
		Signer: harness.NewSimSigner("0xbot"),
		Wallet: domain.NewWallet("0xbot", dec("10000")),
		Policy: strategy.NewArb(oracle, solver.New(oracle), strategy.ArbConfig{
			MaxTradeBase:  dec("10000"),
			MinTradeBonds: dec("0.001"),
			RateThreshold: dec("0.001"),
		}),
	}

	eng := engine.New(dispatch.New(gw, true), nil, engine.Config{})
	return bot.New(gw, eng, notify.NewConsoleWriter(out, false), []*engine.Agent{agent}, bot.Config{}), agent
}

func TestRunOnce_ExecutesAndReports(t *testing.T) {
	var out bytes.Buffer
	b, agent := newTestBot(t, &out)

	// Tasa fija 100% frente a variable 5%: el ciclo debe abrir un long.
	outcomes, err := b.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, domain.StatusSuccess, outcomes[0].Status)
	assert.Equal(t, domain.ActionOpenLong, outcomes[0].Request.Action)
	assert.NotEmpty(t, agent.Wallet.Longs, "la cartera refleja el trade confirmado")
	assert.True(t, agent.Wallet.Base.LessThan(dec("10000")))
	assert.Contains(t, out.String(), "1 trades — ok:1 fail:0", "el reporter recibe el lote")
}

type failingReader struct{}

func (failingReader) ReadPool(context.Context) (domain.PoolState, error) {
	return domain.PoolState{}, errors.New("rpc down")
}

func TestRunOnce_PoolReadFailureSkipsCycle(t *testing.T) {
	var out bytes.Buffer
	eng := engine.New(dispatch.New(nil, false), nil, engine.Config{})
	skip := bot.New(failingReader{}, eng, notify.NewConsoleWriter(&out, false), nil, bot.Config{})

	outcomes, err := skip.RunOnce(context.Background())
	assert.NoError(t, err, "un fallo de lectura no tumba el bucle")
	assert.Empty(t, outcomes)
	assert.Empty(t, out.String(), "sin outcomes no hay reporte")
}
