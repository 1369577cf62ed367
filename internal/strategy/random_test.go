package strategy_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/strategy"
)

func randomPolicy(seed int64, cfg strategy.RandomConfig) *strategy.Random {
	if cfg.MinTradeBonds.IsZero() {
		cfg.MinTradeBonds = dec("0.001")
	}
	return strategy.NewRandom(rand.New(rand.NewSource(seed)), cfg)
}

func TestRandom_DeterministicForSeed(t *testing.T) {
	pool := arbPool("1000000", "0.05")
	wallet := domain.NewWallet("0xa1", dec("1000"))

	a, err := randomPolicy(7, strategy.RandomConfig{}).Actions(context.Background(), pool, wallet)
	require.NoError(t, err)
	b, err := randomPolicy(7, strategy.RandomConfig{}).Actions(context.Background(), pool, wallet)
	require.NoError(t, err)

	// Misma semilla, mismo trade: el harness depende de esto para reproducir.
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].Action, b[0].Action)
	assert.True(t, a[0].Amount.Equal(b[0].Amount))
}

func TestRandom_EmptyWalletDoesNothing(t *testing.T) {
	pool := arbPool("1000000", "0.05")
	wallet := domain.NewWallet("0xa1", decimal.Zero)

	for seed := int64(1); seed <= 5; seed++ {
		actions, err := randomPolicy(seed, strategy.RandomConfig{}).Actions(context.Background(), pool, wallet)
		require.NoError(t, err)
		assert.Empty(t, actions, "sin base ni posiciones no hay acción legal")
	}
}

func TestRandom_AmountsStayWithinBudget(t *testing.T) {
	pool := arbPool("1000000", "0.05")
	wallet := domain.NewWallet("0xa1", dec("500"))
	policy := randomPolicy(42, strategy.RandomConfig{})

	for i := 0; i < 50; i++ {
		actions, err := policy.Actions(context.Background(), pool, wallet)
		require.NoError(t, err)
		for _, req := range actions {
			assert.True(t, req.Amount.IsPositive())
			assert.True(t, req.Amount.LessThanOrEqual(wallet.Base),
				"iteración %d: %s excede el presupuesto", i, req.Amount)
		}
	}
}

func TestRandom_ClosesUseFullPositionAndRealMaturity(t *testing.T) {
	pool := arbPool("1000000", "0.05")
	// Solo posiciones, sin base: toda acción posible es un cierre.
	wallet := domain.NewWallet("0xa1", decimal.Zero)
	wallet.Longs[1_710_000_000] = dec("25")
	wallet.Shorts[1_720_000_000] = domain.Short{Balance: dec("40"), OpenVaultSharePrice: dec("1")}

	policy := randomPolicy(3, strategy.RandomConfig{})
	sawClose := false
	for i := 0; i < 20; i++ {
		actions, err := policy.Actions(context.Background(), pool, wallet)
		require.NoError(t, err)
		for _, req := range actions {
			sawClose = true
			switch req.Action {
			case domain.ActionCloseLong:
				assert.Equal(t, int64(1_710_000_000), req.MaturityTime)
				assert.True(t, req.Amount.Equal(dec("25")))
			case domain.ActionCloseShort:
				assert.Equal(t, int64(1_720_000_000), req.MaturityTime)
				assert.True(t, req.Amount.Equal(dec("40")))
			default:
				t.Fatalf("acción inesperada sin base disponible: %s", req.Action)
			}
		}
	}
	assert.True(t, sawClose)
}

func TestRandom_LiquidityActionsGated(t *testing.T) {
	pool := arbPool("1000000", "0.05")
	wallet := domain.NewWallet("0xa1", decimal.Zero)
	wallet.LPTokens = dec("100")
	wallet.WithdrawalShares = dec("10")

	// Sin AllowLiquidity las tenencias de LP no generan acción alguna.
	actions, err := randomPolicy(9, strategy.RandomConfig{}).Actions(context.Background(), pool, wallet)
	require.NoError(t, err)
	assert.Empty(t, actions)

	policy := randomPolicy(9, strategy.RandomConfig{AllowLiquidity: true})
	seen := map[domain.ActionType]bool{}
	for i := 0; i < 30; i++ {
		actions, err := policy.Actions(context.Background(), pool, wallet)
		require.NoError(t, err)
		for _, req := range actions {
			seen[req.Action] = true
			switch req.Action {
			case domain.ActionRemoveLiquidity:
				assert.True(t, req.Amount.Equal(dec("100")))
			case domain.ActionRedeemWithdrawalShares:
				assert.True(t, req.Amount.Equal(dec("10")))
			default:
				t.Fatalf("acción inesperada: %s", req.Action)
			}
		}
	}
	assert.True(t, seen[domain.ActionRemoveLiquidity])
	assert.True(t, seen[domain.ActionRedeemWithdrawalShares])
}

func TestRandom_TradeChanceZeroMeansAlwaysTrade(t *testing.T) {
	// TradeChance ≤ 0 se normaliza a 1 en el constructor.
	pool := arbPool("1000000", "0.05")
	wallet := domain.NewWallet("0xa1", dec("1000"))

	policy := randomPolicy(11, strategy.RandomConfig{TradeChance: 0})
	actions, err := policy.Actions(context.Background(), pool, wallet)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}
