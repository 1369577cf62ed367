package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApply_BasicCredit(t *testing.T) {
	w := domain.NewWallet("0xabc", dec("100"))

	out, err := w.Apply(domain.WalletDelta{
		Base:  dec("-40"),
		Longs: map[int64]decimal.Decimal{1000: dec("45")},
	})
	require.NoError(t, err)

	assert.True(t, out.Base.Equal(dec("60")))
	assert.True(t, out.Longs[1000].Equal(dec("45")))
	// La original queda intacta.
	assert.True(t, w.Base.Equal(dec("100")))
	assert.Empty(t, w.Longs)
}

func TestApply_UnderflowLeavesWalletUntouched(t *testing.T) {
	w := domain.NewWallet("0xabc", dec("10"))
	w.Longs[500] = dec("3")

	cases := []struct {
		name  string
		delta domain.WalletDelta
		field string
	}{
		{"base", domain.WalletDelta{Base: dec("-10.000000000000000001")}, "base"},
		{"longs", domain.WalletDelta{Longs: map[int64]decimal.Decimal{500: dec("-4")}}, "longs"},
		{"shorts", domain.WalletDelta{Shorts: map[int64]domain.ShortDelta{7: {Balance: dec("-1")}}}, "shorts"},
		{"lp", domain.WalletDelta{LPTokens: dec("-0.5")}, "lp_tokens"},
		{"withdrawal", domain.WalletDelta{WithdrawalShares: dec("-2")}, "withdrawal_shares"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := w.Apply(tc.delta)

			var underflow *domain.LedgerUnderflowError
			require.ErrorAs(t, err, &underflow)
			assert.Equal(t, tc.field, underflow.Field)

			// Nunca se aplica parcialmente.
			assert.True(t, out.Base.Equal(w.Base))
			assert.Equal(t, len(w.Longs), len(out.Longs))
			assert.True(t, out.Longs[500].Equal(dec("3")))
		})
	}
}

func TestApply_ZeroEntriesAreRemoved(t *testing.T) {
	w := domain.NewWallet("0xabc", dec("0"))
	w.Longs[100] = dec("5")
	w.Shorts[200] = domain.Short{Balance: dec("2"), OpenVaultSharePrice: dec("1.1")}

	out, err := w.Apply(domain.WalletDelta{
		Longs:  map[int64]decimal.Decimal{100: dec("-5")},
		Shorts: map[int64]domain.ShortDelta{200: {Balance: dec("-2")}},
	})
	require.NoError(t, err)

	_, hasLong := out.Longs[100]
	_, hasShort := out.Shorts[200]
	assert.False(t, hasLong, "zero long entry must be deleted, not kept at 0")
	assert.False(t, hasShort, "zero short entry must be deleted, not kept at 0")
	assert.False(t, out.HasPositions())
}

func TestApply_ShortOpenPriceBlending(t *testing.T) {
	w := domain.NewWallet("0xabc", dec("0"))

	// Primer short a precio 1.0.
	w, err := w.Apply(domain.WalletDelta{
		Shorts: map[int64]domain.ShortDelta{900: {Balance: dec("10"), OpenVaultSharePrice: dec("1.0")}},
	})
	require.NoError(t, err)

	// Segundo short al mismo vencimiento a precio 1.5: media ponderada.
	w, err = w.Apply(domain.WalletDelta{
		Shorts: map[int64]domain.ShortDelta{900: {Balance: dec("30"), OpenVaultSharePrice: dec("1.5")}},
	})
	require.NoError(t, err)
	assert.True(t, w.Shorts[900].OpenVaultSharePrice.Equal(dec("1.375")),
		"blend: (10×1.0 + 30×1.5)/40 = 1.375, got %s", w.Shorts[900].OpenVaultSharePrice)

	// Reducir el balance no toca el precio de apertura.
	w, err = w.Apply(domain.WalletDelta{
		Shorts: map[int64]domain.ShortDelta{900: {Balance: dec("-25"), OpenVaultSharePrice: dec("9.9")}},
	})
	require.NoError(t, err)
	assert.True(t, w.Shorts[900].Balance.Equal(dec("15")))
	assert.True(t, w.Shorts[900].OpenVaultSharePrice.Equal(dec("1.375")))
}

// Propiedad: tras cualquier secuencia de deltas, o bien Apply falla con
// LedgerUnderflow y la wallet no cambia, o bien todos los campos quedan ≥ 0.
func TestApply_NonNegativityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := domain.NewWallet("0xprop", decimal.NewFromInt(rapid.Int64Range(0, 1000).Draw(t, "base")))

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			maturity := rapid.Int64Range(1, 3).Draw(t, "maturity")
			delta := domain.WalletDelta{
				Base:             decimal.New(rapid.Int64Range(-500, 500).Draw(t, "dbase"), -2),
				LPTokens:         decimal.New(rapid.Int64Range(-100, 100).Draw(t, "dlp"), -2),
				WithdrawalShares: decimal.New(rapid.Int64Range(-100, 100).Draw(t, "dws"), -2),
				Longs: map[int64]decimal.Decimal{
					maturity: decimal.New(rapid.Int64Range(-300, 300).Draw(t, "dlong"), -2),
				},
				Shorts: map[int64]domain.ShortDelta{
					maturity: {
						Balance:             decimal.New(rapid.Int64Range(-300, 300).Draw(t, "dshort"), -2),
						OpenVaultSharePrice: decimal.New(rapid.Int64Range(90, 200).Draw(t, "price"), -2),
					},
				},
			}

			before := w.Clone()
			next, err := w.Apply(delta)
			if err != nil {
				var underflow *domain.LedgerUnderflowError
				require.ErrorAs(t, err, &underflow)
				// Sin aplicación parcial.
				require.True(t, next.Base.Equal(before.Base))
				require.Equal(t, len(before.Longs), len(next.Longs))
				require.Equal(t, len(before.Shorts), len(next.Shorts))
				continue
			}
			w = next

			require.False(t, w.Base.IsNegative())
			require.False(t, w.LPTokens.IsNegative())
			require.False(t, w.WithdrawalShares.IsNegative())
			for m, bonds := range w.Longs {
				require.False(t, bonds.IsNegative(), "long at %d", m)
				require.False(t, bonds.IsZero(), "zero long entry at %d must not persist", m)
			}
			for m, short := range w.Shorts {
				require.False(t, short.Balance.IsNegative(), "short at %d", m)
				require.False(t, short.Balance.IsZero(), "zero short entry at %d must not persist", m)
			}
		}
	})
}
