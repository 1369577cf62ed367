package harness

// random.go — randomized trade sequences for invariant runs.
//
// The randomness source is always passed in explicitly so a failing
// sequence can be reproduced from its seed.

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/application/dispatch"
	"github.com/mvaldes-dev/ratebot/internal/domain"
)

// SequenceConfig bounds a randomized run.
type SequenceConfig struct {
	Trades      int
	MaxBase     decimal.Decimal // cap per open/add amount
	MinBase     decimal.Decimal // floor per open/add amount
	AdvanceMax  int64           // max seconds advanced between trades
	AllowShorts bool
	AllowLP     bool
}

// RunRandomSequence drives a single wallet through cfg.Trades randomized
// trades against the gateway, applying deltas only on confirmed success,
// and verifies wallet and pool non-negativity after every step. Returns
// the final wallet for further assertions.
func RunRandomSequence(
	ctx context.Context,
	gw *SimGateway,
	rng *rand.Rand,
	cfg SequenceConfig,
) (domain.Wallet, error) {
	d := dispatch.New(gw, false)
	signer := NewSimSigner("0xrandom")
	wallet := domain.NewWallet(signer.Address(), cfg.MaxBase.Mul(decimal.NewFromInt(int64(cfg.Trades)+1)))

	for i := 0; i < cfg.Trades; i++ {
		if cfg.AdvanceMax > 0 {
			gw.AdvanceTime(rng.Int63n(cfg.AdvanceMax + 1))
		}
		pool := gw.PoolState()
		req, ok := randomRequest(rng, cfg, wallet)
		if !ok {
			continue
		}

		delta, _, err := d.Dispatch(ctx, req, wallet, pool, signer)
		if err != nil {
			// Reverts (slippage, reserve exhaustion) are legitimate
			// outcomes of a random walk; the wallet must stay untouched.
			continue
		}
		next, err := wallet.Apply(delta)
		if err != nil {
			return wallet, fmt.Errorf("harness: step %d apply %s: %w", i, req.Action, err)
		}
		wallet = next

		if err := CheckLedgerNonNegative(wallet); err != nil {
			return wallet, fmt.Errorf("harness: step %d %s: %w", i, req.Action, err)
		}
		if err := CheckPoolNonNegative(gw.PoolState()); err != nil {
			return wallet, fmt.Errorf("harness: step %d %s: %w", i, req.Action, err)
		}
	}
	return wallet, nil
}

// randomRequest picks one action feasible for the current wallet. The
// second return is false when the draw has nothing to do.
func randomRequest(rng *rand.Rand, cfg SequenceConfig, w domain.Wallet) (domain.TradeRequest, bool) {
	amount := randomAmount(rng, cfg.MinBase, cfg.MaxBase)

	var candidates []domain.TradeRequest
	candidates = append(candidates, domain.OpenLongTrade(amount, nil))
	if cfg.AllowShorts {
		candidates = append(candidates, domain.OpenShortTrade(amount, nil))
	}
	if cfg.AllowLP {
		candidates = append(candidates, domain.AddLiquidityTrade(amount, decimal.Zero, decimal.Zero))
	}
	if maturities := sortedKeys(w.Longs); len(maturities) > 0 {
		m := maturities[rng.Intn(len(maturities))]
		candidates = append(candidates, domain.CloseLongTrade(w.Longs[m], m, nil))
	}
	if len(w.Shorts) > 0 {
		maturities := make([]int64, 0, len(w.Shorts))
		for m := range w.Shorts {
			maturities = append(maturities, m)
		}
		sort.Slice(maturities, func(i, j int) bool { return maturities[i] < maturities[j] })
		m := maturities[rng.Intn(len(maturities))]
		candidates = append(candidates, domain.CloseShortTrade(w.Shorts[m].Balance, m, nil))
	}
	if cfg.AllowLP && w.LPTokens.IsPositive() {
		candidates = append(candidates, domain.RemoveLiquidityTrade(w.LPTokens))
	}
	if cfg.AllowLP && w.WithdrawalShares.IsPositive() {
		candidates = append(candidates, domain.RedeemWithdrawalSharesTrade(w.WithdrawalShares))
	}

	if len(candidates) == 0 {
		return domain.TradeRequest{}, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

func randomAmount(rng *rand.Rand, min, max decimal.Decimal) decimal.Decimal {
	span := max.Sub(min)
	if !span.IsPositive() {
		return min
	}
	frac := decimal.NewFromFloat(rng.Float64())
	return min.Add(span.Mul(frac))
}

func sortedKeys(m map[int64]decimal.Decimal) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
