package strategy

// random.go — randomized trading policy.
//
// Chooses one action per cycle uniformly from the actions currently legal
// for the wallet, with amounts drawn around 10% of the base balance. Used
// by the invariant fuzz harness, so all randomness flows through an
// explicit *rand.Rand so deterministic replays only need the seed.

import (
	"context"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

const randomName = "random"

// RandomConfig configures the random policy.
type RandomConfig struct {
	// TradeChance is the probability of trading at all in a given cycle.
	TradeChance float64
	// MinTradeBonds floors generated amounts above the pool dust threshold.
	MinTradeBonds decimal.Decimal
	// Slippage forwarded to every request; nil disables preview bounds.
	Slippage *decimal.Decimal
	// AllowLiquidity enables ADD/REMOVE_LIQUIDITY and withdrawal redemption.
	AllowLiquidity bool
}

// Random implements ports.Policy with explicit, seedable randomness.
type Random struct {
	rng *rand.Rand
	cfg RandomConfig
}

// NewRandom creates the random policy around the given source.
func NewRandom(rng *rand.Rand, cfg RandomConfig) *Random {
	if cfg.TradeChance <= 0 {
		cfg.TradeChance = 1
	}
	return &Random{rng: rng, cfg: cfg}
}

// Name returns the policy identifier.
func (r *Random) Name() string { return randomName }

// Actions implements ports.Policy.
func (r *Random) Actions(_ context.Context, pool domain.PoolState, wallet domain.Wallet) ([]domain.TradeRequest, error) {
	if r.rng.Float64() > r.cfg.TradeChance {
		return nil, nil
	}
	available := r.availableActions(wallet)
	if len(available) == 0 {
		return nil, nil
	}
	action := available[r.rng.Intn(len(available))]
	req, ok := r.buildRequest(action, pool, wallet)
	if !ok {
		return nil, nil
	}
	return []domain.TradeRequest{req}, nil
}

// PostAction implements ports.Policy.
func (r *Random) PostAction(context.Context, []domain.TradeOutcome) {}

// availableActions lists what the wallet can legally do right now.
func (r *Random) availableActions(wallet domain.Wallet) []domain.ActionType {
	var actions []domain.ActionType
	if wallet.Base.GreaterThan(r.cfg.MinTradeBonds) {
		actions = append(actions, domain.ActionOpenLong, domain.ActionOpenShort)
		if r.cfg.AllowLiquidity {
			actions = append(actions, domain.ActionAddLiquidity)
		}
	}
	if len(wallet.Longs) > 0 {
		actions = append(actions, domain.ActionCloseLong)
	}
	if len(wallet.Shorts) > 0 {
		actions = append(actions, domain.ActionCloseShort)
	}
	if r.cfg.AllowLiquidity && wallet.LPTokens.IsPositive() {
		actions = append(actions, domain.ActionRemoveLiquidity)
	}
	if r.cfg.AllowLiquidity && wallet.WithdrawalShares.IsPositive() {
		actions = append(actions, domain.ActionRedeemWithdrawalShares)
	}
	return actions
}

func (r *Random) buildRequest(action domain.ActionType, pool domain.PoolState, wallet domain.Wallet) (domain.TradeRequest, bool) {
	switch action {
	case domain.ActionOpenLong:
		amount, ok := r.randomAmount(wallet.Base)
		if !ok {
			return domain.TradeRequest{}, false
		}
		return domain.OpenLongTrade(amount, r.cfg.Slippage), true
	case domain.ActionOpenShort:
		amount, ok := r.randomAmount(wallet.Base)
		if !ok {
			return domain.TradeRequest{}, false
		}
		return domain.OpenShortTrade(amount, r.cfg.Slippage), true
	case domain.ActionCloseLong:
		maturity, ok := r.randomMaturity(longMaturities(wallet))
		if !ok {
			return domain.TradeRequest{}, false
		}
		return domain.CloseLongTrade(wallet.Longs[maturity], maturity, r.cfg.Slippage), true
	case domain.ActionCloseShort:
		maturity, ok := r.randomMaturity(shortMaturities(wallet))
		if !ok {
			return domain.TradeRequest{}, false
		}
		return domain.CloseShortTrade(wallet.Shorts[maturity].Balance, maturity, r.cfg.Slippage), true
	case domain.ActionAddLiquidity:
		amount, ok := r.randomAmount(wallet.Base)
		if !ok {
			return domain.TradeRequest{}, false
		}
		return domain.AddLiquidityTrade(amount, decimal.Zero, decimal.Zero), true
	case domain.ActionRemoveLiquidity:
		if !wallet.LPTokens.IsPositive() {
			return domain.TradeRequest{}, false
		}
		return domain.RemoveLiquidityTrade(wallet.LPTokens), true
	case domain.ActionRedeemWithdrawalShares:
		if !wallet.WithdrawalShares.IsPositive() {
			return domain.TradeRequest{}, false
		}
		return domain.RedeemWithdrawalSharesTrade(wallet.WithdrawalShares), true
	default:
		return domain.TradeRequest{}, false
	}
}

// randomAmount draws around 10% of the budget (sd 1%), floored at the dust
// threshold and capped at the budget itself.
func (r *Random) randomAmount(budget decimal.Decimal) (decimal.Decimal, bool) {
	b, _ := budget.Float64()
	drawn := r.rng.NormFloat64()*b*0.01 + b*0.1
	amount := decimal.NewFromFloat(drawn)
	if amount.GreaterThan(budget) {
		amount = budget
	}
	if amount.LessThanOrEqual(r.cfg.MinTradeBonds) {
		return decimal.Zero, false
	}
	return amount, true
}

// randomMaturity picks one maturity uniformly. Keys are sorted first so the
// pick depends only on the seed, not map iteration order.
func (r *Random) randomMaturity(maturities []int64) (int64, bool) {
	if len(maturities) == 0 {
		return 0, false
	}
	return maturities[r.rng.Intn(len(maturities))], true
}

func longMaturities(w domain.Wallet) []int64 {
	out := make([]int64, 0, len(w.Longs))
	for m := range w.Longs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func shortMaturities(w domain.Wallet) []int64 {
	out := make([]int64, 0, len(w.Shorts))
	for m := range w.Shorts {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
