package strategy

// arb.go — fixed-rate arbitrage policy.
//
// Trades the pool's fixed rate toward the variable rate of the backing
// vault. The reserve-convergence solver tells us how many bonds the pool
// must gain or lose; we first unwind opposing positions (their curve-traded
// portion counts toward the gap), then open a fresh long or short for the
// remainder, bounded by the oracle's max-trade estimates and our budget.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/application/solver"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

const arbName = "fixed_rate_arb"

// blockInterval approximates the seconds until our trade lands; the curve
// portion of a position is measured from that point.
const blockInterval = 12

// ArbConfig configures the arbitrage policy.
type ArbConfig struct {
	// MaxTradeBase caps the base spent per cycle.
	MaxTradeBase decimal.Decimal
	// MinTradeBonds is the dust threshold below which no trade is issued.
	MinTradeBonds decimal.Decimal
	// RateThreshold is the minimum |fixed − variable| gap worth trading.
	RateThreshold decimal.Decimal
	// Slippage is forwarded to every generated trade request. Nil disables
	// preview-derived bounds.
	Slippage *decimal.Decimal
}

// Arb implements ports.Policy.
type Arb struct {
	oracle ports.PricingOracle
	solver *solver.Solver
	cfg    ArbConfig
}

// NewArb creates the fixed-rate arbitrage policy.
func NewArb(oracle ports.PricingOracle, s *solver.Solver, cfg ArbConfig) *Arb {
	return &Arb{oracle: oracle, solver: s, cfg: cfg}
}

// Name returns the policy identifier.
func (a *Arb) Name() string { return arbName }

// Actions implements ports.Policy.
func (a *Arb) Actions(_ context.Context, pool domain.PoolState, wallet domain.Wallet) ([]domain.TradeRequest, error) {
	fixed, err := a.oracle.FixedRate(pool)
	if err != nil {
		return nil, fmt.Errorf("arb: fixed rate: %w", err)
	}
	gap := fixed.Sub(pool.VariableRate)
	if gap.Abs().LessThanOrEqual(a.cfg.RateThreshold) {
		return nil, nil
	}
	if gap.IsPositive() {
		return a.arbFixedRateDown(pool, wallet)
	}
	return a.arbFixedRateUp(pool, wallet)
}

// PostAction implements ports.Policy. The arb policy is stateless between
// cycles; outcomes are only logged.
func (a *Arb) PostAction(_ context.Context, outcomes []domain.TradeOutcome) {
	for _, o := range outcomes {
		if o.Status == domain.StatusFail {
			slog.Warn("arb: trade failed", "action", o.Request.Action.String(), "err", o.Err)
		}
	}
}

// arbFixedRateDown lowers the fixed rate to the variable rate: reduce open
// shorts first, then open a long for the remaining bond gap.
func (a *Arb) arbFixedRateDown(pool domain.PoolState, wallet domain.Wallet) ([]domain.TradeRequest, error) {
	res, err := a.solver.Solve(pool.VariableRate, pool, a.cfg.MinTradeBonds)
	if err != nil {
		return nil, fmt.Errorf("arb: solve down: %w", err)
	}
	if !res.Converged {
		slog.Info("arb: solver did not converge, trading on best estimate",
			"iterations", res.Iterations, "predicted", res.PredictedRate.String())
	}
	// The solver reports the pool-side delta; our trades are the negation.
	bondsNeeded := res.DeltaBonds.Neg()

	var actions []domain.TradeRequest
	// Sorted maturities: the emitted sequence must not depend on map order,
	// bondsNeeded depletes as the loop progresses.
	for _, maturity := range shortMaturities(wallet) {
		short := wallet.Shorts[maturity]
		portion := curvePortion(maturity, pool)
		if !portion.IsPositive() {
			continue
		}
		maxBase, err := a.oracle.MaxLong(a.cfg.MaxTradeBase, pool)
		if err != nil {
			return nil, fmt.Errorf("arb: max long: %w", err)
		}
		spot, err := a.oracle.SpotPrice(pool)
		if err != nil {
			return nil, fmt.Errorf("arb: spot price: %w", err)
		}
		reduce := decimal.Min(short.Balance, bondsNeeded.Div(portion), maxBase.Div(spot))
		if reduce.GreaterThan(a.cfg.MinTradeBonds) {
			actions = append(actions, domain.CloseShortTrade(reduce, maturity, a.cfg.Slippage))
			bondsNeeded = bondsNeeded.Sub(reduce.Mul(portion))
		}
	}

	if a.cfg.MaxTradeBase.GreaterThanOrEqual(a.cfg.MinTradeBonds) && bondsNeeded.GreaterThan(a.cfg.MinTradeBonds) {
		sharesNeeded, err := a.oracle.SharesInGivenBondsOut(bondsNeeded, pool)
		if err != nil {
			return nil, fmt.Errorf("arb: shares for long: %w", err)
		}
		maxBase, err := a.oracle.MaxLong(a.cfg.MaxTradeBase, pool)
		if err != nil {
			return nil, fmt.Errorf("arb: max long: %w", err)
		}
		amount := decimal.Min(
			sharesNeeded.Mul(pool.VaultSharePrice),
			maxBase,
			a.cfg.MaxTradeBase,
			wallet.Base,
		)
		if amount.IsPositive() {
			actions = append(actions, domain.OpenLongTrade(amount, a.cfg.Slippage))
		}
	}
	return actions, nil
}

// arbFixedRateUp raises the fixed rate to the variable rate: reduce open
// longs first, then open a short for the remaining bond gap.
func (a *Arb) arbFixedRateUp(pool domain.PoolState, wallet domain.Wallet) ([]domain.TradeRequest, error) {
	res, err := a.solver.Solve(pool.VariableRate, pool, a.cfg.MinTradeBonds)
	if err != nil {
		return nil, fmt.Errorf("arb: solve up: %w", err)
	}
	bondsNeeded := res.DeltaBonds

	var actions []domain.TradeRequest
	for _, maturity := range longMaturities(wallet) {
		long := wallet.Longs[maturity]
		portion := curvePortion(maturity, pool)
		if !portion.IsPositive() {
			continue
		}
		maxShort, err := a.oracle.MaxShort(a.cfg.MaxTradeBase, pool)
		if err != nil {
			return nil, fmt.Errorf("arb: max short: %w", err)
		}
		reduce := decimal.Min(long, bondsNeeded.Div(portion), maxShort)
		if reduce.GreaterThan(a.cfg.MinTradeBonds) {
			actions = append(actions, domain.CloseLongTrade(reduce, maturity, a.cfg.Slippage))
			bondsNeeded = bondsNeeded.Sub(reduce.Mul(portion))
		}
	}

	if a.cfg.MaxTradeBase.GreaterThanOrEqual(a.cfg.MinTradeBonds) && bondsNeeded.GreaterThan(a.cfg.MinTradeBonds) {
		maxShort, err := a.oracle.MaxShort(a.cfg.MaxTradeBase, pool)
		if err != nil {
			return nil, fmt.Errorf("arb: max short: %w", err)
		}
		amount := decimal.Min(bondsNeeded, maxShort)
		if amount.IsPositive() {
			actions = append(actions, domain.OpenShortTrade(amount, a.cfg.Slippage))
		}
	}
	return actions, nil
}

// curvePortion is the fraction of a position still trading on the curve:
// time to maturity (as of the next block) over the position duration.
// Matured positions have no curve exposure and return zero.
func curvePortion(maturity int64, pool domain.PoolState) decimal.Decimal {
	remaining := maturity - pool.BlockTime + blockInterval
	if remaining <= 0 || pool.Config.PositionDuration <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(remaining).Div(decimal.NewFromInt(pool.Config.PositionDuration))
}
