package solver

// solver.go — reserve-convergence solver.
//
// Given a target fixed rate, computes the (deltaShares, deltaBonds) the pool
// must absorb to realize it. Works by iterative refinement on a scratch copy
// of the pool state:
//
//  1. Ask the oracle for the bond reserves that hit the target rate with
//     shares held constant, and take only half the gap as the first guess:
//     a real trade moves bonds and shares in matched value, so the naive
//     bond gap double-counts. The divisor doubles until the implied share
//     reserves stay non-negative.
//  2. Measure how far the guess overshot or undershot the target and
//     rescale the bond delta by that ratio (skipped on zero denominators).
//  3. Fold the rescaled step into the scratch state and repeat until the
//     predicted rate is within Tolerance of the target or MaxIter is hit.
//
// Exhausting MaxIter is not a failure: the best estimate is returned with
// Converged=false and the caller re-checks the residual against its own
// risk tolerance.

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

const (
	// MaxIter bounds the outer refinement loop.
	MaxIter = 50
)

// Tolerance is the absolute bound on |predictedRate − targetRate|.
var Tolerance = decimal.New(1, -18)

var two = decimal.NewFromInt(2)

// Result is the solver output. Deltas are relative to the original (not
// scratch) reserves; positive bonds means the pool gains bonds.
type Result struct {
	DeltaShares   decimal.Decimal
	DeltaBonds    decimal.Decimal
	PredictedRate decimal.Decimal
	Iterations    int
	Converged     bool
}

// Solver computes reserve deltas for a target fixed rate.
type Solver struct {
	oracle ports.PricingOracle
}

// New returns a solver backed by the given pricing oracle.
func New(oracle ports.PricingOracle) *Solver {
	return &Solver{oracle: oracle}
}

// Solve returns the cumulative (shares, bonds) delta that moves the pool's
// fixed rate to targetRate. Bond deltas smaller than minTxBonds are treated
// as zero so the result never implies a dust-sized trade.
func (s *Solver) Solve(targetRate decimal.Decimal, pool domain.PoolState, minTxBonds decimal.Decimal) (Result, error) {
	scratch := pool // value copy; the authoritative snapshot is never touched
	predicted := decimal.Zero

	var iter int
	for predicted.Sub(targetRate).Abs().GreaterThan(Tolerance) && iter < MaxIter {
		iter++

		latest, err := s.oracle.FixedRate(scratch)
		if err != nil {
			return Result{}, fmt.Errorf("solver: rate at iteration %d: %w", iter, err)
		}

		bondsNeeded, sharesNeeded, err := s.deltaReservesForTargetRate(targetRate, scratch, minTxBonds)
		if err != nil {
			return Result{}, err
		}

		// Predict the rate a step of this size would land on, then rescale
		// the guess by how far it over/undershot.
		predicted, err = s.oracle.FixedRate(applyStep(scratch, bondsNeeded, sharesNeeded))
		if err != nil {
			return Result{}, fmt.Errorf("solver: predicted rate at iteration %d: %w", iter, err)
		}
		denom := targetRate.Sub(latest)
		if !denom.IsZero() {
			ratio := predicted.Sub(latest).Div(denom)
			if !ratio.IsZero() {
				bondsNeeded = bondsNeeded.Div(ratio)
			}
		}

		sharesToPool, err := s.sharesNeededForBonds(bondsNeeded, scratch, minTxBonds)
		if err != nil {
			return Result{}, err
		}
		scratch = applyStep(scratch, bondsNeeded, sharesToPool)

		predicted, err = s.oracle.FixedRate(scratch)
		if err != nil {
			return Result{}, fmt.Errorf("solver: rate after iteration %d: %w", iter, err)
		}

		slog.Debug("solver: iteration",
			"iter", iter,
			"predicted", predicted.String(),
			"residual", predicted.Sub(targetRate).Abs().String(),
		)
	}

	return Result{
		DeltaShares:   scratch.ShareReserves.Sub(pool.ShareReserves),
		DeltaBonds:    scratch.BondReserves.Sub(pool.BondReserves),
		PredictedRate: predicted,
		Iterations:    iter,
		Converged:     predicted.Sub(targetRate).Abs().LessThanOrEqual(Tolerance),
	}, nil
}

// deltaReservesForTargetRate computes the first-guess bond delta toward the
// target rate, holding shares constant, halved because the matching share
// flow moves the price from the other side. The divisor doubles until the
// implied share reserves stay non-negative; the deltas shrink toward zero
// as the divisor grows, so the loop terminates.
func (s *Solver) deltaReservesForTargetRate(
	targetRate decimal.Decimal,
	scratch domain.PoolState,
	minTxBonds decimal.Decimal,
) (bonds, shares decimal.Decimal, err error) {
	targetBonds, err := s.oracle.BondsGivenSharesAndRate(targetRate, scratch)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("solver: target bonds: %w", err)
	}

	divisor := two
	for {
		bonds = targetBonds.Sub(scratch.BondReserves).Div(divisor)
		shares, err = s.sharesNeededForBonds(bonds, scratch, minTxBonds)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		next := applyStep(scratch, bonds, shares)
		if !next.ShareReserves.IsNegative() {
			return bonds, shares, nil
		}
		divisor = divisor.Mul(two)
	}
}

// sharesNeededForBonds converts a signed bond delta into the matching
// unsigned share flow. Positive bonds means the pool gains bonds (a trader
// shorting); negative means the pool loses bonds (a trader going long).
// Magnitudes at or below minTxBonds are dust and convert to zero.
func (s *Solver) sharesNeededForBonds(
	bondsNeeded decimal.Decimal,
	scratch domain.PoolState,
	minTxBonds decimal.Decimal,
) (decimal.Decimal, error) {
	switch {
	case bondsNeeded.GreaterThan(minTxBonds):
		out, err := s.oracle.SharesOutGivenBondsIn(bondsNeeded, scratch)
		if err != nil {
			return decimal.Zero, fmt.Errorf("solver: short-side conversion: %w", err)
		}
		return out.Abs(), nil
	case bondsNeeded.LessThan(minTxBonds.Neg()):
		in, err := s.oracle.SharesInGivenBondsOut(bondsNeeded.Neg(), scratch)
		if err != nil {
			return decimal.Zero, fmt.Errorf("solver: long-side conversion: %w", err)
		}
		return in.Abs(), nil
	default:
		return decimal.Zero, nil
	}
}

// applyStep folds one (bonds, shares) step into a value copy of the pool.
// A positive bond delta is the short side: shares leave the pool. A
// negative bond delta is the long side: shares enter.
func applyStep(pool domain.PoolState, deltaBonds, deltaShares decimal.Decimal) domain.PoolState {
	next := pool
	if deltaBonds.IsPositive() {
		next.ShareReserves = next.ShareReserves.Sub(deltaShares)
	} else {
		next.ShareReserves = next.ShareReserves.Add(deltaShares)
	}
	next.BondReserves = next.BondReserves.Add(deltaBonds)
	return next
}
