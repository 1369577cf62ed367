package harness

// checks.go — invariant-check contracts.
//
// Each check drives the dispatcher against a SimGateway and returns a
// descriptive error on violation. Property tests call these directly;
// they are also usable against longer randomized sequences.

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/application/dispatch"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

// simSigner is a keyless signer for simulated submissions.
type simSigner struct{ addr string }

func (s simSigner) Address() string { return s.addr }

// NewSimSigner returns a ports.Signer carrying only an address, valid for
// SimGateway submissions.
func NewSimSigner(address string) ports.Signer { return simSigner{addr: address} }

// CheckLedgerNonNegative reports the first negative field in the wallet.
func CheckLedgerNonNegative(w domain.Wallet) error {
	if w.Base.IsNegative() {
		return fmt.Errorf("harness: negative base balance %s", w.Base)
	}
	for maturity, bonds := range w.Longs {
		if bonds.IsNegative() {
			return fmt.Errorf("harness: negative long %s at maturity %d", bonds, maturity)
		}
	}
	for maturity, short := range w.Shorts {
		if short.Balance.IsNegative() {
			return fmt.Errorf("harness: negative short %s at maturity %d", short.Balance, maturity)
		}
	}
	if w.LPTokens.IsNegative() {
		return fmt.Errorf("harness: negative lp tokens %s", w.LPTokens)
	}
	if w.WithdrawalShares.IsNegative() {
		return fmt.Errorf("harness: negative withdrawal shares %s", w.WithdrawalShares)
	}
	return nil
}

// CheckPoolNonNegative reports negative reserves or supply in the pool.
func CheckPoolNonNegative(p domain.PoolState) error {
	if p.ShareReserves.IsNegative() {
		return fmt.Errorf("harness: negative share reserves %s", p.ShareReserves)
	}
	if p.BondReserves.IsNegative() {
		return fmt.Errorf("harness: negative bond reserves %s", p.BondReserves)
	}
	if p.LPTotalSupply.IsNegative() {
		return fmt.Errorf("harness: negative lp total supply %s", p.LPTotalSupply)
	}
	return nil
}

// CheckRoundTrip opens a long, advances past maturity, closes the full
// position and verifies the proceeds land within epsilon of
// bonds×(1−flat_fee) and the long entry is gone from the wallet.
func CheckRoundTrip(ctx context.Context, gw *SimGateway, baseAmount, epsilon decimal.Decimal) error {
	d := dispatch.New(gw, false)
	signer := NewSimSigner("0xroundtrip")
	wallet := domain.NewWallet(signer.Address(), baseAmount)

	pool := gw.PoolState()
	delta, receipt, err := d.Dispatch(ctx, domain.OpenLongTrade(baseAmount, nil), wallet, pool, signer)
	if err != nil {
		return fmt.Errorf("harness: round-trip open: %w", err)
	}
	wallet, err = wallet.Apply(delta)
	if err != nil {
		return fmt.Errorf("harness: round-trip apply open: %w", err)
	}
	maturity := receipt.MaturityTime
	bonds := wallet.Longs[maturity]

	gw.AdvanceTime(maturity - pool.BlockTime)

	pool = gw.PoolState()
	delta, receipt, err = d.Dispatch(ctx, domain.CloseLongTrade(bonds, maturity, nil), wallet, pool, signer)
	if err != nil {
		return fmt.Errorf("harness: round-trip close: %w", err)
	}
	wallet, err = wallet.Apply(delta)
	if err != nil {
		return fmt.Errorf("harness: round-trip apply close: %w", err)
	}

	if _, open := wallet.Longs[maturity]; open {
		return fmt.Errorf("harness: long entry at maturity %d survived a full close", maturity)
	}
	want := bonds.Mul(one.Sub(pool.Config.Fees.Flat))
	if diff := receipt.BaseAmount.Sub(want).Abs(); diff.GreaterThan(epsilon) {
		return fmt.Errorf("harness: round-trip proceeds %s, want %s (±%s)", receipt.BaseAmount, want, epsilon)
	}
	return nil
}

// CheckPathIndependence opens the given positions from the gateway's state,
// then closes them in `permutations` random orders, each run starting from
// a clone of the post-open state. All final pool states must agree within
// the relative tolerance. With closeAtMaturity the clock first advances to
// the last maturity and every close settles at the flat fee; without it the
// closes stay inside the opening checkpoint and walk the curve, where
// ordering actually moves the price.
func CheckPathIndependence(
	ctx context.Context,
	gw *SimGateway,
	positions []domain.TradeRequest,
	permutations int,
	relTol decimal.Decimal,
	rng *rand.Rand,
	closeAtMaturity bool,
) error {
	d := dispatch.New(gw, false)
	signer := NewSimSigner("0xpaths")
	wallet := domain.NewWallet(signer.Address(), decimal.NewFromInt(100_000_000))

	type openPosition struct {
		action   domain.ActionType
		maturity int64
		bonds    decimal.Decimal
	}
	var opened []openPosition
	var lastMaturity int64
	for _, req := range positions {
		pool := gw.PoolState()
		delta, receipt, err := d.Dispatch(ctx, req, wallet, pool, signer)
		if err != nil {
			return fmt.Errorf("harness: open %s: %w", req.Action, err)
		}
		wallet, err = wallet.Apply(delta)
		if err != nil {
			return fmt.Errorf("harness: apply %s: %w", req.Action, err)
		}
		opened = append(opened, openPosition{
			action:   req.Action,
			maturity: receipt.MaturityTime,
			bonds:    receipt.BondAmount,
		})
		if receipt.MaturityTime > lastMaturity {
			lastMaturity = receipt.MaturityTime
		}
	}

	if closeAtMaturity {
		gw.AdvanceTime(lastMaturity - gw.PoolState().BlockTime)
	}

	var finals []domain.PoolState
	for run := 0; run < permutations; run++ {
		order := rng.Perm(len(opened))
		replica := gw.Clone()
		rd := dispatch.New(replica, false)
		w := wallet.Clone()
		for _, idx := range order {
			pos := opened[idx]
			var req domain.TradeRequest
			switch pos.action {
			case domain.ActionOpenLong:
				req = domain.CloseLongTrade(pos.bonds, pos.maturity, nil)
			case domain.ActionOpenShort:
				req = domain.CloseShortTrade(pos.bonds, pos.maturity, nil)
			default:
				return fmt.Errorf("harness: position %d has non-position action %s", idx, pos.action)
			}
			pool := replica.PoolState()
			delta, _, err := rd.Dispatch(ctx, req, w, pool, signer)
			if err != nil {
				return fmt.Errorf("harness: close %s in run %d: %w", req.Action, run, err)
			}
			if w, err = w.Apply(delta); err != nil {
				return fmt.Errorf("harness: apply close in run %d: %w", run, err)
			}
		}
		finals = append(finals, replica.PoolState())
	}

	ref := finals[0]
	for i, fs := range finals[1:] {
		if err := compareWithin(ref.ShareReserves, fs.ShareReserves, relTol, "share reserves", i+1); err != nil {
			return err
		}
		if err := compareWithin(ref.BondReserves, fs.BondReserves, relTol, "bond reserves", i+1); err != nil {
			return err
		}
		if err := compareWithin(ref.LPTotalSupply, fs.LPTotalSupply, relTol, "lp total supply", i+1); err != nil {
			return err
		}
	}
	return nil
}

// CheckProfitNoop opens and immediately closes a position of the same size
// with no elapsed time and asserts the returned base is strictly less than
// what went in.
func CheckProfitNoop(ctx context.Context, gw *SimGateway, baseAmount decimal.Decimal) error {
	d := dispatch.New(gw, false)
	signer := NewSimSigner("0xnoop")
	wallet := domain.NewWallet(signer.Address(), baseAmount)

	pool := gw.PoolState()
	delta, receipt, err := d.Dispatch(ctx, domain.OpenLongTrade(baseAmount, nil), wallet, pool, signer)
	if err != nil {
		return fmt.Errorf("harness: noop open: %w", err)
	}
	if wallet, err = wallet.Apply(delta); err != nil {
		return fmt.Errorf("harness: noop apply open: %w", err)
	}
	maturity := receipt.MaturityTime
	bonds := wallet.Longs[maturity]

	pool = gw.PoolState()
	_, receipt, err = d.Dispatch(ctx, domain.CloseLongTrade(bonds, maturity, nil), wallet, pool, signer)
	if err != nil {
		return fmt.Errorf("harness: noop close: %w", err)
	}
	if receipt.BaseAmount.GreaterThanOrEqual(baseAmount) {
		return fmt.Errorf("harness: free profit: %s in, %s back", baseAmount, receipt.BaseAmount)
	}
	return nil
}

func compareWithin(ref, got, relTol decimal.Decimal, field string, run int) error {
	denom := ref.Abs()
	if denom.IsZero() {
		denom = one
	}
	if got.Sub(ref).Abs().Div(denom).GreaterThan(relTol) {
		return fmt.Errorf("harness: %s diverged in run %d: %s vs %s", field, run, got, ref)
	}
	return nil
}
