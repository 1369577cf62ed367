package harness

// sim.go — in-memory market gateway.
//
// SimGateway implements ports.ChainGateway against a simulated constant-
// function pool instead of a JSON-RPC node. Trades execute at the average
// of the pre- and post-trade spot price with the curve fee applied;
// positions closed at or after maturity settle at face value minus the
// flat fee only. Time only moves when AdvanceTime is called, which also
// accrues the vault share price at the configured variable rate.
//
// The gateway is safe for concurrent agents: one mutex serializes trades,
// mirroring how a chain serializes transactions into blocks.

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

const yearSeconds = 31_536_000

var (
	one          = decimal.NewFromInt(1)
	two          = decimal.NewFromInt(2)
	secondsDecim = decimal.NewFromInt(yearSeconds)
)

// SimGateway is a deterministic in-memory implementation of
// ports.ChainGateway.
type SimGateway struct {
	mu sync.Mutex

	cfg  domain.PoolConfig
	pool struct {
		shareReserves   decimal.Decimal
		bondReserves    decimal.Decimal
		lpTotalSupply   decimal.Decimal
		vaultSharePrice decimal.Decimal
		variableRate    decimal.Decimal
		blockNumber     uint64
		blockTime       int64
	}

	txSeq uint64

	// Failure injection, consumed by the next Submit.
	FailNextSubmit bool // mined-but-reverted receipt (status 0)
	ExtraEventNext bool // duplicate the trade event in the receipt
	DropEventNext  bool // strip all events from the receipt
}

// SimConfig seeds the simulated pool.
type SimConfig struct {
	Config          domain.PoolConfig
	ShareReserves   decimal.Decimal
	BondReserves    decimal.Decimal
	LPTotalSupply   decimal.Decimal
	VaultSharePrice decimal.Decimal
	VariableRate    decimal.Decimal
	StartTime       int64
}

// NewSimGateway builds a gateway over a freshly initialized pool.
func NewSimGateway(sc SimConfig) *SimGateway {
	g := &SimGateway{cfg: sc.Config}
	g.pool.shareReserves = sc.ShareReserves
	g.pool.bondReserves = sc.BondReserves
	g.pool.lpTotalSupply = sc.LPTotalSupply
	g.pool.vaultSharePrice = sc.VaultSharePrice
	if g.pool.vaultSharePrice.IsZero() {
		g.pool.vaultSharePrice = one
	}
	g.pool.variableRate = sc.VariableRate
	g.pool.blockTime = sc.StartTime
	g.pool.blockNumber = 1
	return g
}

// Clone returns an independent gateway starting from the same pool state.
// Used to replay trade sequences in different orders from one origin.
func (g *SimGateway) Clone() *SimGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	clone := &SimGateway{cfg: g.cfg, txSeq: g.txSeq}
	clone.pool = g.pool
	return clone
}

// PoolState snapshots the simulated pool in the domain shape used by
// strategies and the solver.
func (g *SimGateway) PoolState() domain.PoolState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

// ReadPool implements ports.PoolReader.
func (g *SimGateway) ReadPool(_ context.Context) (domain.PoolState, error) {
	return g.PoolState(), nil
}

func (g *SimGateway) snapshot() domain.PoolState {
	return domain.PoolState{
		Config:          g.cfg,
		ShareReserves:   g.pool.shareReserves,
		BondReserves:    g.pool.bondReserves,
		LPTotalSupply:   g.pool.lpTotalSupply,
		VaultSharePrice: g.pool.vaultSharePrice,
		VariableRate:    g.pool.variableRate,
		BlockNumber:     g.pool.blockNumber,
		BlockTime:       g.pool.blockTime,
	}
}

// AdvanceTime moves the clock forward and accrues the vault share price at
// the variable rate (simple interest over the elapsed window).
func (g *SimGateway) AdvanceTime(seconds int64) {
	if seconds <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	growth := one.Add(g.pool.variableRate.Mul(decimal.NewFromInt(seconds)).Div(secondsDecim))
	g.pool.vaultSharePrice = g.pool.vaultSharePrice.Mul(growth)
	g.pool.blockTime += seconds
	g.pool.blockNumber += uint64(seconds/12) + 1
}

// SetVariableRate changes the rate used for subsequent accrual.
func (g *SimGateway) SetVariableRate(r decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pool.variableRate = r
}

// LatestBlock implements ports.ChainGateway.
func (g *SimGateway) LatestBlock(_ context.Context) (ports.BlockInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ports.BlockInfo{Number: g.pool.blockNumber, Timestamp: g.pool.blockTime}, nil
}

// Preview implements ports.ChainGateway: the trade runs and the pool is
// rolled back, so state never moves.
func (g *SimGateway) Preview(_ context.Context, call ports.Call) ([]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	saved := g.pool
	outcome, err := g.execute(call, "preview")
	g.pool = saved
	if err != nil {
		return nil, err
	}
	if outcome.reverted {
		return nil, fmt.Errorf("sim: preview %s reverted: %s", call.Method, outcome.revertReason)
	}
	return outcome.outputs, nil
}

// Submit implements ports.ChainGateway. Execution errors that a real
// contract would revert on come back as status-0 receipts, not Go errors.
func (g *SimGateway) Submit(_ context.Context, call ports.Call, signer ports.Signer) (ports.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.txSeq++
	g.pool.blockNumber++
	txHash := fmt.Sprintf("0x%064x", g.txSeq)

	if g.FailNextSubmit {
		g.FailNextSubmit = false
		return ports.Receipt{TxHash: txHash, Status: 0, BlockNumber: g.pool.blockNumber}, nil
	}

	outcome, err := g.execute(call, signer.Address())
	if err != nil {
		return ports.Receipt{}, err
	}
	if outcome.reverted {
		return ports.Receipt{TxHash: txHash, Status: 0, BlockNumber: g.pool.blockNumber}, nil
	}

	receipt := ports.Receipt{
		TxHash:      txHash,
		Status:      ports.ReceiptStatusSuccessful,
		BlockNumber: g.pool.blockNumber,
		Events:      []ports.Event{outcome.event},
	}
	if g.ExtraEventNext {
		g.ExtraEventNext = false
		receipt.Events = append(receipt.Events, outcome.event)
	}
	if g.DropEventNext {
		g.DropEventNext = false
		receipt.Events = nil
	}
	return receipt, nil
}

type execOutcome struct {
	outputs      []any
	event        ports.Event
	reverted     bool
	revertReason string
}

func revert(reason string) (execOutcome, error) {
	return execOutcome{reverted: true, revertReason: reason}, nil
}

// execute mutates the receiver's pool. Callers working on a copy get
// preview semantics for free.
func (g *SimGateway) execute(call ports.Call, trader string) (execOutcome, error) {
	switch call.Method {
	case "openLong":
		return g.execOpenLong(call.Args, trader)
	case "closeLong":
		return g.execCloseLong(call.Args, trader)
	case "openShort":
		return g.execOpenShort(call.Args, trader)
	case "closeShort":
		return g.execCloseShort(call.Args, trader)
	case "addLiquidity":
		return g.execAddLiquidity(call.Args, trader)
	case "removeLiquidity":
		return g.execRemoveLiquidity(call.Args, trader)
	case "redeemWithdrawalShares":
		return g.execRedeemWithdrawalShares(call.Args, trader)
	default:
		return execOutcome{}, fmt.Errorf("sim: unknown method %q", call.Method)
	}
}

func (g *SimGateway) execOpenLong(args []any, trader string) (execOutcome, error) {
	base, err := argAmount(args, 0, "openLong.baseAmount")
	if err != nil {
		return execOutcome{}, err
	}
	minOutput, err := argAmount(args, 1, "openLong.minOutput")
	if err != nil {
		return execOutcome{}, err
	}
	if base.LessThan(g.cfg.MinimumTransaction) {
		return revert("below minimum transaction")
	}

	bondsOut := g.bondsOutForBaseIn(base)
	if bondsOut.LessThan(minOutput) {
		return revert("slippage: bond output below minimum")
	}
	if bondsOut.GreaterThanOrEqual(g.pool.bondReserves) {
		return revert("insufficient bond reserves")
	}

	g.pool.shareReserves = g.pool.shareReserves.Add(base.Div(g.pool.vaultSharePrice))
	g.pool.bondReserves = g.pool.bondReserves.Sub(bondsOut)

	maturity := g.snapshot().NewMaturity()
	return execOutcome{
		outputs: []any{big.NewInt(maturity), toScaled(bondsOut)},
		event:   tradeEvent("OpenLong", trader, maturity, base, bondsOut),
	}, nil
}

func (g *SimGateway) execCloseLong(args []any, trader string) (execOutcome, error) {
	maturity, err := argInt(args, 0, "closeLong.maturityTime")
	if err != nil {
		return execOutcome{}, err
	}
	bonds, err := argAmount(args, 1, "closeLong.bondAmount")
	if err != nil {
		return execOutcome{}, err
	}
	minOutput, err := argAmount(args, 2, "closeLong.minOutput")
	if err != nil {
		return execOutcome{}, err
	}

	var baseOut decimal.Decimal
	if g.pool.blockTime >= maturity {
		// Matured bonds settle outside the curve at face value.
		baseOut = bonds.Mul(one.Sub(g.cfg.Fees.Flat))
		g.pool.shareReserves = g.pool.shareReserves.Sub(baseOut.Div(g.pool.vaultSharePrice))
	} else {
		baseOut = g.baseOutForBondsIn(bonds)
		g.pool.bondReserves = g.pool.bondReserves.Add(bonds)
		g.pool.shareReserves = g.pool.shareReserves.Sub(baseOut.Div(g.pool.vaultSharePrice))
	}
	if g.pool.shareReserves.IsNegative() {
		return revert("insufficient share reserves")
	}
	if baseOut.LessThan(minOutput) {
		return revert("slippage: base output below minimum")
	}

	return execOutcome{
		outputs: []any{toScaled(baseOut)},
		event:   tradeEvent("CloseLong", trader, maturity, baseOut, bonds),
	}, nil
}

func (g *SimGateway) execOpenShort(args []any, trader string) (execOutcome, error) {
	bonds, err := argAmount(args, 0, "openShort.bondAmount")
	if err != nil {
		return execOutcome{}, err
	}
	maxDeposit, err := argAmount(args, 1, "openShort.maxDeposit")
	if err != nil {
		return execOutcome{}, err
	}
	if bonds.LessThan(g.cfg.MinimumTransaction) {
		return revert("below minimum transaction")
	}

	// Shorting sells bonds into the curve; the trader posts the max-loss
	// collateral: face value minus the sale proceeds.
	proceeds := g.baseOutForBondsIn(bonds)
	deposit := bonds.Sub(proceeds)
	if deposit.IsNegative() {
		deposit = decimal.Zero
	}
	if deposit.GreaterThan(maxDeposit) {
		return revert("slippage: deposit above maximum")
	}

	g.pool.bondReserves = g.pool.bondReserves.Add(bonds)
	g.pool.shareReserves = g.pool.shareReserves.Sub(proceeds.Div(g.pool.vaultSharePrice))
	if g.pool.shareReserves.IsNegative() {
		return revert("insufficient share reserves")
	}

	maturity := g.snapshot().NewMaturity()
	return execOutcome{
		outputs: []any{big.NewInt(maturity), toScaled(deposit)},
		event:   tradeEvent("OpenShort", trader, maturity, deposit, bonds),
	}, nil
}

func (g *SimGateway) execCloseShort(args []any, trader string) (execOutcome, error) {
	maturity, err := argInt(args, 0, "closeShort.maturityTime")
	if err != nil {
		return execOutcome{}, err
	}
	bonds, err := argAmount(args, 1, "closeShort.bondAmount")
	if err != nil {
		return execOutcome{}, err
	}
	minOutput, err := argAmount(args, 2, "closeShort.minOutput")
	if err != nil {
		return execOutcome{}, err
	}

	// Closing buys the bonds back; the trader keeps face value minus the
	// buy-back cost.
	var cost decimal.Decimal
	if g.pool.blockTime >= maturity {
		cost = bonds.Mul(one.Sub(g.cfg.Fees.Flat))
	} else {
		cost = g.baseInForBondsOut(bonds)
		if bonds.GreaterThanOrEqual(g.pool.bondReserves) {
			return revert("insufficient bond reserves")
		}
		g.pool.bondReserves = g.pool.bondReserves.Sub(bonds)
		g.pool.shareReserves = g.pool.shareReserves.Add(cost.Div(g.pool.vaultSharePrice))
	}
	proceeds := bonds.Sub(cost)
	if proceeds.IsNegative() {
		proceeds = decimal.Zero
	}
	if proceeds.LessThan(minOutput) {
		return revert("slippage: base output below minimum")
	}

	return execOutcome{
		outputs: []any{toScaled(proceeds)},
		event:   tradeEvent("CloseShort", trader, maturity, proceeds, bonds),
	}, nil
}

func (g *SimGateway) execAddLiquidity(args []any, trader string) (execOutcome, error) {
	base, err := argAmount(args, 0, "addLiquidity.baseAmount")
	if err != nil {
		return execOutcome{}, err
	}
	minLPOut, err := argAmount(args, 1, "addLiquidity.minLpOut")
	if err != nil {
		return execOutcome{}, err
	}
	minAPR, err := argAmount(args, 2, "addLiquidity.minApr")
	if err != nil {
		return execOutcome{}, err
	}
	maxAPR, err := argAmount(args, 3, "addLiquidity.maxApr")
	if err != nil {
		return execOutcome{}, err
	}
	if base.LessThan(g.cfg.MinimumTransaction) {
		return revert("below minimum transaction")
	}

	rate := g.fixedRate()
	if rate.LessThan(minAPR) || rate.GreaterThan(maxAPR) {
		return revert("fixed rate outside APR bounds")
	}

	lpOut := base.Div(g.lpSharePrice())
	if lpOut.LessThan(minLPOut) {
		return revert("slippage: lp output below minimum")
	}

	g.pool.shareReserves = g.pool.shareReserves.Add(base.Div(g.pool.vaultSharePrice))
	g.pool.lpTotalSupply = g.pool.lpTotalSupply.Add(lpOut)

	return execOutcome{
		outputs: []any{toScaled(lpOut)},
		event:   ports.Event{Name: "AddLiquidity", Args: map[string]any{
			"provider":   trader,
			"baseAmount": toScaled(base),
			"lpAmount":   toScaled(lpOut),
		}},
	}, nil
}

func (g *SimGateway) execRemoveLiquidity(args []any, trader string) (execOutcome, error) {
	lpAmount, err := argAmount(args, 0, "removeLiquidity.lpAmount")
	if err != nil {
		return execOutcome{}, err
	}
	minOutput, err := argAmount(args, 1, "removeLiquidity.minOutput")
	if err != nil {
		return execOutcome{}, err
	}
	if lpAmount.GreaterThan(g.pool.lpTotalSupply) {
		return revert("lp amount exceeds total supply")
	}

	// The proportional share of idle capital pays out in base immediately;
	// the share still backing open bond exposure becomes withdrawal shares
	// redeemable later at face value.
	frac := lpAmount.Div(g.pool.lpTotalSupply)
	baseOut := g.pool.shareReserves.Mul(g.pool.vaultSharePrice).Mul(frac)
	wsOut := g.pool.bondReserves.Mul(g.spotPrice()).Mul(frac)
	if baseOut.LessThan(minOutput) {
		return revert("slippage: base output below minimum")
	}

	g.pool.shareReserves = g.pool.shareReserves.Mul(one.Sub(frac))
	g.pool.bondReserves = g.pool.bondReserves.Mul(one.Sub(frac))
	g.pool.lpTotalSupply = g.pool.lpTotalSupply.Sub(lpAmount)

	return execOutcome{
		outputs: []any{toScaled(baseOut), toScaled(wsOut)},
		event:   ports.Event{Name: "RemoveLiquidity", Args: map[string]any{
			"provider":              trader,
			"baseAmount":            toScaled(baseOut),
			"lpAmount":              toScaled(lpAmount),
			"withdrawalShareAmount": toScaled(wsOut),
		}},
	}, nil
}

func (g *SimGateway) execRedeemWithdrawalShares(args []any, trader string) (execOutcome, error) {
	shares, err := argAmount(args, 0, "redeemWithdrawalShares.shareAmount")
	if err != nil {
		return execOutcome{}, err
	}
	minPerShare, err := argAmount(args, 1, "redeemWithdrawalShares.minOutputPerShare")
	if err != nil {
		return execOutcome{}, err
	}

	// Withdrawal shares redeem at face value, capped by available idle
	// base. Unredeemed shares stay with the holder.
	idle := g.pool.shareReserves.Mul(g.pool.vaultSharePrice)
	redeemed := decimal.Min(shares, idle)
	proceeds := redeemed
	if redeemed.IsPositive() && proceeds.Div(redeemed).LessThan(minPerShare) {
		return revert("slippage: output per share below minimum")
	}

	g.pool.shareReserves = g.pool.shareReserves.Sub(proceeds.Div(g.pool.vaultSharePrice))

	return execOutcome{
		outputs: []any{toScaled(proceeds), toScaled(redeemed)},
		event:   ports.Event{Name: "RedeemWithdrawalShares", Args: map[string]any{
			"provider":              trader,
			"baseAmount":            toScaled(proceeds),
			"withdrawalShareAmount": toScaled(redeemed),
		}},
	}, nil
}

// --- pricing helpers ---------------------------------------------------

// spotPrice is base value of reserves per bond, p = z·c / b.
func (g *SimGateway) spotPrice() decimal.Decimal {
	if g.pool.bondReserves.IsZero() {
		return one
	}
	return g.pool.shareReserves.Mul(g.pool.vaultSharePrice).Div(g.pool.bondReserves)
}

// fixedRate is the annualized rate implied by the spot price.
func (g *SimGateway) fixedRate() decimal.Decimal {
	p := g.spotPrice()
	if p.IsZero() {
		return decimal.Zero
	}
	t := decimal.NewFromInt(g.cfg.PositionDuration).Div(secondsDecim)
	if t.IsZero() {
		return decimal.Zero
	}
	return one.Sub(p).Div(p.Mul(t))
}

func (g *SimGateway) lpSharePrice() decimal.Decimal {
	if g.pool.lpTotalSupply.IsZero() {
		return one
	}
	value := g.pool.shareReserves.Mul(g.pool.vaultSharePrice).
		Add(g.pool.bondReserves.Mul(g.spotPrice()))
	return value.Div(g.pool.lpTotalSupply)
}

// bondsOutForBaseIn prices a curve buy of bonds for base at the average of
// the pre- and post-trade spot price, then takes the curve fee out of the
// bond output.
func (g *SimGateway) bondsOutForBaseIn(base decimal.Decimal) decimal.Decimal {
	p0 := g.spotPrice()
	if p0.IsZero() {
		return decimal.Zero
	}
	z1 := g.pool.shareReserves.Mul(g.pool.vaultSharePrice).Add(base)
	b1 := g.pool.bondReserves.Sub(base.Div(p0))
	p1 := one
	if b1.IsPositive() {
		p1 = z1.Div(b1)
	}
	pavg := p0.Add(p1).Div(two)
	return base.Div(pavg).Mul(one.Sub(g.cfg.Fees.Curve))
}

// baseOutForBondsIn prices a curve sell of bonds for base, fee-reduced.
func (g *SimGateway) baseOutForBondsIn(bonds decimal.Decimal) decimal.Decimal {
	p0 := g.spotPrice()
	z1 := g.pool.shareReserves.Mul(g.pool.vaultSharePrice).Sub(bonds.Mul(p0))
	b1 := g.pool.bondReserves.Add(bonds)
	p1 := decimal.Zero
	if z1.IsPositive() {
		p1 = z1.Div(b1)
	}
	pavg := p0.Add(p1).Div(two)
	return bonds.Mul(pavg).Mul(one.Sub(g.cfg.Fees.Curve))
}

// baseInForBondsOut prices a curve buy-back of bonds, fee-increased.
func (g *SimGateway) baseInForBondsOut(bonds decimal.Decimal) decimal.Decimal {
	p0 := g.spotPrice()
	z1 := g.pool.shareReserves.Mul(g.pool.vaultSharePrice).Add(bonds.Mul(p0))
	b1 := g.pool.bondReserves.Sub(bonds)
	p1 := one
	if b1.IsPositive() {
		p1 = z1.Div(b1)
	}
	pavg := p0.Add(p1).Div(two)
	return bonds.Mul(pavg).Mul(one.Add(g.cfg.Fees.Curve))
}

// --- wire helpers ------------------------------------------------------

func tradeEvent(name, trader string, maturity int64, base, bonds decimal.Decimal) ports.Event {
	return ports.Event{Name: name, Args: map[string]any{
		"trader":       trader,
		"assetId":      big.NewInt(maturity),
		"maturityTime": big.NewInt(maturity),
		"baseAmount":   toScaled(base),
		"bondAmount":   toScaled(bonds),
	}}
}

func argAmount(args []any, i int, name string) (decimal.Decimal, error) {
	if i >= len(args) {
		return decimal.Zero, fmt.Errorf("sim: missing arg %s", name)
	}
	v, ok := args[i].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("sim: arg %s is %T, want *big.Int", name, args[i])
	}
	return fromScaled(v), nil
}

func argInt(args []any, i int, name string) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("sim: missing arg %s", name)
	}
	v, ok := args[i].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("sim: arg %s is %T, want *big.Int", name, args[i])
	}
	return v.Int64(), nil
}

func toScaled(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}

func fromScaled(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -18)
}
