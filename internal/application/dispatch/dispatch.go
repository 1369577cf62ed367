package dispatch

// dispatch.go — trade dispatcher.
//
// Turns one TradeRequest into a gateway call, optionally tightening the
// output/deposit bound from a read-only preview, submits it, decodes the
// confirmed receipt into a ReceiptBreakdown and translates that into a
// signed WalletDelta. The dispatcher never mutates the wallet; the caller
// applies the delta once the trade is confirmed.
//
// Slippage bounds differ per action: output-bounded trades (open long,
// closes, add liquidity) floor the proceeds at expected×(1−tol), while the
// open short is cost-bounded and caps its deposit at expected×(1+tol).

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

var (
	one = decimal.NewFromInt(1)

	// maxUint256 is the loose deposit bound used when no slippage
	// tolerance is set.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Dispatcher maps trade requests onto the market contract.
type Dispatcher struct {
	gateway ports.ChainGateway

	// previewBeforeTrade issues the read-only preview even without a
	// slippage tolerance, surfacing revert reasons before spending gas.
	previewBeforeTrade bool
}

// New creates a dispatcher on the given gateway.
func New(gateway ports.ChainGateway, previewBeforeTrade bool) *Dispatcher {
	return &Dispatcher{gateway: gateway, previewBeforeTrade: previewBeforeTrade}
}

// Dispatch executes one trade end to end and returns the wallet delta for
// the caller to apply. The wallet is read-only here (the close-short delta
// copies the stored open price); pool supplies the current vault share
// price for newly opened shorts.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	req domain.TradeRequest,
	wallet domain.Wallet,
	pool domain.PoolState,
	signer ports.Signer,
) (domain.WalletDelta, domain.ReceiptBreakdown, error) {
	if err := req.Validate(); err != nil {
		return domain.WalletDelta{}, domain.ReceiptBreakdown{}, err
	}
	if req.Action == domain.ActionInitializeMarket {
		return domain.WalletDelta{}, domain.ReceiptBreakdown{},
			fmt.Errorf("dispatch: %s: %w", req.Action, domain.ErrUnsupportedAction)
	}

	call, err := d.buildCall(ctx, req)
	if err != nil {
		return domain.WalletDelta{}, domain.ReceiptBreakdown{}, err
	}

	receipt, err := d.gateway.Submit(ctx, call, signer)
	if err != nil {
		return domain.WalletDelta{}, domain.ReceiptBreakdown{}, fmt.Errorf("dispatch: submit %s: %w", call.Method, err)
	}
	if receipt.Status != ports.ReceiptStatusSuccessful {
		// Mined but reverted, with no revert detail. The orchestrator may
		// retry; we never do.
		return domain.WalletDelta{}, domain.ReceiptBreakdown{},
			&domain.UnknownBlockError{TxHash: receipt.TxHash, Msg: "receipt status 0"}
	}

	breakdown, err := decodeReceipt(receipt, eventName(call.Method))
	if err != nil {
		return domain.WalletDelta{}, domain.ReceiptBreakdown{}, err
	}

	delta, err := buildDelta(req, breakdown, wallet, pool)
	if err != nil {
		return domain.WalletDelta{}, domain.ReceiptBreakdown{}, err
	}

	slog.Debug("dispatch: trade confirmed",
		"action", req.Action.String(),
		"tx", receipt.TxHash,
		"base", breakdown.BaseAmount.String(),
		"bonds", breakdown.BondAmount.String(),
	)
	return delta, breakdown, nil
}

// buildCall computes the contract arguments for the request, running the
// preview + bound-tightening step when a slippage tolerance is set.
func (d *Dispatcher) buildCall(ctx context.Context, req domain.TradeRequest) (ports.Call, error) {
	amount := toScaled(req.Amount)

	var call ports.Call
	switch req.Action {
	case domain.ActionOpenLong:
		call = ports.Call{Method: "openLong", Args: []any{amount, big.NewInt(0)}}
	case domain.ActionCloseLong:
		call = ports.Call{Method: "closeLong", Args: []any{big.NewInt(req.MaturityTime), amount, big.NewInt(0)}}
	case domain.ActionOpenShort:
		call = ports.Call{Method: "openShort", Args: []any{amount, new(big.Int).Set(maxUint256)}}
	case domain.ActionCloseShort:
		call = ports.Call{Method: "closeShort", Args: []any{big.NewInt(req.MaturityTime), amount, big.NewInt(0)}}
	case domain.ActionAddLiquidity:
		call = ports.Call{Method: "addLiquidity", Args: []any{
			amount, big.NewInt(0), toScaled(req.MinAPR), aprCeiling(req.MaxAPR),
		}}
	case domain.ActionRemoveLiquidity:
		call = ports.Call{Method: "removeLiquidity", Args: []any{amount, big.NewInt(0)}}
	case domain.ActionRedeemWithdrawalShares:
		call = ports.Call{Method: "redeemWithdrawalShares", Args: []any{amount, big.NewInt(0)}}
	default:
		return ports.Call{}, fmt.Errorf("dispatch: %s: %w", req.Action, domain.ErrUnsupportedAction)
	}

	if req.SlippageTolerance == nil && !d.previewBeforeTrade {
		return call, nil
	}

	outputs, err := d.gateway.Preview(ctx, call)
	if err != nil {
		return ports.Call{}, fmt.Errorf("dispatch: preview %s: %w", call.Method, err)
	}
	if req.SlippageTolerance == nil {
		return call, nil
	}
	if err := tightenBound(&call, req, outputs); err != nil {
		return ports.Call{}, err
	}
	return call, nil
}

// tightenBound replaces the loose min/max argument with the preview-derived
// slippage bound. Each case names the preview output it keys on.
func tightenBound(call *ports.Call, req domain.TradeRequest, outputs []any) error {
	tol := *req.SlippageTolerance
	expectedAt := func(i int) (decimal.Decimal, error) {
		if i >= len(outputs) {
			return decimal.Zero, fmt.Errorf("dispatch: preview %s returned %d outputs, need %d",
				call.Method, len(outputs), i+1)
		}
		v, ok := outputs[i].(*big.Int)
		if !ok {
			return decimal.Zero, fmt.Errorf("dispatch: preview %s output %d is %T, want *big.Int",
				call.Method, i, outputs[i])
		}
		return fromScaled(v), nil
	}

	switch req.Action {
	case domain.ActionOpenLong:
		// outputs: (maturityTime, bondProceeds)
		expected, err := expectedAt(1)
		if err != nil {
			return err
		}
		call.Args[1] = toScaled(expected.Mul(one.Sub(tol)))
	case domain.ActionCloseLong, domain.ActionCloseShort:
		// outputs: (baseProceeds)
		expected, err := expectedAt(0)
		if err != nil {
			return err
		}
		call.Args[2] = toScaled(expected.Mul(one.Sub(tol)))
	case domain.ActionOpenShort:
		// outputs: (maturityTime, baseDeposit); cost-bounded, so the
		// deposit cap scales up, not down.
		expected, err := expectedAt(1)
		if err != nil {
			return err
		}
		call.Args[1] = toScaled(expected.Mul(one.Add(tol)))
	case domain.ActionAddLiquidity:
		// outputs: (lpShares)
		expected, err := expectedAt(0)
		if err != nil {
			return err
		}
		call.Args[1] = toScaled(expected.Mul(one.Sub(tol)))
	case domain.ActionRemoveLiquidity:
		// outputs: (baseProceeds, withdrawalShares)
		expected, err := expectedAt(0)
		if err != nil {
			return err
		}
		call.Args[1] = toScaled(expected.Mul(one.Sub(tol)))
	case domain.ActionRedeemWithdrawalShares:
		// No preview-derived bound; the contract's per-share floor stays 0.
	}
	return nil
}

// decodeReceipt extracts exactly one matching event from the receipt.
// Zero or multiple matches mean the ABI we compiled against and the
// contract on chain disagree; fatal, never swallowed.
func decodeReceipt(receipt ports.Receipt, event string) (domain.ReceiptBreakdown, error) {
	var matches []ports.Event
	for _, ev := range receipt.Events {
		if ev.Name == event {
			matches = append(matches, ev)
		}
	}
	if len(matches) != 1 {
		return domain.ReceiptBreakdown{}, &domain.ReceiptDecodeError{
			Event: event, Matches: len(matches), TxHash: receipt.TxHash,
		}
	}
	args := matches[0].Args

	assetID := ""
	if v, ok := args["assetId"].(*big.Int); ok {
		assetID = v.String()
	}
	maturity := int64(0)
	if v, ok := args["maturityTime"].(*big.Int); ok {
		maturity = v.Int64()
	}
	return domain.NewReceiptBreakdown(
		assetID,
		maturity,
		scaledArg(args, "baseAmount"),
		scaledArg(args, "bondAmount"),
		scaledArg(args, "lpAmount"),
		scaledArg(args, "withdrawalShareAmount"),
	)
}

// buildDelta reintroduces sign onto the unsigned receipt magnitudes based
// on the action type.
func buildDelta(
	req domain.TradeRequest,
	r domain.ReceiptBreakdown,
	wallet domain.Wallet,
	pool domain.PoolState,
) (domain.WalletDelta, error) {
	switch req.Action {
	case domain.ActionOpenLong:
		return domain.WalletDelta{
			Base:  r.BaseAmount.Neg(),
			Longs: map[int64]decimal.Decimal{r.MaturityTime: r.BondAmount},
		}, nil
	case domain.ActionCloseLong:
		return domain.WalletDelta{
			Base:  r.BaseAmount,
			Longs: map[int64]decimal.Decimal{req.MaturityTime: r.BondAmount.Neg()},
		}, nil
	case domain.ActionOpenShort:
		return domain.WalletDelta{
			Base: r.BaseAmount.Neg(),
			Shorts: map[int64]domain.ShortDelta{
				r.MaturityTime: {
					Balance:             r.BondAmount,
					OpenVaultSharePrice: pool.VaultSharePrice,
				},
			},
		}, nil
	case domain.ActionCloseShort:
		// The open price rides along from the existing position, not the
		// receipt; reductions must never rewrite it.
		existing := wallet.Shorts[req.MaturityTime]
		return domain.WalletDelta{
			Base: r.BaseAmount,
			Shorts: map[int64]domain.ShortDelta{
				req.MaturityTime: {
					Balance:             r.BondAmount.Neg(),
					OpenVaultSharePrice: existing.OpenVaultSharePrice,
				},
			},
		}, nil
	case domain.ActionAddLiquidity:
		return domain.WalletDelta{
			Base:     r.BaseAmount.Neg(),
			LPTokens: r.LPAmount,
		}, nil
	case domain.ActionRemoveLiquidity:
		return domain.WalletDelta{
			Base:             r.BaseAmount,
			LPTokens:         r.LPAmount.Neg(),
			WithdrawalShares: r.WithdrawalShareAmount,
		}, nil
	case domain.ActionRedeemWithdrawalShares:
		return domain.WalletDelta{
			Base:             r.BaseAmount,
			WithdrawalShares: r.WithdrawalShareAmount.Neg(),
		}, nil
	default:
		return domain.WalletDelta{}, fmt.Errorf("dispatch: %s: %w", req.Action, domain.ErrUnsupportedAction)
	}
}

// eventName maps a contract method to its event: openLong → OpenLong.
func eventName(method string) string {
	if method == "" {
		return ""
	}
	return strings.ToUpper(method[:1]) + method[1:]
}

// aprCeiling returns the scaled max-APR bound, with zero meaning unbounded.
func aprCeiling(maxAPR decimal.Decimal) *big.Int {
	if maxAPR.IsZero() {
		return new(big.Int).Set(maxUint256)
	}
	return toScaled(maxAPR)
}

func scaledArg(args map[string]any, name string) decimal.Decimal {
	if v, ok := args[name].(*big.Int); ok {
		return fromScaled(v)
	}
	return decimal.Zero
}

// toScaled converts a decimal amount to its 18-decimal wire representation.
func toScaled(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}

// fromScaled converts an 18-decimal wire value back to a decimal amount.
func fromScaled(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -18)
}
