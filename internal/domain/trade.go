package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionType is the closed set of trades the market contract understands.
type ActionType int

const (
	// ActionInitializeMarket is recognized but has no trade semantics here;
	// dispatching it always fails with ErrUnsupportedAction.
	ActionInitializeMarket ActionType = iota
	ActionOpenLong
	ActionCloseLong
	ActionOpenShort
	ActionCloseShort
	ActionAddLiquidity
	ActionRemoveLiquidity
	ActionRedeemWithdrawalShares
)

func (a ActionType) String() string {
	switch a {
	case ActionInitializeMarket:
		return "INITIALIZE_MARKET"
	case ActionOpenLong:
		return "OPEN_LONG"
	case ActionCloseLong:
		return "CLOSE_LONG"
	case ActionOpenShort:
		return "OPEN_SHORT"
	case ActionCloseShort:
		return "CLOSE_SHORT"
	case ActionAddLiquidity:
		return "ADD_LIQUIDITY"
	case ActionRemoveLiquidity:
		return "REMOVE_LIQUIDITY"
	case ActionRedeemWithdrawalShares:
		return "REDEEM_WITHDRAWAL_SHARES"
	default:
		return fmt.Sprintf("ActionType(%d)", int(a))
	}
}

// IsValid reports whether a is one of the declared variants.
func (a ActionType) IsValid() bool {
	return a >= ActionInitializeMarket && a <= ActionRedeemWithdrawalShares
}

// RequiresMaturity reports whether the action must name the position's
// maturity time (closes are per-maturity, everything else is not).
func (a ActionType) RequiresMaturity() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// TradeRequest is one desired trade produced by a policy. Amount is in base
// for OPEN_LONG / ADD_LIQUIDITY, bonds for OPEN_SHORT and the closes, LP
// tokens for REMOVE_LIQUIDITY and withdrawal shares for
// REDEEM_WITHDRAWAL_SHARES, the same units the contract entry points take.
type TradeRequest struct {
	ID           uuid.UUID
	Action       ActionType
	Amount       decimal.Decimal
	MaturityTime int64 // seconds; 0 = unset, required for closes

	// SlippageTolerance bounds the deviation between previewed and executed
	// outcome. Nil disables the preview-derived bound.
	SlippageTolerance *decimal.Decimal

	// MinAPR/MaxAPR guard ADD_LIQUIDITY against a rate move between preview
	// and inclusion. Zero values mean unbounded.
	MinAPR decimal.Decimal
	MaxAPR decimal.Decimal
}

// Validate checks the request shape before any chain interaction.
func (r TradeRequest) Validate() error {
	if !r.Action.IsValid() {
		return fmt.Errorf("trade %s: %w", r.ID, ErrUnsupportedAction)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("trade %s: amount %s: %w", r.ID, r.Amount, ErrInvalidAmount)
	}
	if r.Action.RequiresMaturity() && r.MaturityTime <= 0 {
		return fmt.Errorf("trade %s (%s): %w", r.ID, r.Action, ErrMaturityRequired)
	}
	return nil
}

// Trade constructors mirror the contract surface one to one. Policies build
// requests through these so every request carries a fresh ID.

func OpenLongTrade(baseAmount decimal.Decimal, slippage *decimal.Decimal) TradeRequest {
	return TradeRequest{ID: uuid.New(), Action: ActionOpenLong, Amount: baseAmount, SlippageTolerance: slippage}
}

func CloseLongTrade(bondAmount decimal.Decimal, maturityTime int64, slippage *decimal.Decimal) TradeRequest {
	return TradeRequest{
		ID: uuid.New(), Action: ActionCloseLong, Amount: bondAmount,
		MaturityTime: maturityTime, SlippageTolerance: slippage,
	}
}

func OpenShortTrade(bondAmount decimal.Decimal, slippage *decimal.Decimal) TradeRequest {
	return TradeRequest{ID: uuid.New(), Action: ActionOpenShort, Amount: bondAmount, SlippageTolerance: slippage}
}

func CloseShortTrade(bondAmount decimal.Decimal, maturityTime int64, slippage *decimal.Decimal) TradeRequest {
	return TradeRequest{
		ID: uuid.New(), Action: ActionCloseShort, Amount: bondAmount,
		MaturityTime: maturityTime, SlippageTolerance: slippage,
	}
}

func AddLiquidityTrade(baseAmount decimal.Decimal, minAPR, maxAPR decimal.Decimal) TradeRequest {
	return TradeRequest{
		ID: uuid.New(), Action: ActionAddLiquidity, Amount: baseAmount,
		MinAPR: minAPR, MaxAPR: maxAPR,
	}
}

func RemoveLiquidityTrade(lpAmount decimal.Decimal) TradeRequest {
	return TradeRequest{ID: uuid.New(), Action: ActionRemoveLiquidity, Amount: lpAmount}
}

func RedeemWithdrawalSharesTrade(shareAmount decimal.Decimal) TradeRequest {
	return TradeRequest{ID: uuid.New(), Action: ActionRedeemWithdrawalShares, Amount: shareAmount}
}
