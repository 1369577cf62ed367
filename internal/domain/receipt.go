package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReceiptBreakdown is the decoded outcome of one confirmed trade. All
// amounts are unsigned magnitudes straight from the event log; the
// dispatcher reintroduces sign based on the action type.
type ReceiptBreakdown struct {
	AssetID               string
	MaturityTime          int64
	BaseAmount            decimal.Decimal
	BondAmount            decimal.Decimal
	LPAmount              decimal.Decimal
	WithdrawalShareAmount decimal.Decimal
}

// NewReceiptBreakdown validates that every magnitude is non-negative.
// Contract words are unsigned, so a negative here is a decoding bug.
func NewReceiptBreakdown(
	assetID string,
	maturityTime int64,
	base, bonds, lp, withdrawalShares decimal.Decimal,
) (ReceiptBreakdown, error) {
	if maturityTime < 0 {
		return ReceiptBreakdown{}, fmt.Errorf("receipt: maturity %d: %w", maturityTime, ErrNegativeReceiptField)
	}
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"base_amount", base},
		{"bond_amount", bonds},
		{"lp_amount", lp},
		{"withdrawal_share_amount", withdrawalShares},
	} {
		if f.v.IsNegative() {
			return ReceiptBreakdown{}, fmt.Errorf("receipt: %s = %s: %w", f.name, f.v, ErrNegativeReceiptField)
		}
	}
	return ReceiptBreakdown{
		AssetID:               assetID,
		MaturityTime:          maturityTime,
		BaseAmount:            base,
		BondAmount:            bonds,
		LPAmount:              lp,
		WithdrawalShareAmount: withdrawalShares,
	}, nil
}
