package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for domain-level error handling.
// The orchestrator decides per-error whether a batch halts or continues.
var (
	// ErrUnsupportedAction means a trade request has no on-chain semantics
	// (INITIALIZE_MARKET). Fatal to the request, never retried.
	ErrUnsupportedAction = errors.New("unsupported_action")

	// ErrMaturityRequired means a close was requested without a maturity time.
	ErrMaturityRequired = errors.New("maturity_required")

	// ErrInvalidAmount means a trade amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid_trade_amount")

	// ErrNegativeReceiptField means a decoded receipt carried a negative
	// magnitude. Receipt values come from unsigned contract words, so this
	// is a protocol/decoding bug, not a runtime condition.
	ErrNegativeReceiptField = errors.New("negative_receipt_field")
)

// UnknownBlockError is raised when a transaction confirms with a failed
// status and no further detail. The dispatcher never retries it; the
// orchestrator may.
type UnknownBlockError struct {
	TxHash string
	Msg    string
}

func (e *UnknownBlockError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("unknown block error: %s", e.Msg)
	}
	return fmt.Sprintf("unknown block error: %s (tx %s)", e.Msg, e.TxHash)
}

// Retryable reports whether the orchestrator may resubmit the trade.
func (e *UnknownBlockError) Retryable() bool { return true }

// ReceiptDecodeError is raised when a receipt contains zero or more than one
// matching event log. Both indicate contract/ABI drift and are fatal.
type ReceiptDecodeError struct {
	Event   string
	Matches int
	TxHash  string
}

func (e *ReceiptDecodeError) Error() string {
	return fmt.Sprintf("receipt decode: expected exactly one %q event, found %d (tx %s)",
		e.Event, e.Matches, e.TxHash)
}

// LedgerUnderflowError is raised when applying a delta would drive a wallet
// field negative. It signals a bug in delta computation or a missed state
// sync; balances are never clamped to zero.
type LedgerUnderflowError struct {
	Field        string
	MaturityTime int64 // zero for non-position fields
	Have         decimal.Decimal
	Delta        decimal.Decimal
}

func (e *LedgerUnderflowError) Error() string {
	if e.MaturityTime != 0 {
		return fmt.Sprintf("ledger underflow: %s[%d] has %s, delta %s",
			e.Field, e.MaturityTime, e.Have, e.Delta)
	}
	return fmt.Sprintf("ledger underflow: %s has %s, delta %s", e.Field, e.Have, e.Delta)
}
