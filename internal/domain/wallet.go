package domain

// wallet.go — local position bookkeeping for a single agent.
//
// The wallet is the agent's view of its own on-chain positions: base
// balance, open longs and shorts keyed by maturity, LP tokens and pending
// withdrawal shares. It is updated exactly once per confirmed trade by
// applying a WalletDelta; Apply is pure and returns a new wallet so a
// failed application leaves the original untouched.

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts are 18-decimal fixed point on the wire; the default division
	// precision (16) would lose the low digits in rate math. This raises the
	// process-global decimal.DivisionPrecision for every importer, which is
	// intended: the solver and the pricing oracle divide throughout and all
	// of them need the extra digits. Guarded so a host that already set it
	// higher keeps its value.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Short is one short position. OpenVaultSharePrice is fixed when the short
// is first opened and only ever re-blended when more bonds are shorted at
// the same maturity; reducing the balance never touches it.
type Short struct {
	Balance             decimal.Decimal
	OpenVaultSharePrice decimal.Decimal
}

// Wallet is the position ledger for one agent. Maps are keyed by maturity
// time in seconds; entries that reach exactly zero are removed.
type Wallet struct {
	Address          string
	Base             decimal.Decimal
	Longs            map[int64]decimal.Decimal
	Shorts           map[int64]Short
	LPTokens         decimal.Decimal
	WithdrawalShares decimal.Decimal
}

// NewWallet returns an empty wallet funded with the given base balance.
func NewWallet(address string, base decimal.Decimal) Wallet {
	return Wallet{
		Address: address,
		Base:    base,
		Longs:   make(map[int64]decimal.Decimal),
		Shorts:  make(map[int64]Short),
	}
}

// Clone returns a deep copy of the wallet.
func (w Wallet) Clone() Wallet {
	out := w
	out.Longs = make(map[int64]decimal.Decimal, len(w.Longs))
	for k, v := range w.Longs {
		out.Longs[k] = v
	}
	out.Shorts = make(map[int64]Short, len(w.Shorts))
	for k, v := range w.Shorts {
		out.Shorts[k] = v
	}
	return out
}

// ShortDelta adjusts one short position. OpenVaultSharePrice is only
// consulted when Balance is positive (opening).
type ShortDelta struct {
	Balance             decimal.Decimal
	OpenVaultSharePrice decimal.Decimal
}

// WalletDelta is the signed wallet adjustment derived from one confirmed
// trade. It is applied to exactly one wallet, exactly once, atomically.
type WalletDelta struct {
	Base             decimal.Decimal
	Longs            map[int64]decimal.Decimal
	Shorts           map[int64]ShortDelta
	LPTokens         decimal.Decimal
	WithdrawalShares decimal.Decimal
}

// Apply returns a new wallet with the delta applied. If any field would go
// negative it returns the receiver unchanged and a *LedgerUnderflowError;
// nothing is ever clamped. Position entries that land on exactly zero are
// deleted from the maps.
func (w Wallet) Apply(d WalletDelta) (Wallet, error) {
	out := w.Clone()

	out.Base = out.Base.Add(d.Base)
	if out.Base.IsNegative() {
		return w, &LedgerUnderflowError{Field: "base", Have: w.Base, Delta: d.Base}
	}
	out.LPTokens = out.LPTokens.Add(d.LPTokens)
	if out.LPTokens.IsNegative() {
		return w, &LedgerUnderflowError{Field: "lp_tokens", Have: w.LPTokens, Delta: d.LPTokens}
	}
	out.WithdrawalShares = out.WithdrawalShares.Add(d.WithdrawalShares)
	if out.WithdrawalShares.IsNegative() {
		return w, &LedgerUnderflowError{Field: "withdrawal_shares", Have: w.WithdrawalShares, Delta: d.WithdrawalShares}
	}

	for maturity, bonds := range d.Longs {
		if bonds.IsZero() {
			continue
		}
		next := out.Longs[maturity].Add(bonds)
		if next.IsNegative() {
			return w, &LedgerUnderflowError{
				Field: "longs", MaturityTime: maturity,
				Have: w.Longs[maturity], Delta: bonds,
			}
		}
		if next.IsZero() {
			delete(out.Longs, maturity)
		} else {
			out.Longs[maturity] = next
		}
	}

	for maturity, sd := range d.Shorts {
		if sd.Balance.IsZero() {
			continue
		}
		cur, exists := out.Shorts[maturity]
		next := cur.Balance.Add(sd.Balance)
		if next.IsNegative() {
			return w, &LedgerUnderflowError{
				Field: "shorts", MaturityTime: maturity,
				Have: cur.Balance, Delta: sd.Balance,
			}
		}
		if next.IsZero() {
			delete(out.Shorts, maturity)
			continue
		}
		openPrice := cur.OpenVaultSharePrice
		if !exists {
			openPrice = sd.OpenVaultSharePrice
		} else if sd.Balance.IsPositive() {
			// Two shorts stacked at one maturity: blend the open price by
			// balance-weighted mean. Reductions keep the stored price.
			openPrice = sd.OpenVaultSharePrice.Mul(sd.Balance).
				Add(cur.OpenVaultSharePrice.Mul(cur.Balance)).
				Div(next)
		}
		out.Shorts[maturity] = Short{Balance: next, OpenVaultSharePrice: openPrice}
	}

	return out, nil
}

// HasPositions reports whether the wallet holds anything beyond base.
func (w Wallet) HasPositions() bool {
	return len(w.Longs) > 0 || len(w.Shorts) > 0 ||
		w.LPTokens.IsPositive() || w.WithdrawalShares.IsPositive()
}
