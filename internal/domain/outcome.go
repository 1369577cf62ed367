package domain

import "time"

// TradeStatus is the terminal state of one dispatched trade.
type TradeStatus int

const (
	StatusSuccess TradeStatus = iota
	StatusFail
)

func (s TradeStatus) String() string {
	if s == StatusSuccess {
		return "SUCCESS"
	}
	return "FAIL"
}

// TradeOutcome records what happened to one trade request. On success Delta
// and Receipt are set and the delta has already been applied to the agent's
// wallet; on failure Err is set and the wallet is untouched.
type TradeOutcome struct {
	Agent   string
	Request TradeRequest
	Status  TradeStatus
	Delta   *WalletDelta
	Receipt *ReceiptBreakdown
	Err     error
}

// CrashReport is the payload assembled for the crash-report sink when a
// trade fails: enough context to triage offline without chain access.
type CrashReport struct {
	Time         time.Time
	AgentAddress string
	Request      TradeRequest
	Err          string
	Wallet       Wallet // snapshot at failure time
	PoolConfig   PoolConfig
	PoolState    PoolState
}
