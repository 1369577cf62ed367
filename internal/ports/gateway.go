package ports

import (
	"context"
	"math/big"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

// Call is one contract invocation: the entry-point name plus ABI-ready
// arguments (amounts as 18-decimal scaled *big.Int).
type Call struct {
	Method string
	Args   []any
}

// Event is one decoded event log. Args holds the event fields by their ABI
// names; numeric values are 18-decimal scaled *big.Int.
type Event struct {
	Name string
	Args map[string]any
}

// Receipt is a confirmed transaction receipt with its decoded event logs.
// StatusFailed (status 0) means the transaction was mined but reverted;
// that is distinct from "not yet mined", which surfaces as an error from
// Submit instead.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
	Events      []Event
}

// ReceiptStatusSuccessful mirrors the EVM receipt status convention.
const ReceiptStatusSuccessful = uint64(1)

// BlockInfo is the latest block header subset the engine needs.
type BlockInfo struct {
	Number    uint64
	Timestamp int64
}

// Signer identifies the account a transaction is sent from. Concrete
// gateways hold the matching key material themselves.
type Signer interface {
	Address() string
}

// ChainGateway submits signed calls and answers read-only previews. Both
// Preview and Submit may block on the network; callers bound them with the
// context deadline.
type ChainGateway interface {
	// Preview executes the call read-only and returns the decoded outputs
	// in declaration order. No state change.
	Preview(ctx context.Context, call Call) ([]any, error)

	// Submit signs, sends and waits for the call to be mined, returning the
	// receipt with decoded event logs. A mined-but-reverted transaction is
	// returned as a receipt with a failed status, not as an error.
	Submit(ctx context.Context, call Call, signer Signer) (Receipt, error)

	// LatestBlock returns the current head block number and timestamp.
	LatestBlock(ctx context.Context) (BlockInfo, error)
}

// PoolReader exposes the pool's current configuration and reserves. Live
// gateways read these from the contract; the simulated gateway answers from
// memory.
type PoolReader interface {
	ReadPool(ctx context.Context) (domain.PoolState, error)
}

// ScaledArg is a convenience alias documenting that the argument is an
// 18-decimal fixed-point quantity on the wire.
type ScaledArg = *big.Int
