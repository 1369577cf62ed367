package ports

import (
	"context"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

// Policy decides an agent's trades against the current pool state. Policies
// that need randomness receive an explicit source at construction; nothing
// here reads process-global RNG state.
type Policy interface {
	// Actions returns zero or more trade requests for this cycle. The
	// wallet is the agent's post-previous-trade view.
	Actions(ctx context.Context, pool domain.PoolState, wallet domain.Wallet) ([]domain.TradeRequest, error)

	// PostAction is called once with the agent's outcomes after its whole
	// sequence settles, for policy-side bookkeeping.
	PostAction(ctx context.Context, outcomes []domain.TradeOutcome)
}

// CrashSink accepts crash-report payloads for offline triage. The engine's
// only obligation is to assemble and hand over the payload.
type CrashSink interface {
	Record(ctx context.Context, report domain.CrashReport) error
}

// Reporter presents a batch of trade outcomes to the operator.
type Reporter interface {
	Report(ctx context.Context, outcomes []domain.TradeOutcome) error
}
