package engine

// engine.go — multi-agent execution orchestrator.
//
// Fans out across agents with one goroutine each; every agent's own trades
// run strictly sequentially because later trades read that agent's
// post-trade wallet. Cross-agent ordering is left to the chain, which
// serializes conflicting transactions at the protocol level, so no local
// locking over pool state is needed.
//
// A wallet is only updated from a confirmed receipt. Failures leave it
// untouched; the error plus a wallet/pool snapshot is handed to the crash
// sink for offline triage.

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvaldes-dev/ratebot/internal/application/dispatch"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

// Agent couples a signing identity, its position ledger and the policy
// deciding its trades. The wallet is exclusively owned by the engine while
// a batch runs.
type Agent struct {
	Signer ports.Signer
	Wallet domain.Wallet
	Policy ports.Policy
}

// Config holds orchestrator knobs.
type Config struct {
	// HaltOnErrors stops issuing further trades batch-wide after the first
	// failure. In-flight submissions are not aborted.
	HaltOnErrors bool
}

// Engine executes trade batches across agents.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	sink       ports.CrashSink
	cfg        Config
}

// New creates the orchestrator. sink may be nil when crash capture is not
// wired (tests).
func New(dispatcher *dispatch.Dispatcher, sink ports.CrashSink, cfg Config) *Engine {
	return &Engine{dispatcher: dispatcher, sink: sink, cfg: cfg}
}

// ExecuteAll asks every agent's policy for trades against the given pool
// snapshot and dispatches them. The returned error is the originating
// failure when HaltOnErrors is set and a trade failed; otherwise failures
// are only recorded in their outcomes.
func (e *Engine) ExecuteAll(ctx context.Context, agents []*Agent, pool domain.PoolState) ([]domain.TradeOutcome, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []domain.TradeOutcome
		halted   atomic.Bool
		firstErr error
	)

	for _, agent := range agents {
		wg.Add(1)
		go func(agent *Agent) {
			defer wg.Done()
			agentOutcomes := e.executeAgent(ctx, agent, pool, &halted)
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, agentOutcomes...)
			if firstErr == nil {
				for _, o := range agentOutcomes {
					if o.Status == domain.StatusFail {
						firstErr = o.Err
						break
					}
				}
			}
		}(agent)
	}
	wg.Wait()

	if e.cfg.HaltOnErrors && firstErr != nil {
		return outcomes, firstErr
	}
	return outcomes, nil
}

// ExecuteLiquidation overrides every agent's policy with close-everything
// requests. rng, when non-nil, shuffles each agent's liquidation order.
func (e *Engine) ExecuteLiquidation(ctx context.Context, agents []*Agent, pool domain.PoolState, rng *rand.Rand) ([]domain.TradeOutcome, error) {
	liquidators := make([]*Agent, len(agents))
	for i, agent := range agents {
		// Each agent gets its own derived source: the shared rng is not
		// safe across the per-agent goroutines, and per-agent seeding
		// keeps replays deterministic regardless of scheduling.
		var agentRNG *rand.Rand
		if rng != nil {
			agentRNG = rand.New(rand.NewSource(rng.Int63()))
		}
		liquidators[i] = &Agent{
			Signer: agent.Signer,
			Wallet: agent.Wallet,
			Policy: &liquidationPolicy{rng: agentRNG},
		}
	}
	outcomes, err := e.ExecuteAll(ctx, liquidators, pool)
	for i, agent := range agents {
		agent.Wallet = liquidators[i].Wallet
	}
	return outcomes, err
}

// executeAgent runs one agent's full trade sequence.
func (e *Engine) executeAgent(ctx context.Context, agent *Agent, pool domain.PoolState, halted *atomic.Bool) []domain.TradeOutcome {
	requests, err := agent.Policy.Actions(ctx, pool, agent.Wallet)
	if err != nil {
		slog.Warn("engine: policy failed", "agent", agent.Signer.Address(), "err", err)
		return nil
	}

	outcomes := make([]domain.TradeOutcome, 0, len(requests))
	for _, req := range requests {
		if halted.Load() {
			break
		}
		outcome := e.executeTrade(ctx, agent, req, pool)
		outcomes = append(outcomes, outcome)
		if outcome.Status == domain.StatusFail && e.cfg.HaltOnErrors {
			halted.Store(true)
		}
	}

	agent.Policy.PostAction(ctx, append([]domain.TradeOutcome(nil), outcomes...))
	return outcomes
}

// executeTrade dispatches one request and applies its delta exactly once.
func (e *Engine) executeTrade(ctx context.Context, agent *Agent, req domain.TradeRequest, pool domain.PoolState) domain.TradeOutcome {
	address := agent.Signer.Address()

	delta, receipt, err := e.dispatcher.Dispatch(ctx, req, agent.Wallet, pool, agent.Signer)
	if err != nil {
		e.reportCrash(ctx, agent, req, pool, err)
		return domain.TradeOutcome{Agent: address, Request: req, Status: domain.StatusFail, Err: err}
	}

	next, err := agent.Wallet.Apply(delta)
	if err != nil {
		// Confirmed on chain but locally inconsistent: the delta or a
		// missed prior sync is buggy. The wallet stays untouched.
		err = fmt.Errorf("engine: apply confirmed trade: %w", err)
		e.reportCrash(ctx, agent, req, pool, err)
		return domain.TradeOutcome{Agent: address, Request: req, Status: domain.StatusFail, Err: err}
	}
	agent.Wallet = next

	slog.Info("engine: trade executed",
		"agent", address,
		"action", req.Action.String(),
		"amount", req.Amount.String(),
		"base_delta", delta.Base.String(),
	)
	return domain.TradeOutcome{
		Agent: address, Request: req, Status: domain.StatusSuccess,
		Delta: &delta, Receipt: &receipt,
	}
}

// reportCrash assembles the triage payload and hands it to the sink.
func (e *Engine) reportCrash(ctx context.Context, agent *Agent, req domain.TradeRequest, pool domain.PoolState, cause error) {
	slog.Warn("engine: trade failed",
		"agent", agent.Signer.Address(),
		"action", req.Action.String(),
		"err", cause,
	)
	if e.sink == nil {
		return
	}
	report := domain.CrashReport{
		Time:         time.Now().UTC(),
		AgentAddress: agent.Signer.Address(),
		Request:      req,
		Err:          cause.Error(),
		Wallet:       agent.Wallet.Clone(),
		PoolConfig:   pool.Config,
		PoolState:    pool,
	}
	if err := e.sink.Record(ctx, report); err != nil {
		slog.Error("engine: crash sink failed", "err", err)
	}
}

// liquidationPolicy closes everything the wallet holds, ignoring whatever
// policy the agent normally runs.
type liquidationPolicy struct {
	rng *rand.Rand
}

func (p *liquidationPolicy) Actions(_ context.Context, _ domain.PoolState, wallet domain.Wallet) ([]domain.TradeRequest, error) {
	var requests []domain.TradeRequest
	for _, maturity := range sortedLongKeys(wallet) {
		requests = append(requests, domain.CloseLongTrade(wallet.Longs[maturity], maturity, nil))
	}
	for _, maturity := range sortedShortKeys(wallet) {
		requests = append(requests, domain.CloseShortTrade(wallet.Shorts[maturity].Balance, maturity, nil))
	}
	if wallet.LPTokens.IsPositive() {
		requests = append(requests, domain.RemoveLiquidityTrade(wallet.LPTokens))
	}
	if wallet.WithdrawalShares.IsPositive() {
		requests = append(requests, domain.RedeemWithdrawalSharesTrade(wallet.WithdrawalShares))
	}
	if p.rng != nil {
		p.rng.Shuffle(len(requests), func(i, j int) {
			requests[i], requests[j] = requests[j], requests[i]
		})
	}
	return requests, nil
}

func (p *liquidationPolicy) PostAction(context.Context, []domain.TradeOutcome) {}

func sortedLongKeys(w domain.Wallet) []int64 {
	out := make([]int64, 0, len(w.Longs))
	for m := range w.Longs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedShortKeys(w domain.Wallet) []int64 {
	out := make([]int64, 0, len(w.Shorts))
	for m := range w.Shorts {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
