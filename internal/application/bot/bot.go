package bot

// bot.go — top-level trading loop.
//
// Each cycle reads the pool from chain truth, fans out across the agents
// through the engine and reports the batch. Wallet state lives inside the
// agents; the loop itself is stateless between cycles.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvaldes-dev/ratebot/internal/application/engine"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/ports"
)

// Config controls the loop cadence.
type Config struct {
	Interval time.Duration
}

// Bot ties the pool reader, engine and reporter into a periodic cycle.
type Bot struct {
	reader   ports.PoolReader
	engine   *engine.Engine
	reporter ports.Reporter
	agents   []*engine.Agent
	cfg      Config
}

// New assembles a bot. The reporter may be nil for headless runs.
func New(reader ports.PoolReader, eng *engine.Engine, reporter ports.Reporter, agents []*engine.Agent, cfg Config) *Bot {
	return &Bot{reader: reader, engine: eng, reporter: reporter, agents: agents, cfg: cfg}
}

// Run cycles until the context is cancelled. A failed cycle is logged and
// the loop continues; only engine halts (halt_on_errors) stop the run.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("bot: starting", "interval", b.cfg.Interval, "agents", len(b.agents))

	// First cycle immediately, then on the ticker.
	if _, err := b.RunOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("bot: stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if _, err := b.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// RunOnce executes a single trading cycle and returns its outcomes.
func (b *Bot) RunOnce(ctx context.Context) ([]domain.TradeOutcome, error) {
	start := time.Now()

	pool, err := b.reader.ReadPool(ctx)
	if err != nil {
		slog.Error("bot: pool read failed, skipping cycle", "err", err)
		return nil, nil
	}

	outcomes, err := b.engine.ExecuteAll(ctx, b.agents, pool)
	if b.reporter != nil && len(outcomes) > 0 {
		if rerr := b.reporter.Report(ctx, outcomes); rerr != nil {
			slog.Warn("bot: reporter error", "err", rerr)
		}
	}
	if err != nil {
		return outcomes, fmt.Errorf("bot: batch halted: %w", err)
	}

	slog.Info("bot: cycle complete",
		"trades", len(outcomes),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"block", pool.BlockNumber,
	)
	return outcomes, nil
}
