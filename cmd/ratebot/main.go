package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/mvaldes-dev/ratebot/config"
	"github.com/mvaldes-dev/ratebot/internal/adapters/crashdb"
	"github.com/mvaldes-dev/ratebot/internal/adapters/notify"
	"github.com/mvaldes-dev/ratebot/internal/adapters/onchain"
	"github.com/mvaldes-dev/ratebot/internal/adapters/pricing"
	"github.com/mvaldes-dev/ratebot/internal/application/bot"
	"github.com/mvaldes-dev/ratebot/internal/application/dispatch"
	"github.com/mvaldes-dev/ratebot/internal/application/engine"
	"github.com/mvaldes-dev/ratebot/internal/application/solver"
	"github.com/mvaldes-dev/ratebot/internal/domain"
	"github.com/mvaldes-dev/ratebot/internal/harness"
	"github.com/mvaldes-dev/ratebot/internal/ports"
	"github.com/mvaldes-dev/ratebot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one trading cycle and exit")
	dryRun := flag.Bool("dry-run", false, "trade against an in-memory simulated pool")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the full per-trade table (default: compact)")
	haltOnErrors := flag.Bool("halt-on-errors", false, "stop the batch on the first trade failure")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *haltOnErrors {
		cfg.Trading.HaltOnErrors = true
	}
	setupLogger(cfg.Log)

	slog.Info("ratebot starting",
		"config", *configPath,
		"interval", cfg.TradeInterval(),
		"dry_run", *dryRun,
		"once", *once,
		"contract", cfg.Market.ContractAddress,
	)

	slippage, err := cfg.DefaultSlippage()
	if err != nil {
		slog.Error("invalid slippage config", "err", err)
		os.Exit(1)
	}
	maxTradeBase := mustDecimal(cfg.Strategy.MaxTradeBase, "strategy.max_trade_base")
	minTradeBonds := mustDecimal(cfg.Strategy.MinTradeBonds, "strategy.min_trade_bonds")
	rateThreshold := mustDecimal(cfg.Strategy.RateThreshold, "strategy.rate_threshold")

	var (
		gateway ports.ChainGateway
		reader  ports.PoolReader
		signer  ports.Signer
	)
	if *dryRun {
		sim := newSimPool(cfg)
		gateway = sim
		reader = sim
		signer = harness.NewSimSigner("0x00000000000000000000000000000000000000d1")
	} else {
		gw, err := onchain.NewGateway(cfg.Chain.RPCURL, cfg.Market.ContractAddress, cfg.Chain.ChainID, cfg.Chain.RPCRatePerSec)
		if err != nil {
			slog.Error("failed to connect gateway", "err", err)
			os.Exit(1)
		}
		gateway = gw
		reader = gw

		key, err := config.SignerKey()
		if err != nil {
			slog.Error("missing signer key", "err", err)
			os.Exit(1)
		}
		account, err := onchain.NewAccount(key)
		if err != nil {
			slog.Error("invalid signer key", "err", err)
			os.Exit(1)
		}
		signer = account
	}

	var sink ports.CrashSink
	if !*dryRun {
		store, err := crashdb.NewSQLiteSink(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open crash sink", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer store.Close()
		sink = store
	}

	oracle := pricing.NewYieldSpace()
	policy := strategy.NewArb(oracle, solver.New(oracle), strategy.ArbConfig{
		MaxTradeBase:  maxTradeBase,
		MinTradeBonds: minTradeBonds,
		RateThreshold: rateThreshold,
		Slippage:      slippage,
	})

	dispatcher := dispatch.New(gateway, cfg.Trading.PreviewBeforeTrade)
	eng := engine.New(dispatcher, sink, engine.Config{HaltOnErrors: cfg.Trading.HaltOnErrors})
	reporter := notify.NewConsole(*table)

	// The trading budget bounds the wallet's view of spendable base.
	agents := []*engine.Agent{{
		Signer: signer,
		Wallet: domain.NewWallet(signer.Address(), maxTradeBase),
		Policy: policy,
	}}

	b := bot.New(reader, eng, reporter, agents, bot.Config{Interval: cfg.TradeInterval()})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if _, err := b.RunOnce(ctx); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := b.Run(ctx); err != nil {
		slog.Error("bot exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("ratebot stopped cleanly")
}

// newSimPool seeds a liquid in-memory pool for dry runs.
func newSimPool(cfg *config.Config) *harness.SimGateway {
	return harness.NewSimGateway(harness.SimConfig{
		Config: domain.PoolConfig{
			ContractAddress:    cfg.Market.ContractAddress,
			PositionDuration:   cfg.Market.PositionDuration,
			CheckpointDuration: cfg.Market.CheckpointDuration,
			Fees: domain.Fees{
				Curve: decimal.RequireFromString("0.001"),
				Flat:  decimal.RequireFromString("0.0001"),
			},
			MinimumTransaction: mustDecimal(cfg.Market.MinimumTransaction, "market.minimum_transaction"),
			InitialSharePrice:  decimal.NewFromInt(1),
		},
		ShareReserves:   decimal.NewFromInt(500_000),
		BondReserves:    decimal.NewFromInt(1_000_000),
		LPTotalSupply:   decimal.NewFromInt(500_000),
		VaultSharePrice: decimal.NewFromInt(1),
		VariableRate:    decimal.RequireFromString("0.05"),
		StartTime:       1_700_000_000,
	})
}

func mustDecimal(s, name string) decimal.Decimal {
	d, err := config.DecimalField(s, name)
	if err != nil {
		slog.Error("invalid config value", "field", name, "err", err)
		os.Exit(1)
	}
	return d
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
