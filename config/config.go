package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration.
type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Market   MarketConfig   `yaml:"market"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// ChainConfig points at the RPC endpoint.
type ChainConfig struct {
	RPCURL        string  `yaml:"rpc_url"`
	ChainID       int64   `yaml:"chain_id"`
	RPCRatePerSec float64 `yaml:"rpc_rate_per_sec"` // client-side RPC throttle, 0 = off
}

// MarketConfig identifies the pool being traded.
type MarketConfig struct {
	ContractAddress    string `yaml:"contract_address"`
	PositionDuration   int64  `yaml:"position_duration_seconds"`
	CheckpointDuration int64  `yaml:"checkpoint_duration_seconds"`
	MinimumTransaction string `yaml:"minimum_transaction"` // base units, decimal string
}

// TradingConfig controls cycle cadence and execution behavior.
type TradingConfig struct {
	IntervalSeconds    int    `yaml:"interval_seconds"`
	DefaultSlippage    string `yaml:"default_slippage"` // e.g. "0.01" for 1%
	PreviewBeforeTrade bool   `yaml:"preview_before_trade"`
	HaltOnErrors       bool   `yaml:"halt_on_errors"`
}

// StrategyConfig parameterizes the rate-arbitrage policy.
type StrategyConfig struct {
	RateThreshold string `yaml:"rate_threshold"` // min |fixed − variable| gap to act on
	MaxTradeBase  string `yaml:"max_trade_base"`
	MinTradeBonds string `yaml:"min_trade_bonds"`
}

// StorageConfig controls the crash-report database.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file plus a .env file if present. Env values
// override YAML for the keys that map to them. Secrets (the signer key)
// only ever come from the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TradeInterval returns the cycle cadence as a time.Duration.
func (c *Config) TradeInterval() time.Duration {
	return time.Duration(c.Trading.IntervalSeconds) * time.Second
}

// DefaultSlippage parses the configured tolerance; nil when unset so
// trades run unbounded.
func (c *Config) DefaultSlippage() (*decimal.Decimal, error) {
	if c.Trading.DefaultSlippage == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(c.Trading.DefaultSlippage)
	if err != nil {
		return nil, fmt.Errorf("config: parse default_slippage %q: %w", c.Trading.DefaultSlippage, err)
	}
	return &d, nil
}

// DecimalField parses one of the decimal-string fields, zero when empty.
func DecimalField(s, name string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: parse %s %q: %w", name, s, err)
	}
	return d, nil
}

// SignerKey returns the hex private key from the environment. Never part
// of the YAML file.
func SignerKey() (string, error) {
	key := os.Getenv("RATEBOT_PRIVATE_KEY")
	if key == "" {
		return "", fmt.Errorf("config: RATEBOT_PRIVATE_KEY not set")
	}
	return key, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RATEBOT_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("RATEBOT_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}
	if v := os.Getenv("RATEBOT_CONTRACT"); v != "" {
		cfg.Market.ContractAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 1
	}
	if cfg.Market.PositionDuration <= 0 {
		cfg.Market.PositionDuration = 365 * 24 * 3600
	}
	if cfg.Market.CheckpointDuration <= 0 {
		cfg.Market.CheckpointDuration = 24 * 3600
	}
	if cfg.Market.MinimumTransaction == "" {
		cfg.Market.MinimumTransaction = "0.001"
	}
	if cfg.Trading.IntervalSeconds <= 0 {
		cfg.Trading.IntervalSeconds = 60
	}
	if cfg.Trading.DefaultSlippage == "" {
		cfg.Trading.DefaultSlippage = "0.01"
	}
	if cfg.Strategy.RateThreshold == "" {
		cfg.Strategy.RateThreshold = "0.001"
	}
	if cfg.Strategy.MaxTradeBase == "" {
		cfg.Strategy.MaxTradeBase = "10000"
	}
	if cfg.Strategy.MinTradeBonds == "" {
		cfg.Strategy.MinTradeBonds = "0.001"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "ratebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("config: chain.rpc_url is required")
	}
	if c.Market.ContractAddress == "" {
		return fmt.Errorf("config: market.contract_address is required")
	}
	if c.Market.CheckpointDuration > c.Market.PositionDuration {
		return fmt.Errorf("config: checkpoint duration %d exceeds position duration %d",
			c.Market.CheckpointDuration, c.Market.PositionDuration)
	}
	return nil
}
