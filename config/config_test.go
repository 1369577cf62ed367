package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
chain:
  rpc_url: "http://localhost:8545"
market:
  contract_address: "0xabc"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, int64(1), cfg.Chain.ChainID)
	assert.Equal(t, int64(365*24*3600), cfg.Market.PositionDuration)
	assert.Equal(t, int64(24*3600), cfg.Market.CheckpointDuration)
	assert.Equal(t, 60, cfg.Trading.IntervalSeconds)
	assert.Equal(t, "0.01", cfg.Trading.DefaultSlippage)
	assert.Equal(t, "ratebot.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	slippage, err := cfg.DefaultSlippage()
	require.NoError(t, err)
	require.NotNil(t, slippage)
	assert.Equal(t, "0.01", slippage.String())
}

func TestLoad_ExplicitValues(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
chain:
  rpc_url: "http://localhost:8545"
  chain_id: 11155111
market:
  contract_address: "0xabc"
  position_duration_seconds: 604800
  checkpoint_duration_seconds: 3600
trading:
  interval_seconds: 15
  halt_on_errors: true
strategy:
  rate_threshold: "0.002"
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, int64(11155111), cfg.Chain.ChainID)
	assert.Equal(t, int64(604800), cfg.Market.PositionDuration)
	assert.True(t, cfg.Trading.HaltOnErrors)
	assert.Equal(t, "0.002", cfg.Strategy.RateThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RATEBOT_RPC_URL", "http://override:9999")
	t.Setenv("RATEBOT_CHAIN_ID", "42161")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://override:9999", cfg.Chain.RPCURL)
	assert.Equal(t, int64(42161), cfg.Chain.ChainID)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Validation(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
market:
  contract_address: "0xabc"
`))
	assert.Error(t, err, "sin rpc_url no hay configuración válida")

	_, err = config.Load(writeConfig(t, `
chain:
  rpc_url: "http://localhost:8545"
market:
  contract_address: "0xabc"
  position_duration_seconds: 100
  checkpoint_duration_seconds: 200
`))
	assert.Error(t, err, "un checkpoint mayor que la duración de posición es incoherente")
}

func TestSignerKey(t *testing.T) {
	t.Setenv("RATEBOT_PRIVATE_KEY", "")
	_, err := config.SignerKey()
	assert.Error(t, err)

	t.Setenv("RATEBOT_PRIVATE_KEY", "0xdeadbeef")
	key, err := config.SignerKey()
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", key)
}
