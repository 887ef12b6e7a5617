package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/market"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(testConfig))
	require.NoError(t, err)

	assert.Equal(t, market.Pair{Base: "SOL", Quote: "USDC"}, cfg.MarketPair())
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.DepthTTL)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, cfg.Risk.RiskPerTrade, cfg.BaseRisk)
	assert.Equal(t, cfg.Risk.Tiers, cfg.Grid.Tiers)
	assert.Equal(t, 1500.0, cfg.Risk.Capital)
	assert.Positive(t, cfg.Execution.PollInterval)
}

func TestLoadConfigFileWithVenue(t *testing.T) {
	t.Setenv("GRID_ACCOUNT", "wallet-7")
	path := filepath.Join(t.TempDir(), "bot.yaml")
	body := testConfig + `
account: ${GRID_ACCOUNT}
venue: paper
ledger:
  venues:
    paper:
      type: sim
      sim:
        price: 120
        spread_bps: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wallet-7", cfg.Account)

	venue, err := cfg.BuildVenue()
	require.NoError(t, err)
	price, err := venue.Price(context.Background(), cfg.MarketPair())
	require.NoError(t, err)
	assert.Equal(t, 120.0, price)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]string{
		"bad pair":        strings.Replace(testConfig, "SOL/USDC", "SOLUSDC", 1),
		"bad interval":    strings.Replace(testConfig, "poll_interval: 1s", "poll_interval: soon", 1),
		"zero interval":   strings.Replace(testConfig, "poll_interval: 1s", "poll_interval: 0s", 1),
		"excess risk":     testConfig + "base_risk: 0.5\n",
		"missing key":     strings.Replace(testConfig, "private_key: "+testKey, "private_key: \"\"", 1),
		"undefined venue": testConfig + "venue: main\nledger:\n  venues:\n    other:\n      type: sim\n",
		"bad reference":   testConfig + "reference:\n  type: binance\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReferenceDepth(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(testConfig))
	require.NoError(t, err)
	assert.Nil(t, cfg.BuildReference())

	cfg, err = LoadConfigFromReader(strings.NewReader(testConfig + "reference:\n  type: Hyperliquid\n  depth_levels: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, ReferenceHyperliquid, cfg.Reference.Type)
	assert.Equal(t, 3, cfg.Reference.MaxRetries)
	assert.NotNil(t, cfg.BuildReference())
}
