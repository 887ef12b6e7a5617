package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/bot"
	"gridpilot/pkg/confkit"
	_ "gridpilot/pkg/ledger/rpc"
	_ "gridpilot/pkg/ledger/sim"
	"gridpilot/pkg/signer"
)

const botYAML = `
pair: SOL/USDC
venue: main
risk:
  capital: 1500
signer:
  private_key: ${GRID_TEST_KEY}
ledger:
  venues:
    main:
      type: rpc
      rpc_url: https://rpc.example.test
      quote_url: https://quote.example.test
reference:
  type: hyperliquid
`

func writeConfig(t *testing.T, dir, main string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot.yaml"), []byte(botYAML), 0o600))
	path := filepath.Join(dir, "gridpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(main), 0o600))
	return path
}

func TestLoad_TestEnvForcesPaperVenue(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("GRID_TEST_KEY", "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f")
	dir := t.TempDir()
	path := writeConfig(t, dir, `
Name: gridpilot
Host: 127.0.0.1
Port: 8888
Bot:
  File: bot.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsTestEnv())
	assert.Equal(t, filepath.Join(dir, "bot.yaml"), cfg.Bot.File)
	require.NotNil(t, cfg.Bot.Value)
	assert.Equal(t, "sim", cfg.Bot.Value.Ledger.Venues["main"].Type)
	assert.Equal(t, signer.KindSimDevice, cfg.Bot.Value.Signer.Kind)
	assert.Nil(t, cfg.Bot.Value.BuildReference())
	assert.Equal(t, 10, cfg.TTL.Short)
	assert.Equal(t, filepath.Join(dir, "data/pending"), cfg.PendingDir())
	assert.Nil(t, cfg.CacheConf())
	assert.Equal(t, dir, cfg.BaseDir())
}

func TestLoad_PartialSectionsKeepDefaults(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("GRID_TEST_KEY", "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f")
	path := writeConfig(t, t.TempDir(), `
Name: gridpilot
Host: 127.0.0.1
Port: 8888
TTL:
  Short: 3
Pending:
  InMemory: true
Bot:
  File: bot.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CacheTTL{Short: 3, Medium: 60, Long: 300}, cfg.TTL)
	assert.True(t, cfg.Pending.InMemory)
	assert.Equal(t, "data/pending", cfg.Pending.Dir)
}

func TestLoad_ProdKeepsVenue(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("GRID_TEST_KEY", "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f")
	path := writeConfig(t, t.TempDir(), `
Name: gridpilot
Host: 127.0.0.1
Port: 8888
Env: prod
Redis:
  Host: 127.0.0.1:6379
Bot:
  File: bot.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.IsTestEnv())
	assert.Equal(t, "rpc", cfg.Bot.Value.Ledger.Venues["main"].Type)
	assert.Equal(t, signer.KindSoftware, cfg.Bot.Value.Signer.Kind)
	assert.NotNil(t, cfg.Bot.Value.BuildReference())
	require.Len(t, cfg.CacheConf(), 1)
	assert.Equal(t, "127.0.0.1:6379", cfg.CacheConf()[0].Host)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:     "dev",
			TTL:     CacheTTL{Short: 10, Medium: 60, Long: 300},
			Pending: PendingConf{Dir: "data/pending"},
			Bot:     confkit.Section[bot.Config]{File: "bot.yaml"},
		}
	}
	cfg := base()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(*Config){
		"env":          func(c *Config) { c.Env = "staging" },
		"bot":          func(c *Config) { c.Bot.File = "" },
		"ttl":          func(c *Config) { c.TTL.Medium = 0 },
		"pending":      func(c *Config) { c.Pending.Dir = "" },
		"cacheless db": func(c *Config) { c.Postgres.DSN = "postgres://localhost/gridpilot" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
