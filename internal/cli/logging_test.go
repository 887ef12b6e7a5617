package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gridpilot/internal/config"
	"gridpilot/pkg/bot"
)

func TestConfigSummaryLines(t *testing.T) {
	assert.Equal(t, []string{"Configuration: <nil>"}, ConfigSummaryLines(nil))

	cfg := &config.Config{Env: "dev", Pending: config.PendingConf{InMemory: true}}
	cfg.TTL = config.CacheTTL{Short: 10, Medium: 60, Long: 300}
	lines := ConfigSummaryLines(cfg)
	assert.Contains(t, lines, "Environment: dev")
	assert.Contains(t, lines, "Postgres: not configured")
	assert.Contains(t, lines, "Pending store: in memory")
	assert.Contains(t, lines, "Bot config: not configured")

	cfg.Bot.Value = &bot.Config{Pair: "SOL/USDC", Venue: "paper", MaxConcurrent: 3}
	lines = ConfigSummaryLines(cfg)
	assert.Contains(t, lines, "Bot config: inline")
	assert.Contains(t, lines, "Pair: SOL/USDC on venue paper")
}
