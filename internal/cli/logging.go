package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/internal/config"
	"gridpilot/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		pendingLine(cfg),
		sectionLine("Bot config", cfg.Bot),
	}
	if b := cfg.Bot.Value; b != nil {
		lines = append(lines,
			fmt.Sprintf("Pair: %s on venue %s", b.Pair, b.VenueName()),
			fmt.Sprintf("Signer: %s", b.Signer.Kind),
			fmt.Sprintf("Concurrency: %d, poll every %s", b.MaxConcurrent, b.PollInterval),
			fmt.Sprintf("Capital: %.2f", b.Risk.Capital),
		)
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func pendingLine(cfg *config.Config) string {
	if cfg.Pending.InMemory {
		return "Pending store: in memory"
	}
	return fmt.Sprintf("Pending store: %s", cfg.PendingDir())
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case !section.Configured():
		return fmt.Sprintf("%s: not configured", name)
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	default:
		return fmt.Sprintf("%s: inline", name)
	}
}
