package bot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/grid"
	"gridpilot/pkg/journal"
	"gridpilot/pkg/ledger"
	"gridpilot/pkg/market"
	"gridpilot/pkg/market/hyperliquid"
	"gridpilot/pkg/risk"
	"gridpilot/pkg/signer"
)

// Config is the trading bot schema: one pair on one venue.
type Config struct {
	Pair          string        `yaml:"pair"`
	Venue         string        `yaml:"venue"`
	Account       string        `yaml:"account"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	BaseRisk      float64       `yaml:"base_risk"`
	PollInterval  time.Duration `yaml:"-"`
	DepthTTL      time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	PollIntervalRaw  string `yaml:"poll_interval"`
	DepthTTLRaw      string `yaml:"depth_ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`

	Grid      grid.Config      `yaml:"grid"`
	Risk      risk.Config      `yaml:"risk"`
	Execution execution.Config `yaml:"execution"`
	Signer    signer.Config    `yaml:"signer"`
	Ledger    ledger.Config    `yaml:"ledger"`
	Journal   journal.Config   `yaml:"journal"`
	Reference ReferenceConfig  `yaml:"reference"`

	pair market.Pair
}

// ReferenceConfig names an external market that supplies order-book depth
// when the trading venue has none.
type ReferenceConfig struct {
	Type        string `yaml:"type"` // "" | hyperliquid
	URL         string `yaml:"url"`
	MaxRetries  int    `yaml:"max_retries"`
	DepthLevels int    `yaml:"depth_levels"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bot config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read bot config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal bot config: %w", err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare fills defaults, parses durations, expands ${ENV} references and
// validates every section.
func (c *Config) Prepare() error {
	c.applyDefaults()
	if err := c.parseDurations(); err != nil {
		return err
	}
	c.Account = strings.TrimSpace(os.ExpandEnv(c.Account))
	c.Journal.Path = strings.TrimSpace(os.ExpandEnv(c.Journal.Path))
	c.Reference.Type = strings.ToLower(strings.TrimSpace(c.Reference.Type))
	c.Reference.URL = strings.TrimSpace(os.ExpandEnv(c.Reference.URL))
	if err := c.Execution.Parse(); err != nil {
		return err
	}
	c.Execution.ApplyDefaults()
	if err := c.Signer.Prepare(); err != nil {
		return err
	}
	if err := c.Ledger.Normalise(); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Pair) == "" {
		c.Pair = "SOL/USDC"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if strings.TrimSpace(c.PollIntervalRaw) == "" {
		c.PollIntervalRaw = "5s"
	}
	if strings.TrimSpace(c.DepthTTLRaw) == "" {
		c.DepthTTLRaw = "30s"
	}
	if strings.TrimSpace(c.SweepIntervalRaw) == "" {
		c.SweepIntervalRaw = "15s"
	}
	c.Risk.ApplyDefaults()
	if c.Grid.Micro == 0 && c.Grid.Small == 0 {
		c.Grid.Tiers = c.Risk.Tiers
	}
	c.Grid.ApplyDefaults()
	if c.BaseRisk == 0 {
		c.BaseRisk = c.Risk.RiskPerTrade
	}
	if c.Reference.MaxRetries == 0 {
		c.Reference.MaxRetries = 3
	}
}

func (c *Config) parseDurations() error {
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", c.PollIntervalRaw, &c.PollInterval},
		{"depth_ttl", c.DepthTTLRaw, &c.DepthTTL},
		{"sweep_interval", c.SweepIntervalRaw, &c.SweepInterval},
	} {
		d, err := time.ParseDuration(strings.TrimSpace(f.raw))
		if err != nil {
			return fmt.Errorf("bot config: invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	pair, err := market.ParsePair(c.Pair)
	if err != nil {
		return fmt.Errorf("bot config: %w", err)
	}
	c.pair = pair
	if c.PollInterval <= 0 {
		return errors.New("bot config: poll_interval must be positive")
	}
	if c.DepthTTL <= 0 || c.SweepInterval <= 0 {
		return errors.New("bot config: depth_ttl and sweep_interval must be positive")
	}
	if c.BaseRisk <= 0 || c.BaseRisk > 0.1 {
		return fmt.Errorf("bot config: base_risk must be in (0, 0.1], got %v", c.BaseRisk)
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return err
	}
	switch c.Reference.Type {
	case "", ReferenceHyperliquid:
	default:
		return fmt.Errorf("bot config: unsupported reference type %q", c.Reference.Type)
	}
	if len(c.Ledger.Venues) > 0 {
		if err := c.Ledger.Validate(); err != nil {
			return err
		}
		name := c.Venue
		if name == "" {
			name = c.Ledger.Default
		}
		if _, ok := c.Ledger.Venues[name]; !ok {
			return fmt.Errorf("bot config: venue %q not defined", name)
		}
	}
	return nil
}

// ReferenceHyperliquid reads depth from the Hyperliquid info endpoint.
const ReferenceHyperliquid = "hyperliquid"

// BuildReference returns the configured depth reference, or nil.
func (c *Config) BuildReference() market.DepthSource {
	if c.Reference.Type != ReferenceHyperliquid {
		return nil
	}
	return hyperliquid.NewClient(c.Reference.URL, c.Reference.MaxRetries,
		hyperliquid.WithDepthLevels(c.Reference.DepthLevels))
}

// MarketPair returns the parsed pair. Valid after Prepare.
func (c *Config) MarketPair() market.Pair { return c.pair }

// BuildVenue instantiates the configured venue.
func (c *Config) BuildVenue() (ledger.Venue, error) {
	return c.Ledger.Build(c.Venue)
}
