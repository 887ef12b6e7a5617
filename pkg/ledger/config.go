package ledger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"gridpilot/pkg/market"
)

// Config captures one or more venue definitions.
type Config struct {
	Default string                  `yaml:"default"`
	Venues  map[string]*VenueConfig `yaml:"venues"`
}

// VenueConfig describes how to construct a venue instance.
type VenueConfig struct {
	Type       string         `yaml:"type"`
	RPCURL     string         `yaml:"rpc_url"`
	QuoteURL   string         `yaml:"quote_url"`
	Commitment string         `yaml:"commitment"`
	Assets     []market.Asset `yaml:"assets"`
	Methods    Methods        `yaml:"methods"`
	MaxRoute   int            `yaml:"max_route_steps"`
	Sim        SimConfig      `yaml:"sim"`

	Timeout       time.Duration `yaml:"-"`
	TokenValidity time.Duration `yaml:"-"`

	TimeoutRaw       string `yaml:"timeout"`
	TokenValidityRaw string `yaml:"token_validity"`
}

// Methods names the JSON-RPC calls used by the rpc venue.
type Methods struct {
	Token  string `yaml:"token"`
	Send   string `yaml:"send"`
	Status string `yaml:"status"`
}

// SimConfig parameterises the in-memory paper venue.
type SimConfig struct {
	Price     float64            `yaml:"price"`
	SpreadBps int                `yaml:"spread_bps"`
	Balances  map[string]float64 `yaml:"balances"`
	Seed      int64              `yaml:"seed"`

	// LandAfter is how many status lookups a broadcast stays pending.
	LandAfter int `yaml:"land_after"`

	// DropRate is the fraction of accepted broadcasts that never land.
	DropRate float64 `yaml:"drop_rate"`
}

// Builder constructs a Venue from configuration.
type Builder func(name string, cfg *VenueConfig) (Venue, error)

var (
	registry   = make(map[string]Builder)
	registryMu sync.RWMutex
)

// RegisterVenue associates a builder with a venue type.
func RegisterVenue(typeName string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupBuilder(typeName string) (Builder, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[strings.ToLower(strings.TrimSpace(typeName))]
	return b, ok
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open venue config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read venue config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal venue config: %w", err)
	}
	if err := cfg.Normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalise prepares every venue definition.
func (c *Config) Normalise() error {
	if c.Venues == nil {
		c.Venues = make(map[string]*VenueConfig)
	}
	for name, v := range c.Venues {
		if v == nil {
			v = &VenueConfig{}
			c.Venues[name] = v
		}
		if err := v.Normalise(name); err != nil {
			return err
		}
	}
	return nil
}

// Normalise expands ${ENV} references, parses durations and fills defaults.
func (v *VenueConfig) Normalise(name string) error {
	v.Type = strings.ToLower(strings.TrimSpace(os.ExpandEnv(v.Type)))
	v.RPCURL = strings.TrimSpace(os.ExpandEnv(v.RPCURL))
	v.QuoteURL = strings.TrimSpace(os.ExpandEnv(v.QuoteURL))
	v.Commitment = strings.TrimSpace(v.Commitment)
	if v.Commitment == "" {
		v.Commitment = "confirmed"
	}
	if v.Methods.Token == "" {
		v.Methods.Token = "getLatestBlockhash"
	}
	if v.Methods.Send == "" {
		v.Methods.Send = "sendTransaction"
	}
	if v.Methods.Status == "" {
		v.Methods.Status = "getSignatureStatuses"
	}
	for _, f := range []struct {
		field string
		raw   string
		dst   *time.Duration
		def   time.Duration
	}{
		{"timeout", v.TimeoutRaw, &v.Timeout, 10 * time.Second},
		{"token_validity", v.TokenValidityRaw, &v.TokenValidity, 90 * time.Second},
	} {
		raw := strings.TrimSpace(os.ExpandEnv(f.raw))
		if raw == "" {
			if *f.dst == 0 {
				*f.dst = f.def
			}
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("venue %s: invalid %s %q: %w", name, f.field, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("venue %s: %s must be positive, got %s", name, f.field, d)
		}
		*f.dst = d
	}
	return nil
}

// AssetTable returns the default assets merged with configured overrides.
func (v *VenueConfig) AssetTable() market.Assets {
	return market.DefaultAssets().Merge(v.Assets)
}

// Validate ensures all venues have sane configuration.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("venue config: venues cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Venues[c.Default]; !ok {
			return fmt.Errorf("venue config: default venue %q not defined", c.Default)
		}
	}
	for name, v := range c.Venues {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("venue config: venue name cannot be empty")
		}
		if err := v.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (v *VenueConfig) validate(name string) error {
	if v == nil {
		return fmt.Errorf("venue config: venue %s is nil", name)
	}
	if v.Type == "" {
		return fmt.Errorf("venue config: venue %s must specify type", name)
	}
	if _, ok := lookupBuilder(v.Type); !ok {
		return fmt.Errorf("venue config: venue %s has unsupported type %q", name, v.Type)
	}
	if v.Type == "rpc" && v.RPCURL == "" {
		return fmt.Errorf("venue config: venue %s requires rpc_url", name)
	}
	if v.Sim.DropRate < 0 || v.Sim.DropRate > 1 {
		return fmt.Errorf("venue config: venue %s drop_rate must be within [0,1]", name)
	}
	return nil
}

// Build instantiates the named venue, or the default when name is empty.
func (c *Config) Build(name string) (Venue, error) {
	if name == "" {
		name = c.Default
	}
	v, ok := c.Venues[name]
	if !ok {
		return nil, fmt.Errorf("venue config: venue %q not defined", name)
	}
	return Build(name, v)
}

// Build constructs a single venue from cfg.
func Build(name string, cfg *VenueConfig) (Venue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("venue %s: nil config", name)
	}
	builder, ok := lookupBuilder(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("venue %s: unsupported type %q", name, cfg.Type)
	}
	venue, err := builder(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", name, err)
	}
	return venue, nil
}
