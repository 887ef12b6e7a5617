package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds pipeline timeouts, token budgets and retry settings. Duration
// fields are parsed from their *Raw yaml strings by Parse.
type Config struct {
	QuoteTTL         time.Duration `yaml:"-"`
	QuoteTimeout     time.Duration `yaml:"-"`
	BuildTimeout     time.Duration `yaml:"-"`
	TokenTimeout     time.Duration `yaml:"-"`
	TokenValidity    time.Duration `yaml:"-"`
	TokenMargin      time.Duration `yaml:"-"`
	SignTimeout      time.Duration `yaml:"-"`
	BroadcastTimeout time.Duration `yaml:"-"`
	ConfirmTimeout   time.Duration `yaml:"-"`
	PollInterval     time.Duration `yaml:"-"`
	ResolveGrace     time.Duration `yaml:"-"`

	SlippageBps       int     `yaml:"slippage_bps"`
	SlippageReduction float64 `yaml:"slippage_reduction"`
	TokenRefetches    int     `yaml:"token_refetches"`
	MaxRetries        int     `yaml:"max_retries"`

	Backoff []time.Duration `yaml:"-"`

	QuoteTTLRaw         string   `yaml:"quote_ttl"`
	QuoteTimeoutRaw     string   `yaml:"quote_timeout"`
	BuildTimeoutRaw     string   `yaml:"build_timeout"`
	TokenTimeoutRaw     string   `yaml:"token_timeout"`
	TokenValidityRaw    string   `yaml:"token_validity"`
	TokenMarginRaw      string   `yaml:"token_margin"`
	SignTimeoutRaw      string   `yaml:"sign_timeout"`
	BroadcastTimeoutRaw string   `yaml:"broadcast_timeout"`
	ConfirmTimeoutRaw   string   `yaml:"confirm_timeout"`
	PollIntervalRaw     string   `yaml:"poll_interval"`
	ResolveGraceRaw     string   `yaml:"resolve_grace"`
	BackoffRaw          []string `yaml:"backoff"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// Parse converts the raw duration strings. Empty strings are left for
// ApplyDefaults.
func (c *Config) Parse() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"quote_ttl", c.QuoteTTLRaw, &c.QuoteTTL},
		{"quote_timeout", c.QuoteTimeoutRaw, &c.QuoteTimeout},
		{"build_timeout", c.BuildTimeoutRaw, &c.BuildTimeout},
		{"token_timeout", c.TokenTimeoutRaw, &c.TokenTimeout},
		{"token_validity", c.TokenValidityRaw, &c.TokenValidity},
		{"token_margin", c.TokenMarginRaw, &c.TokenMargin},
		{"sign_timeout", c.SignTimeoutRaw, &c.SignTimeout},
		{"broadcast_timeout", c.BroadcastTimeoutRaw, &c.BroadcastTimeout},
		{"confirm_timeout", c.ConfirmTimeoutRaw, &c.ConfirmTimeout},
		{"poll_interval", c.PollIntervalRaw, &c.PollInterval},
		{"resolve_grace", c.ResolveGraceRaw, &c.ResolveGrace},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("execution config: parse %s: %w", f.name, err)
		}
		if d < 0 {
			return fmt.Errorf("execution config: %s must not be negative", f.name)
		}
		*f.dst = d
	}
	if len(c.BackoffRaw) > 0 {
		c.Backoff = c.Backoff[:0]
		for i, raw := range c.BackoffRaw {
			d, err := time.ParseDuration(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("execution config: parse backoff[%d]: %w", i, err)
			}
			c.Backoff = append(c.Backoff, d)
		}
	}
	return nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setDuration(&c.QuoteTTL, 30*time.Second)
	setDuration(&c.QuoteTimeout, 5*time.Second)
	setDuration(&c.BuildTimeout, 5*time.Second)
	setDuration(&c.TokenTimeout, 5*time.Second)
	setDuration(&c.TokenValidity, 90*time.Second)
	setDuration(&c.TokenMargin, 5*time.Second)
	setDuration(&c.SignTimeout, 10*time.Second)
	setDuration(&c.BroadcastTimeout, 10*time.Second)
	setDuration(&c.ConfirmTimeout, 45*time.Second)
	setDuration(&c.PollInterval, time.Second)
	setDuration(&c.ResolveGrace, 30*time.Second)
	if c.SlippageBps == 0 {
		c.SlippageBps = 50
	}
	if c.SlippageReduction == 0 {
		c.SlippageReduction = 0.25
	}
	if c.TokenRefetches == 0 {
		c.TokenRefetches = 3
	}
	def := DefaultRetryPolicy()
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if len(c.Backoff) == 0 {
		c.Backoff = def.Backoff
	}
}

// Validate checks ranges. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.TokenMargin >= c.TokenValidity {
		return errors.New("execution config: token_margin must be smaller than token_validity")
	}
	if c.SlippageReduction <= 0 || c.SlippageReduction >= 1 {
		return fmt.Errorf("execution config: slippage_reduction must be in (0,1), got %v", c.SlippageReduction)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10000 {
		return fmt.Errorf("execution config: slippage_bps out of range: %d", c.SlippageBps)
	}
	if c.MaxRetries < 0 {
		return errors.New("execution config: max_retries cannot be negative")
	}
	for i := 1; i < len(c.Backoff); i++ {
		if c.Backoff[i] < c.Backoff[i-1] {
			return errors.New("execution config: backoff must not decrease")
		}
	}
	return nil
}

// RetryPolicy returns the configured policy.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: c.MaxRetries, Backoff: append([]time.Duration(nil), c.Backoff...)}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}
