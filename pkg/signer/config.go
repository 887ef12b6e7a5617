package signer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gridpilot/pkg/execution"
)

const (
	KindSoftware  = "software"
	KindSimDevice = "sim_device"
)

// Config selects and parameterises the signer.
type Config struct {
	Kind       string `yaml:"kind"`
	PrivateKey string `yaml:"private_key"`

	Budget       time.Duration `yaml:"-"`
	ConfirmDelay time.Duration `yaml:"-"`

	BudgetRaw       string `yaml:"budget"`
	ConfirmDelayRaw string `yaml:"confirm_delay"`
}

// Prepare expands ${ENV} references, parses durations and validates.
func (c *Config) Prepare() error {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind == "" {
		c.Kind = KindSoftware
	}
	c.PrivateKey = strings.TrimSpace(os.ExpandEnv(c.PrivateKey))
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"budget", c.BudgetRaw, &c.Budget},
		{"confirm_delay", c.ConfirmDelayRaw, &c.ConfirmDelay},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(f.raw))
		if err != nil {
			return fmt.Errorf("signer config: parse %s: %w", f.name, err)
		}
		*f.dst = d
	}
	switch c.Kind {
	case KindSoftware, KindSimDevice:
	default:
		return fmt.Errorf("signer config: unsupported kind %q", c.Kind)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("signer config: private_key is required for %s", c.Kind)
	}
	return nil
}

// New builds the configured signer.
func New(cfg Config, opts ...Option) (execution.Signer, error) {
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	if cfg.Budget > 0 {
		opts = append(opts, WithBudget(cfg.Budget))
	}
	switch cfg.Kind {
	case KindSimDevice:
		dev, err := NewSimDevice(cfg.PrivateKey, cfg.ConfirmDelay, opts...)
		if err != nil {
			return nil, err
		}
		return NewDevice(dev, opts...)
	default:
		return NewSoftware(cfg.PrivateKey, opts...)
	}
}
