package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/pkg/execution"
)

// DefaultDeviceBudget is the fetch-to-signature budget declared by a
// confirmation-gated device. It covers a human pressing a button.
const DefaultDeviceBudget = 20 * time.Second

// ErrRejected reports that the operator declined on the device. It unwraps
// to context.Canceled so the attempt ends without retrying.
var ErrRejected = fmt.Errorf("signer: rejected on device: %w", context.Canceled)

// Prompt is what the device shows the operator.
type Prompt struct {
	TxID    string
	Account string
	Digest  []byte
	Token   string
}

// Device is a confirmation-gated key holder. Approve blocks until the
// operator confirms (returning a 65-byte signature over Digest), rejects, or
// ctx ends. Pairing and transport are the device driver's concern.
type Device interface {
	Address() string
	Approve(ctx context.Context, p Prompt) ([]byte, error)
}

// DeviceSigner adapts a Device to the pipeline's signer contract.
type DeviceSigner struct {
	device Device
	budget time.Duration
	clock  func() time.Time
}

// NewDevice wraps device with DefaultDeviceBudget unless overridden.
func NewDevice(device Device, opts ...Option) (*DeviceSigner, error) {
	if device == nil {
		return nil, ErrNotConfigured
	}
	o := buildOptions(DefaultDeviceBudget, opts)
	return &DeviceSigner{device: device, budget: o.budget, clock: o.clock}, nil
}

func (d *DeviceSigner) Sign(ctx context.Context, tx *execution.UnsignedTransaction, token execution.FreshnessToken) (execution.SignedTransaction, error) {
	digest, err := Digest(tx, token)
	if err != nil {
		return execution.SignedTransaction{}, err
	}
	started := d.clock()
	sig, err := d.device.Approve(ctx, Prompt{
		TxID:    tx.ID(),
		Account: tx.Account(),
		Digest:  digest,
		Token:   token.Value,
	})
	if err != nil {
		return execution.SignedTransaction{}, err
	}
	signed, err := seal(tx, token, sig, d.clock())
	if err != nil {
		return execution.SignedTransaction{}, err
	}
	env, err := DecodeEnvelope(signed.Raw)
	if err != nil {
		return execution.SignedTransaction{}, err
	}
	addr, err := Recover(env)
	if err != nil {
		return execution.SignedTransaction{}, err
	}
	if addr != strings.ToLower(d.device.Address()) {
		return execution.SignedTransaction{}, fmt.Errorf("%w: got %s want %s", ErrBadSignature, addr, d.device.Address())
	}
	logx.WithContext(ctx).Infof("device approved tx=%s wait=%s", tx.ID(), d.clock().Sub(started))
	return signed, nil
}

func (d *DeviceSigner) Address() string            { return strings.ToLower(d.device.Address()) }
func (d *DeviceSigner) Budget() time.Duration      { return d.budget }
func (d *DeviceSigner) RequiresConfirmation() bool { return true }

// SimDevice stands in for a hardware wallet: it waits ConfirmDelay before
// approving, or rejects while Reject is set.
type SimDevice struct {
	key     *ecdsa.PrivateKey
	address string
	delay   time.Duration
	sleep   execution.SleepFunc
	reject  atomic.Bool
	prompts atomic.Int64
}

// NewSimDevice builds a simulated device over a hex private key.
func NewSimDevice(privateKeyHex string, confirmDelay time.Duration, opts ...Option) (*SimDevice, error) {
	key, address, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	o := buildOptions(0, opts)
	return &SimDevice{key: key, address: address, delay: confirmDelay, sleep: o.sleep}, nil
}

func (s *SimDevice) Address() string { return s.address }

// Reject makes subsequent prompts fail with ErrRejected.
func (s *SimDevice) Reject(v bool) { s.reject.Store(v) }

// Prompts returns how many approvals were requested.
func (s *SimDevice) Prompts() int { return int(s.prompts.Load()) }

func (s *SimDevice) Approve(ctx context.Context, p Prompt) ([]byte, error) {
	s.prompts.Add(1)
	if err := s.sleep(ctx, s.delay); err != nil {
		return nil, err
	}
	if s.reject.Load() {
		return nil, ErrRejected
	}
	if len(p.Digest) != 32 {
		return nil, fmt.Errorf("signer: expected 32-byte digest, got %d bytes", len(p.Digest))
	}
	return crypto.Sign(p.Digest, s.key)
}
