package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"

	"gridpilot/pkg/execution"
)

// DefaultSoftwareBudget is the fetch-to-signature budget of an in-process key.
const DefaultSoftwareBudget = 500 * time.Millisecond

var (
	ErrEmptyToken    = errors.New("signer: freshness token required")
	ErrEmptyMessage  = errors.New("signer: empty transaction message")
	ErrBadSignature  = errors.New("signer: signature does not match signer address")
	ErrNotConfigured = errors.New("signer: not initialised")
)

// Envelope is the wire form of a signed transaction: the built message bound
// to exactly one freshness token.
type Envelope struct {
	TxID      string `msgpack:"tx"`
	Account   string `msgpack:"acct"`
	Message   []byte `msgpack:"msg"`
	Token     string `msgpack:"tok"`
	Signature []byte `msgpack:"sig"`
}

// Digest is the 32-byte hash a signer signs: keccak256(message || token ||
// account).
func Digest(tx *execution.UnsignedTransaction, token execution.FreshnessToken) ([]byte, error) {
	if tx == nil || tx.Size() == 0 {
		return nil, ErrEmptyMessage
	}
	if token.Value == "" {
		return nil, ErrEmptyToken
	}
	return crypto.Keccak256(tx.Message(), []byte(token.Value), []byte(tx.Account())), nil
}

// DecodeEnvelope parses a signed transaction's raw bytes.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("signer: decode envelope: %w", err)
	}
	return env, nil
}

// Recover returns the lowercase hex address that produced env.Signature.
func Recover(env Envelope) (string, error) {
	if len(env.Signature) != crypto.SignatureLength {
		return "", fmt.Errorf("signer: expected %d-byte signature, got %d", crypto.SignatureLength, len(env.Signature))
	}
	digest := crypto.Keccak256(env.Message, []byte(env.Token), []byte(env.Account))
	pub, err := crypto.SigToPub(digest, env.Signature)
	if err != nil {
		return "", fmt.Errorf("signer: recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

func seal(tx *execution.UnsignedTransaction, token execution.FreshnessToken, sig []byte, at time.Time) (execution.SignedTransaction, error) {
	raw, err := msgpack.Marshal(Envelope{
		TxID:      tx.ID(),
		Account:   tx.Account(),
		Message:   tx.Message(),
		Token:     token.Value,
		Signature: sig,
	})
	if err != nil {
		return execution.SignedTransaction{}, fmt.Errorf("signer: encode envelope: %w", err)
	}
	return execution.SignedTransaction{
		Signature: hexutil.Encode(sig),
		TxID:      tx.ID(),
		Token:     token,
		Raw:       raw,
		SignedAt:  at,
	}, nil
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, string, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, "", errors.New("signer: empty private key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, "", fmt.Errorf("signer: decode private key: %w", err)
	}
	return key, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}

// Software signs immediately with an in-process secp256k1 key.
type Software struct {
	key     *ecdsa.PrivateKey
	address string
	budget  time.Duration
	clock   func() time.Time
}

// Option customises a signer.
type Option func(*options)

type options struct {
	budget time.Duration
	clock  func() time.Time
	sleep  execution.SleepFunc
}

// WithBudget overrides the declared fetch-to-signature budget.
func WithBudget(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.budget = d
		}
	}
}

// WithClock overrides time and waiting (tests).
func WithClock(clock func() time.Time, sleep execution.SleepFunc) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func buildOptions(budget time.Duration, opts []Option) options {
	o := options{budget: budget, clock: time.Now, sleep: wait}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSoftware constructs a signer from a hex-encoded private key.
func NewSoftware(privateKeyHex string, opts ...Option) (*Software, error) {
	key, address, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	o := buildOptions(DefaultSoftwareBudget, opts)
	return &Software{key: key, address: address, budget: o.budget, clock: o.clock}, nil
}

// Sign binds tx to token and signs the digest.
func (s *Software) Sign(ctx context.Context, tx *execution.UnsignedTransaction, token execution.FreshnessToken) (execution.SignedTransaction, error) {
	if s == nil || s.key == nil {
		return execution.SignedTransaction{}, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return execution.SignedTransaction{}, err
	}
	digest, err := Digest(tx, token)
	if err != nil {
		return execution.SignedTransaction{}, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return execution.SignedTransaction{}, fmt.Errorf("signer: sign digest: %w", err)
	}
	return seal(tx, token, sig, s.clock())
}

// Address returns the signing account.
func (s *Software) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// Budget returns the declared fetch-to-signature budget.
func (s *Software) Budget() time.Duration { return s.budget }

// RequiresConfirmation is false: software keys sign without a human.
func (s *Software) RequiresConfirmation() bool { return false }

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
