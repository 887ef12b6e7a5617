package txbuild

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/market"
)

// MaxPacketSize is the largest serialized transaction the ledger accepts.
const MaxPacketSize = 1232

// signatureOverhead is reserved for the signature envelope added at signing.
const signatureOverhead = 96

// Message is the encoded swap instruction. It is rebuilt for every attempt.
type Message struct {
	Version     int    `msgpack:"v"`
	QuoteID     string `msgpack:"q"`
	Account     string `msgpack:"a"`
	InputAsset  string `msgpack:"in"`
	OutputAsset string `msgpack:"out"`
	InAtomic    string `msgpack:"amt"`
	MinOutAtoms string `msgpack:"min"`
	SlippageBps int    `msgpack:"slip"`
	Route       []byte `msgpack:"route,omitempty"`
	BuiltAt     int64  `msgpack:"ts"`
}

// Builder turns quotes into immutable unsigned transactions.
type Builder struct {
	assets  market.Assets
	maxSize int
	clock   func() time.Time
}

// Option customises a Builder.
type Option func(*Builder)

// WithAssets replaces the asset table.
func WithAssets(assets market.Assets) Option {
	return func(b *Builder) {
		if len(assets) > 0 {
			b.assets = assets
		}
	}
}

// WithMaxSize overrides the payload ceiling.
func WithMaxSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// WithClock overrides the build timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(b *Builder) { b.clock = clock }
}

// New returns a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{assets: market.DefaultAssets(), maxSize: MaxPacketSize, clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildUnsigned encodes q for account. Payloads that would not fit the
// ledger's packet limit once signed fail with execution.ErrOversizedPayload.
func (b *Builder) BuildUnsigned(ctx context.Context, q execution.Quote, account string) (*execution.UnsignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if account == "" {
		return nil, fmt.Errorf("%w: destination account required", execution.ErrInvalidRequest)
	}
	if !q.InAmount.IsPositive() || !q.OutAmount.IsPositive() {
		return nil, fmt.Errorf("%w: quote %s has non-positive amounts", execution.ErrInvalidRequest, q.ID)
	}
	in, err := b.Atomic(q.InputAsset, q.InAmount)
	if err != nil {
		return nil, err
	}
	minOut := q.OutAmount.Mul(decimal.NewFromInt(int64(10000 - q.SlippageBps))).Div(decimal.NewFromInt(10000))
	out, err := b.Atomic(q.OutputAsset, minOut)
	if err != nil {
		return nil, err
	}
	now := b.clock()
	msg := Message{
		Version:     1,
		QuoteID:     q.ID,
		Account:     account,
		InputAsset:  q.InputAsset,
		OutputAsset: q.OutputAsset,
		InAtomic:    in.String(),
		MinOutAtoms: out.String(),
		SlippageBps: q.SlippageBps,
		BuiltAt:     now.UnixMilli(),
	}
	if len(q.Route) > 0 {
		msg.Route = append([]byte(nil), q.Route...)
	}
	raw, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("txbuild: encode message: %w", err)
	}
	if size := len(raw) + signatureOverhead; size > b.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d (route too complex for quote %s)",
			execution.ErrOversizedPayload, size, b.maxSize, q.ID)
	}
	return execution.NewUnsignedTransaction(uuid.NewString(), q.ID, account, raw, now), nil
}

// Atomic converts a human amount into integer atomic units, rounding down.
func (b *Builder) Atomic(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	as, err := b.assets.Lookup(asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("txbuild: %w", err)
	}
	units := as.ToAtomic(amount)
	if !units.IsPositive() {
		return decimal.Zero, errors.New("txbuild: amount rounds to zero atomic units")
	}
	return units, nil
}

// Decode parses an encoded message.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("txbuild: decode message: %w", err)
	}
	return m, nil
}
