package transfer

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
)

// DefaultAmountCeiling bounds a single transfer (1 SOL in lamports) when no
// ceiling is configured.
const DefaultAmountCeiling int64 = 1_000_000_000

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// AmountCeiling is the largest accepted amount in base units.
	// Default: DefaultAmountCeiling
	AmountCeiling int64
}

// Builder produces unsigned transfer transactions.
type Builder struct {
	logger  logging.Logger
	ceiling int64
}

// BuildOption adjusts a single Build call.
type BuildOption func(*buildOptions)

type buildOptions struct {
	feePayer *keys.Address
}

// WithFeePayer makes another account pay the transaction fee. The resulting
// transaction needs both the fee payer's and the sender's signatures.
func WithFeePayer(payer keys.Address) BuildOption {
	return func(o *buildOptions) {
		o.feePayer = &payer
	}
}

// NewBuilder creates a Builder.
func NewBuilder(logger logging.Logger, config BuilderConfig) *Builder {
	if config.AmountCeiling <= 0 {
		config.AmountCeiling = DefaultAmountCeiling
	}
	return &Builder{
		logger:  logging.ForComponent(logger, logging.ComponentBuilder),
		ceiling: config.AmountCeiling,
	}
}

// AmountCeiling returns the configured ceiling.
func (b *Builder) AmountCeiling() int64 {
	return b.ceiling
}

// ValidateAmount checks 0 < amountUnits <= ceiling.
func (b *Builder) ValidateAmount(amountUnits int64) error {
	if amountUnits <= 0 {
		return errkind.New(errkind.InvalidAmount, "build",
			fmt.Sprintf("amount must be positive, got %d", amountUnits))
	}
	if amountUnits > b.ceiling {
		return errkind.New(errkind.InvalidAmount, "build",
			fmt.Sprintf("amount %d exceeds ceiling %d", amountUnits, b.ceiling))
	}
	return nil
}

// Build creates a system-program transfer of amountUnits from sender to
// recipient, committing to the freshness token's blockhash.
func (b *Builder) Build(
	sender keys.SigningKey,
	recipient keys.Address,
	amountUnits int64,
	freshness FreshnessToken,
	opts ...BuildOption,
) (*UnsignedTransfer, error) {
	unsigned, err := b.build(sender, recipient, amountUnits, freshness, opts...)
	observeBuild(err)
	return unsigned, err
}

func (b *Builder) build(
	sender keys.SigningKey,
	recipient keys.Address,
	amountUnits int64,
	freshness FreshnessToken,
	opts ...BuildOption,
) (*UnsignedTransfer, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if sender.IsZero() {
		return nil, errkind.New(errkind.InvalidKeyFormat, "build", "sender key is empty")
	}
	if err := b.ValidateAmount(amountUnits); err != nil {
		return nil, err
	}

	from := sender.Address()
	if recipient.IsZero() {
		return nil, errkind.New(errkind.InvalidRecipient, "build", "recipient address is empty")
	}
	if recipient.Equals(from) {
		return nil, errkind.New(errkind.InvalidRecipient, "build", "recipient is the sender")
	}
	if freshness.IsZero() {
		return nil, errkind.New(errkind.Internal, "build", "freshness token is empty")
	}

	payer := from
	if o.feePayer != nil {
		if o.feePayer.IsZero() {
			return nil, errkind.New(errkind.InvalidRecipient, "build", "fee payer address is empty")
		}
		payer = *o.feePayer
	}

	instruction := system.NewTransferInstruction(uint64(amountUnits), from, recipient).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		freshness.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "build", fmt.Errorf("failed to assemble transaction: %w", err))
	}

	b.logger.Debug().
		Str(logging.FieldSenderAddress, from.String()).
		Str(logging.FieldRecipient, recipient.String()).
		Int64(logging.FieldAmountUnits, amountUnits).
		Str(logging.FieldBlockhash, freshness.Blockhash.String()).
		Msg("built transfer")

	return &UnsignedTransfer{
		Tx:          tx,
		Sender:      from,
		FeePayer:    payer,
		Recipient:   recipient,
		AmountUnits: uint64(amountUnits),
		Freshness:   freshness,
	}, nil
}
