package transfer

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
)

// Signer signs built transfers.
type Signer struct {
	logger logging.Logger
}

// NewSigner creates a Signer.
func NewSigner(logger logging.Logger) *Signer {
	return &Signer{
		logger: logging.ForComponent(logger, logging.ComponentSigner),
	}
}

// Sign signs req with signingKeys. Every required signer must be covered by
// exactly one key, and every key must belong to a required signer; a key for
// an account that is not a signer (such as the recipient) is refused rather
// than silently ignored. The input transfer is not modified.
func (s *Signer) Sign(req *UnsignedTransfer, signingKeys ...keys.SigningKey) (*SignedTransaction, error) {
	start := time.Now()
	signed, err := s.sign(req, signingKeys)
	observeSign(start, err)
	return signed, err
}

func (s *Signer) sign(req *UnsignedTransfer, signingKeys []keys.SigningKey) (*SignedTransaction, error) {
	if req == nil || req.Tx == nil {
		return nil, errkind.New(errkind.Internal, "sign", "nothing to sign")
	}
	if len(signingKeys) == 0 {
		return nil, errkind.New(errkind.SigningFailure, "sign", "no signing keys supplied")
	}

	byAddress := make(map[keys.Address]keys.SigningKey, len(signingKeys))
	for _, k := range signingKeys {
		if k.IsZero() {
			return nil, errkind.New(errkind.SigningFailure, "sign", "signing key is empty")
		}
		byAddress[k.Address()] = k
	}

	required := req.RequiredSigners()
	if len(required) == 0 {
		return nil, errkind.New(errkind.Internal, "sign", "transaction has no required signers")
	}

	isRequired := make(map[keys.Address]struct{}, len(required))
	for _, addr := range required {
		isRequired[addr] = struct{}{}
		if _, ok := byAddress[addr]; !ok {
			return nil, errkind.New(errkind.SigningFailure, "sign",
				fmt.Sprintf("missing key for required signer %s", addr))
		}
	}
	for addr, k := range byAddress {
		if _, ok := isRequired[addr]; !ok {
			return nil, errkind.New(errkind.SigningFailure, "sign",
				fmt.Sprintf("key %s does not belong to a required signer", k.Fingerprint()))
		}
	}

	tx := &solana.Transaction{Message: req.Tx.Message}
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, errkind.Wrap(errkind.SigningFailure, "sign", fmt.Errorf("failed to encode message: %w", err))
	}

	tx.Signatures = make([]solana.Signature, len(required))
	for i, addr := range required {
		sig, err := byAddress[addr].Sign(message)
		if err != nil {
			return nil, errkind.Wrap(errkind.SigningFailure, "sign", fmt.Errorf("failed to sign for %s: %w", addr, err))
		}
		tx.Signatures[i] = sig
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errkind.Wrap(errkind.SigningFailure, "sign", fmt.Errorf("failed to encode transaction: %w", err))
	}

	signed := &SignedTransaction{
		Tx:                   tx,
		ID:                   tx.Signatures[0].String(),
		Raw:                  raw,
		Sender:               req.Sender,
		Recipient:            req.Recipient,
		AmountUnits:          req.AmountUnits,
		LastValidBlockHeight: req.Freshness.LastValidBlockHeight,
	}

	s.logger.Debug().
		Str(logging.FieldTxID, signed.ID).
		Int(logging.FieldCount, len(required)).
		Msg("signed transfer")

	return signed, nil
}
