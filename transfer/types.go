// Package transfer builds and signs single-asset transfer transactions.
//
// Builder is pure: for identical inputs, including the FreshnessToken, it
// yields an identical unsigned transaction. Signer is deterministic because
// ed25519 signatures are. Together they make a signed transaction reproducible
// byte for byte, which is what lets the chain client resubmit the same bytes
// on retry instead of re-signing.
package transfer

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/transfer-relay/keys"
)

// FreshnessToken is the recent chain state a transaction must reference.
type FreshnessToken struct {
	// Blockhash is the recent blockhash the transaction commits to.
	Blockhash solana.Hash

	// LastValidBlockHeight is the last block height at which a transaction
	// using Blockhash is accepted.
	LastValidBlockHeight uint64

	// FetchedAt is when the token was obtained. It does not take part in the
	// transaction and only drives reuse windows.
	FetchedAt time.Time
}

// IsZero reports whether the token carries no blockhash.
func (f FreshnessToken) IsZero() bool {
	return f.Blockhash == solana.Hash{}
}

// UnsignedTransfer is a built transfer waiting for signatures.
type UnsignedTransfer struct {
	// Tx is the unsigned transaction.
	Tx *solana.Transaction

	// Sender funds the transfer.
	Sender keys.Address

	// FeePayer pays the transaction fee. Equals Sender unless WithFeePayer was used.
	FeePayer keys.Address

	Recipient   keys.Address
	AmountUnits uint64
	Freshness   FreshnessToken
}

// RequiredSigners returns the accounts whose signatures the transaction needs,
// in signature order. The fee payer is always first.
func (u *UnsignedTransfer) RequiredSigners() []keys.Address {
	n := int(u.Tx.Message.Header.NumRequiredSignatures)
	if n > len(u.Tx.Message.AccountKeys) {
		n = len(u.Tx.Message.AccountKeys)
	}
	signers := make([]keys.Address, n)
	copy(signers, u.Tx.Message.AccountKeys[:n])
	return signers
}

// SignedTransaction is a transfer ready for submission.
type SignedTransaction struct {
	// Tx is the signed transaction.
	Tx *solana.Transaction

	// ID is the transaction identifier: the base58 form of the first signature.
	ID string

	// Raw is the wire encoding of Tx. Retries resubmit these exact bytes.
	Raw []byte

	Sender      keys.Address
	Recipient   keys.Address
	AmountUnits uint64

	// LastValidBlockHeight is copied from the freshness token used to build Tx.
	LastValidBlockHeight uint64
}

// Signature returns the first signature, which is the transaction id.
func (s *SignedTransaction) Signature() solana.Signature {
	if s == nil || s.Tx == nil || len(s.Tx.Signatures) == 0 {
		return solana.Signature{}
	}
	return s.Tx.Signatures[0]
}
