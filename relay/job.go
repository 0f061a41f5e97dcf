// Package relay runs batches of independent transfers through decode, build,
// sign and submit, producing exactly one Outcome per job in input order.
//
// A job's failure never affects another job. Failures before anything was
// sent end in Rejected; network-class failures after a transaction may have
// reached the chain end in Ambiguous, carrying the transaction id so the
// reconciler can settle it later.
package relay

import (
	"fmt"

	"github.com/solrelay/transfer-relay/keys"
)

// TransferJob is one requested transfer. It is read-only once created.
type TransferJob struct {
	// SenderKeyEncoded is the base58 secret key of the sender. Empty means
	// the relay's default sender.
	SenderKeyEncoded string

	// Recipient is an address or an encoded secret key.
	Recipient string

	// AmountUnits is the amount in base units (lamports).
	AmountUnits int64
}

// String never renders the sender key.
func (j TransferJob) String() string {
	sender := "default"
	if j.SenderKeyEncoded != "" {
		sender = keys.FingerprintEncoded(j.SenderKeyEncoded)
	}
	return fmt.Sprintf("TransferJob{sender=%s amount=%d}", sender, j.AmountUnits)
}

// GoString keeps %#v from dumping the key.
func (j TransferJob) GoString() string {
	return j.String()
}

// JobsFromEntries turns parsed credential lines into jobs. Entries without
// an amount get defaultAmount; a zero default leaves them to fail with
// InvalidAmount.
func JobsFromEntries(entries []keys.CredentialEntry, defaultAmount int64) []TransferJob {
	jobs := make([]TransferJob, len(entries))
	for i, e := range entries {
		amount := defaultAmount
		if e.HasAmount {
			amount = e.AmountUnits
		}
		jobs[i] = TransferJob{
			SenderKeyEncoded: e.Sender,
			Recipient:        e.Recipient,
			AmountUnits:      amount,
		}
	}
	return jobs
}
