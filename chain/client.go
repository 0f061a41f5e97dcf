// Package chain is the boundary to the remote Solana JSON-RPC endpoint.
//
// Every error leaving this package carries an errkind.Kind: NetworkError,
// Timeout and ServiceUnavailable are retryable, RejectedByChain is terminal.
// RetryingClient adds per-call timeouts, an explicit retry budget and submit
// rate limiting around any Client.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solrelay/transfer-relay/transfer"
)

// ErrAlreadyProcessed reports that the exact transaction was already applied
// by the chain. Since retries resubmit identical bytes, this means an earlier
// attempt landed.
var ErrAlreadyProcessed = errors.New("transaction already processed")

// ErrNotSent marks a submit failure where no attempt reached the endpoint,
// so the transaction cannot have landed.
var ErrNotSent = errors.New("transaction was not sent")

// Client abstracts the chain RPC endpoint.
type Client interface {
	// FetchFreshness returns a recent blockhash to build transactions against.
	FetchFreshness(ctx context.Context) (transfer.FreshnessToken, error)

	// Submit hands a signed transaction to the chain and returns its id.
	Submit(ctx context.Context, tx *transfer.SignedTransaction) (string, error)

	// SignatureStatus reports what the chain knows about a transaction id.
	SignatureStatus(ctx context.Context, txID string) (Status, error)

	// BlockHeight returns the current block height at the client's commitment.
	BlockHeight(ctx context.Context) (uint64, error)

	// Health returns nil when the endpoint reports itself healthy.
	Health(ctx context.Context) error
}

// Commitment is the confirmation level a caller waits for.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment validates a commitment name.
func ParseCommitment(s string) (Commitment, error) {
	switch c := Commitment(strings.ToLower(strings.TrimSpace(s))); c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("invalid commitment %q: must be processed, confirmed or finalized", s)
	}
}

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

func (c Commitment) rpcType() rpc.CommitmentType {
	switch c {
	case CommitmentProcessed:
		return rpc.CommitmentProcessed
	case CommitmentFinalized:
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// Status is the chain's view of a transaction id.
type Status struct {
	// Found is false when the chain has no record of the transaction.
	Found bool

	Slot uint64

	// Confirmation is the highest commitment the transaction reached.
	Confirmation Commitment

	// Err describes an on-chain execution failure. Empty when the transaction
	// succeeded or is unknown.
	Err string
}

// Failed reports whether the transaction landed but failed on chain.
func (s Status) Failed() bool {
	return s.Found && s.Err != ""
}

// Reached reports whether the transaction succeeded at commitment c or higher.
func (s Status) Reached(c Commitment) bool {
	return s.Found && s.Err == "" && s.Confirmation.rank() >= c.rank()
}
