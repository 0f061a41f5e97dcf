package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/solrelay/transfer-relay/errkind"
)

// DefaultPollInterval is the delay between signature status polls.
const DefaultPollInterval = 500 * time.Millisecond

// ConfirmConfig configures WaitForConfirmation.
type ConfirmConfig struct {
	// Commitment is the level the transaction must reach.
	Commitment Commitment

	// PollInterval is the delay between status polls.
	PollInterval time.Duration
}

// WaitForConfirmation polls the status of txID until it reaches the
// configured commitment or ctx ends.
//
// Returns nil once confirmed, a RejectedByChain error if the transaction
// landed but failed, and a Timeout error if ctx ends first. Retryable status
// failures keep polling; other failures are returned.
func WaitForConfirmation(ctx context.Context, client Client, txID string, config ConfirmConfig) error {
	if config.Commitment == "" {
		config.Commitment = CommitmentConfirmed
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := client.SignatureStatus(ctx, txID)
		switch {
		case err != nil && !errkind.IsRetryable(err) && ctx.Err() == nil:
			confirmationPollsTotal.WithLabelValues("error").Inc()
			return err
		case err != nil:
			confirmationPollsTotal.WithLabelValues("error").Inc()
			lastErr = err
		case status.Failed():
			confirmationPollsTotal.WithLabelValues("failed").Inc()
			return errkind.New(errkind.RejectedByChain, "confirm", fmt.Sprintf("transaction failed on chain: %s", status.Err))
		case status.Reached(config.Commitment):
			confirmationPollsTotal.WithLabelValues("confirmed").Inc()
			return nil
		default:
			confirmationPollsTotal.WithLabelValues("pending").Inc()
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return errkind.Wrap(errkind.Timeout, "confirm", fmt.Errorf("confirmation not observed: %w", lastErr))
			}
			return errkind.Wrap(errkind.Timeout, "confirm", fmt.Errorf("confirmation not observed: %w", ctx.Err()))
		case <-ticker.C:
		}
	}
}
