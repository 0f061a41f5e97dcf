package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/transfer"
)

// RPCConfig configures the JSON-RPC client.
type RPCConfig struct {
	// Endpoint is the JSON-RPC URL, e.g. https://api.devnet.solana.com
	Endpoint string

	// Commitment is used for blockhash, block height and preflight queries.
	// Default: confirmed
	Commitment Commitment

	// SkipPreflight disables node-side simulation before broadcast.
	SkipPreflight bool

	// Headers are added to every request, e.g. an API key for hosted endpoints.
	Headers map[string]string
}

// RPCClient talks to a Solana node over JSON-RPC.
type RPCClient struct {
	logger        logging.Logger
	rpc           *rpc.Client
	endpoint      string
	commitment    Commitment
	skipPreflight bool
}

var _ Client = (*RPCClient)(nil)

// NewRPCClient creates a client for the configured endpoint. No connection is
// made until the first call.
func NewRPCClient(logger logging.Logger, config RPCConfig) (*RPCClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	if config.Commitment == "" {
		config.Commitment = CommitmentConfirmed
	}
	if _, err := ParseCommitment(string(config.Commitment)); err != nil {
		return nil, err
	}

	var client *rpc.Client
	if len(config.Headers) > 0 {
		client = rpc.NewWithHeaders(config.Endpoint, config.Headers)
	} else {
		client = rpc.New(config.Endpoint)
	}

	return &RPCClient{
		logger:        logging.ForComponent(logger, logging.ComponentChainClient),
		rpc:           client,
		endpoint:      config.Endpoint,
		commitment:    config.Commitment,
		skipPreflight: config.SkipPreflight,
	}, nil
}

// Endpoint returns the configured URL.
func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

// FetchFreshness implements Client.
func (c *RPCClient) FetchFreshness(ctx context.Context) (transfer.FreshnessToken, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment.rpcType())
	err = Classify("fetch_freshness", err)
	observeRPC("getLatestBlockhash", start, err)
	if err != nil {
		return transfer.FreshnessToken{}, err
	}
	if out == nil || out.Value == nil {
		return transfer.FreshnessToken{}, errkind.New(errkind.ServiceUnavailable, "fetch_freshness", "empty blockhash response")
	}

	token := transfer.FreshnessToken{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}

	c.logger.Debug().
		Str(logging.FieldBlockhash, token.Blockhash.String()).
		Uint64(logging.FieldLastValidBlockHeight, token.LastValidBlockHeight).
		Dur(logging.FieldLatency, time.Since(start)).
		Msg("fetched freshness token")

	return token, nil
}

// Submit implements Client. A node answering that the transaction was already
// processed is treated as success: the bytes are identical, so it landed.
func (c *RPCClient) Submit(ctx context.Context, tx *transfer.SignedTransaction) (string, error) {
	if tx == nil || tx.Tx == nil {
		return "", errkind.New(errkind.Internal, "submit", "signed transaction is nil")
	}

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx.Tx, rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment.rpcType(),
	})
	err = Classify("submit", err)
	observeRPC("sendTransaction", start, err)

	if IsAlreadyProcessed(err) {
		c.logger.Info().
			Str(logging.FieldTxID, tx.ID).
			Msg("transaction already processed by chain")
		return tx.ID, nil
	}
	if err != nil {
		return "", err
	}

	id := sig.String()
	if id != tx.ID {
		c.logger.Warn().
			Str(logging.FieldTxID, tx.ID).
			Str("returned_tx_id", id).
			Msg("node returned an unexpected transaction id")
	}
	return id, nil
}

// SignatureStatus implements Client.
func (c *RPCClient) SignatureStatus(ctx context.Context, txID string) (Status, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return Status{}, errkind.Wrap(errkind.Internal, "signature_status", fmt.Errorf("invalid transaction id: %w", err))
	}

	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	err = Classify("signature_status", err)
	observeRPC("getSignatureStatuses", start, err)
	if err != nil {
		return Status{}, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return Status{}, nil
	}

	v := out.Value[0]
	status := Status{
		Found:        true,
		Slot:         v.Slot,
		Confirmation: Commitment(v.ConfirmationStatus),
	}
	if v.Err != nil {
		status.Err = fmt.Sprint(v.Err)
	}
	return status, nil
}

// BlockHeight implements Client.
func (c *RPCClient) BlockHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, c.commitment.rpcType())
	err = Classify("block_height", err)
	observeRPC("getBlockHeight", start, err)
	return height, err
}

// Health implements Client.
func (c *RPCClient) Health(ctx context.Context) error {
	start := time.Now()
	out, err := c.rpc.GetHealth(ctx)
	err = Classify("health", err)
	observeRPC("getHealth", start, err)
	if err != nil {
		return err
	}
	if out != rpc.HealthOk {
		return errkind.New(errkind.ServiceUnavailable, "health", fmt.Sprintf("node reports %q", out))
	}
	return nil
}
