// Package logging provides centralized logging utilities for the transfer relay.
// It defines standardized field names and helper functions to ensure consistent
// structured logging across all components.
package logging

// Standard field name constants for structured logging.
const (
	// Component identification
	FieldComponent = "component"
	FieldService   = "service"

	// Batch/job fields
	FieldBatchID           = "batch_id"
	FieldJobIndex          = "job_index"
	FieldSequence          = "sequence"
	FieldSenderFingerprint = "sender_fingerprint"
	FieldSenderAddress     = "sender_address"
	FieldRecipient         = "recipient"
	FieldAmountUnits       = "amount_units"
	FieldJobState          = "job_state"
	FieldErrorKind         = "error_kind"

	// Chain fields
	FieldTxID                 = "tx_id"
	FieldBlockhash            = "blockhash"
	FieldLastValidBlockHeight = "last_valid_block_height"
	FieldCommitment           = "commitment"
	FieldEndpoint             = "endpoint"

	// Operation fields
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldResult    = "result"
	FieldReason    = "reason"
	FieldSource    = "source"
	FieldPath      = "path"

	// Network/connection fields
	FieldListenAddr = "listen_addr"
	FieldRemoteAddr = "remote_addr"
	FieldStatusCode = "status_code"

	// Redis/stream fields
	FieldStreamKey = "stream_key"
	FieldMessageID = "message_id"

	// Timing fields
	FieldDuration = "duration"
	FieldLatency  = "latency"

	// Count/size fields
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Retry fields
	FieldAttempt  = "attempt"
	FieldMaxRetry = "max_retries"
	FieldBackoff  = "backoff"

	// File fields
	FieldFile = "file"
	FieldLine = "line"
)

// Component name constants for the "component" field.
const (
	ComponentKeyDecoder      = "key_decoder"
	ComponentKeyFileProvider = "key_file_provider"
	ComponentBuilder         = "transfer_builder"
	ComponentSigner          = "transfer_signer"
	ComponentChainClient     = "chain_client"
	ComponentRetryingClient  = "chain_retrying_client"
	ComponentFreshnessCache  = "freshness_cache"
	ComponentBatchRelay      = "batch_relay"
	ComponentFileJournal     = "file_journal"
	ComponentRedisJournal    = "redis_journal"
	ComponentReconciler      = "reconciler"
	ComponentHTTPServer      = "http_server"
	ComponentInbox           = "inbox_watcher"
	ComponentRedisClient     = "redis_client"
	ComponentObservability   = "observability_server"
	ComponentCLI             = "cli"
)

// Operation result constants for the "result" field.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultTimeout = "timeout"
)
