package chain

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/transfer"
)

const (
	// DefaultCallTimeout bounds a single RPC attempt.
	DefaultCallTimeout = 10 * time.Second

	// DefaultRetryBudget is the number of extra attempts after the first.
	DefaultRetryBudget = 3

	defaultBaseBackoff = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	retryBackoffFactor = 2
	defaultSubmitBurst = 1
)

// RetryConfig configures a RetryingClient.
type RetryConfig struct {
	// CallTimeout bounds each individual attempt.
	// Default: 10s
	CallTimeout time.Duration

	// RetryBudget is the number of extra attempts after the first for
	// retryable failures. Zero disables retries; negative values are treated
	// as zero.
	RetryBudget int

	// BaseBackoff is the delay before the first retry. Each further retry
	// doubles it up to MaxBackoff.
	// Default: 1s
	BaseBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 30s
	MaxBackoff time.Duration

	// SubmitRatePerSecond limits transaction submissions across the whole
	// process. Zero means unlimited.
	SubmitRatePerSecond float64

	// SubmitBurst is the limiter burst size.
	// Default: 1
	SubmitBurst int
}

// DefaultRetryConfig returns the production retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		CallTimeout: DefaultCallTimeout,
		RetryBudget: DefaultRetryBudget,
		BaseBackoff: defaultBaseBackoff,
		MaxBackoff:  defaultMaxBackoff,
		SubmitBurst: defaultSubmitBurst,
	}
}

// RetryingClient wraps a Client with per-call timeouts, a bounded retry
// budget for retryable failures and an optional submit rate limit.
//
// Submit retries resend the identical signed bytes, never a rebuilt
// transaction, so at most one of the attempts can land.
type RetryingClient struct {
	logger  logging.Logger
	inner   Client
	config  RetryConfig
	limiter *rate.Limiter

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Client = (*RetryingClient)(nil)

// NewRetryingClient wraps inner.
func NewRetryingClient(logger logging.Logger, inner Client, config RetryConfig) *RetryingClient {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.RetryBudget < 0 {
		config.RetryBudget = 0
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaultBaseBackoff
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = config.BaseBackoff
	}
	if config.SubmitBurst <= 0 {
		config.SubmitBurst = defaultSubmitBurst
	}

	var limiter *rate.Limiter
	if config.SubmitRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.SubmitRatePerSecond), config.SubmitBurst)
	}

	return &RetryingClient{
		logger:  logging.ForComponent(logger, logging.ComponentRetryingClient),
		inner:   inner,
		config:  config,
		limiter: limiter,
		sleep:   sleepContext,
	}
}

// Config returns the effective configuration.
func (c *RetryingClient) Config() RetryConfig {
	return c.config
}

// FetchFreshness implements Client.
func (c *RetryingClient) FetchFreshness(ctx context.Context) (transfer.FreshnessToken, error) {
	var token transfer.FreshnessToken
	err := c.do(ctx, "fetch_freshness", func(callCtx context.Context) error {
		var err error
		token, err = c.inner.FetchFreshness(callCtx)
		return err
	})
	return token, err
}

// Submit implements Client. An "already processed" answer on any attempt
// means an earlier attempt with the same bytes landed, so it is success.
func (c *RetryingClient) Submit(ctx context.Context, tx *transfer.SignedTransaction) (string, error) {
	if tx == nil {
		return "", errkind.New(errkind.Internal, "submit", "signed transaction is nil")
	}

	var (
		id   string
		sent bool
	)
	err := c.do(ctx, "submit", func(callCtx context.Context) error {
		if err := c.waitSubmitSlot(callCtx); err != nil {
			return err
		}
		sent = true
		var err error
		id, err = c.inner.Submit(callCtx, tx)
		if IsAlreadyProcessed(err) {
			id = tx.ID
			return nil
		}
		return err
	})
	if err != nil {
		if !sent {
			return "", errkind.Wrap(errkind.Of(err), "submit", fmt.Errorf("%w: %w", ErrNotSent, err))
		}
		return "", err
	}
	return id, nil
}

// SignatureStatus implements Client.
func (c *RetryingClient) SignatureStatus(ctx context.Context, txID string) (Status, error) {
	var status Status
	err := c.do(ctx, "signature_status", func(callCtx context.Context) error {
		var err error
		status, err = c.inner.SignatureStatus(callCtx, txID)
		return err
	})
	return status, err
}

// BlockHeight implements Client.
func (c *RetryingClient) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.do(ctx, "block_height", func(callCtx context.Context) error {
		var err error
		height, err = c.inner.BlockHeight(callCtx)
		return err
	})
	return height, err
}

// Health implements Client. Health checks are never retried.
func (c *RetryingClient) Health(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()
	return Classify("health", c.inner.Health(callCtx))
}

// do runs fn up to 1+RetryBudget times. Only retryable kinds are retried.
// When ctx ends between attempts the last attempt's error is returned.
func (c *RetryingClient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := c.config.BaseBackoff
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryBudget; attempt++ {
		if attempt > 0 {
			retryAttemptsTotal.WithLabelValues(op).Inc()
			c.logger.Warn().
				Err(lastErr).
				Str(logging.FieldOperation, op).
				Int(logging.FieldAttempt, attempt).
				Int(logging.FieldMaxRetry, c.config.RetryBudget).
				Dur(logging.FieldBackoff, backoff).
				Msg("retrying chain call")

			if err := c.sleep(ctx, backoff); err != nil {
				return lastErr
			}
			backoff = increaseBackoff(backoff, c.config.MaxBackoff)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		err := Classify(op, fn(callCtx))
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !errkind.IsRetryable(err) {
			return err
		}
	}

	retriesExhaustedTotal.WithLabelValues(op).Inc()
	c.logger.Warn().
		Err(lastErr).
		Str(logging.FieldOperation, op).
		Int(logging.FieldMaxRetry, c.config.RetryBudget).
		Msg("retry budget exhausted")
	return lastErr
}

func (c *RetryingClient) waitSubmitSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	err := c.limiter.Wait(ctx)
	submitRateLimitWait.Observe(time.Since(start).Seconds())
	if err != nil {
		// Wait fails early when the deadline cannot be met; nothing was sent.
		return errkind.Wrap(errkind.Timeout, "submit", err)
	}
	return nil
}

// increaseBackoff doubles the delay up to max.
func increaseBackoff(current, max time.Duration) time.Duration {
	next := current * retryBackoffFactor
	if next > max {
		return max
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
