package chain

import (
	"context"
	"sync"
	"time"

	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/transfer"
)

// FreshnessCache reuses a freshness token for a short window so a large batch
// does not fetch one blockhash per job. A zero window disables reuse.
// Identical jobs sharing a token produce identical transactions; callers that
// need both to land must Invalidate and refetch.
type FreshnessCache struct {
	Client

	logger logging.Logger
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached transfer.FreshnessToken
}

// NewFreshnessCache wraps client.
func NewFreshnessCache(logger logging.Logger, client Client, window time.Duration) *FreshnessCache {
	return &FreshnessCache{
		Client: client,
		logger: logging.ForComponent(logger, logging.ComponentFreshnessCache),
		window: window,
		now:    time.Now,
	}
}

// FetchFreshness returns the cached token while it is younger than the
// window, otherwise fetches a new one. Concurrent callers share one fetch.
func (c *FreshnessCache) FetchFreshness(ctx context.Context) (transfer.FreshnessToken, error) {
	if c.window <= 0 {
		return c.Client.FetchFreshness(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cached.IsZero() && c.now().Sub(c.cached.FetchedAt) < c.window {
		freshnessCacheTotal.WithLabelValues("hit").Inc()
		return c.cached, nil
	}

	freshnessCacheTotal.WithLabelValues("miss").Inc()
	token, err := c.Client.FetchFreshness(ctx)
	if err != nil {
		return transfer.FreshnessToken{}, err
	}
	if token.FetchedAt.IsZero() {
		token.FetchedAt = c.now()
	}
	c.cached = token

	c.logger.Debug().
		Str(logging.FieldBlockhash, token.Blockhash.String()).
		Msg("cached freshness token")

	return token, nil
}

// Invalidate drops the cached token.
func (c *FreshnessCache) Invalidate() {
	c.mu.Lock()
	c.cached = transfer.FreshnessToken{}
	c.mu.Unlock()
}
