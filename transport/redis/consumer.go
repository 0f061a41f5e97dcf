package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solrelay/transfer-relay/logging"
)

// StreamMessage is one stream entry delivered to a consumer group member.
type StreamMessage struct {
	// ID is the Redis stream entry id, used to Ack.
	ID string
	// Stream is the stream the entry was read from.
	Stream string
	// Data is the DataField payload.
	Data []byte
}

// ConsumerConfig configures a StreamConsumer.
type ConsumerConfig struct {
	// Stream is the stream key to read.
	Stream string
	// Group is the consumer group name.
	Group string
	// Consumer identifies this member of the group.
	Consumer string

	// BatchSize is the XREADGROUP COUNT.
	// Default: 100
	BatchSize int64
	// Block is how long one XREADGROUP waits for new entries. Finite so
	// idle claiming and shutdown are observed between reads.
	// Default: 2s
	Block time.Duration
	// ClaimIdleTimeout is how long an entry stays pending with another
	// consumer before it is claimed.
	// Default: 60s
	ClaimIdleTimeout time.Duration
	// StartID is where a newly created group begins: "0" replays history,
	// "$" delivers only new entries.
	// Default: "0"
	StartID string
}

// StreamConsumer reads a Redis Stream through a consumer group. Entries are
// acknowledged with XACK only and stay in the stream.
type StreamConsumer struct {
	logger logging.Logger
	client redis.UniversalClient
	config ConsumerConfig

	msgCh chan StreamMessage

	lastClaimTime time.Time
	claimMu       sync.Mutex

	// Lifecycle management
	mu       sync.Mutex
	closed   bool
	started  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	reconnectBase time.Duration
}

// NewStreamConsumer validates cfg, applies defaults and returns a consumer.
func NewStreamConsumer(
	logger logging.Logger,
	client redis.UniversalClient,
	cfg ConsumerConfig,
) (*StreamConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if cfg.Consumer == "" {
		return nil, fmt.Errorf("consumer name is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ClaimIdleTimeout <= 0 {
		cfg.ClaimIdleTimeout = time.Minute
	}
	if cfg.StartID == "" {
		cfg.StartID = "0"
	}

	return &StreamConsumer{
		logger:        logging.ForComponent(logger, logging.ComponentRedisClient),
		client:        client,
		config:        cfg,
		msgCh:         make(chan StreamMessage, cfg.BatchSize),
		reconnectBase: reconnectBaseDelay,
	}, nil
}

// Consume starts reading and returns the message channel. The channel is
// closed when ctx ends or Close is called. Calling Consume twice returns the
// same channel.
func (c *StreamConsumer) Consume(ctx context.Context) <-chan StreamMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if !c.started {
			c.started = true
			close(c.msgCh)
		}
		return c.msgCh
	}
	if c.started {
		return c.msgCh
	}
	c.started = true

	ctx, c.cancelFn = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Info().
		Str(logging.FieldStreamKey, c.config.Stream).
		Str("consumer_group", c.config.Group).
		Str("consumer", c.config.Consumer).
		Msg("started consuming stream")

	return c.msgCh
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, c.config.StartID).Err()
	if err != nil && !IsBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Stream, err)
	}
	return nil
}

func (c *StreamConsumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.msgCh)

	loop := NewReconnectionLoop(
		c.logger,
		"stream_consumer",
		func(ctx context.Context) error {
			if err := c.EnsureGroup(ctx); err != nil {
				return err
			}
			// Entries left pending by a previous run of this consumer come
			// first; XREADGROUP with id 0 returns them.
			return c.drainOwnPending(ctx)
		},
		c.consumeUntilError,
	)
	loop.baseDelay = c.reconnectBase
	loop.Run(ctx)
}

// drainOwnPending redelivers entries this consumer read but never acked.
func (c *StreamConsumer) drainOwnPending(ctx context.Context) error {
	// Block < 0 omits BLOCK; history reads never wait.
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		Streams:  []string{c.config.Stream, "0"},
		Count:    c.config.BatchSize,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read pending entries: %w", err)
	}
	if len(streams) == 0 {
		return nil
	}
	return c.deliver(ctx, streams[0].Messages)
}

// consumeUntilError reads new entries until an error occurs. The error
// triggers a reconnect through the reconnection loop.
func (c *StreamConsumer) consumeUntilError(ctx context.Context) error {
	for {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Consumer,
			Streams:  []string{c.config.Stream, ">"},
			Count:    c.config.BatchSize,
			Block:    c.config.Block,
		}).Result()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, redis.Nil) {
				c.maybeClaim(ctx)
				c.refreshPending(ctx)
				continue
			}

			if IsNoGroupError(err) {
				c.logger.Debug().Err(err).Msg("consumer group missing, recreating")
				if groupErr := c.EnsureGroup(ctx); groupErr != nil {
					return fmt.Errorf("failed to recreate consumer group: %w", groupErr)
				}
				continue
			}

			consumeErrorsTotal.WithLabelValues(c.config.Stream, errorType(err)).Inc()
			c.logger.Error().Err(err).Msg("error reading from stream")
			return err
		}

		if len(streams) == 0 {
			continue
		}
		if err = c.deliver(ctx, streams[0].Messages); err != nil {
			return err
		}
	}
}

func (c *StreamConsumer) deliver(ctx context.Context, messages []redis.XMessage) error {
	for _, message := range messages {
		msg, ok := c.parseMessage(message)
		if !ok {
			malformedMessages.WithLabelValues(c.config.Stream).Inc()
			c.logger.Warn().
				Str(logging.FieldMessageID, message.ID).
				Msg("stream entry has no data field, acknowledging")
			_ = c.client.XAck(ctx, c.config.Stream, c.config.Group, message.ID).Err()
			continue
		}

		consumedTotal.WithLabelValues(c.config.Stream).Inc()

		select {
		case c.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// maybeClaim claims idle entries at most once per ClaimIdleTimeout.
func (c *StreamConsumer) maybeClaim(ctx context.Context) {
	c.claimMu.Lock()
	shouldClaim := time.Since(c.lastClaimTime) >= c.config.ClaimIdleTimeout
	if shouldClaim {
		c.lastClaimTime = time.Now()
	}
	c.claimMu.Unlock()

	if shouldClaim {
		c.claimPending(ctx)
	}
}

// claimPending takes over entries another consumer read but never acked.
func (c *StreamConsumer) claimPending(ctx context.Context) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.config.Stream,
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		MinIdle:  c.config.ClaimIdleTimeout,
		Start:    "0-0",
		Count:    c.config.BatchSize,
	}).Result()
	if err != nil {
		if IsNoGroupError(err) || ctx.Err() != nil {
			return
		}
		c.logger.Debug().Err(err).Msg("error claiming idle entries")
		return
	}
	if len(messages) == 0 {
		return
	}

	claimedMessages.WithLabelValues(c.config.Stream).Add(float64(len(messages)))
	c.logger.Debug().
		Int(logging.FieldCount, len(messages)).
		Str(logging.FieldStreamKey, c.config.Stream).
		Msg("claimed idle entries")

	_ = c.deliver(ctx, messages)
}

func (c *StreamConsumer) refreshPending(ctx context.Context) {
	if n, err := c.Pending(ctx); err == nil {
		pendingMessages.WithLabelValues(c.config.Stream).Set(float64(n))
	}
}

func (c *StreamConsumer) parseMessage(message redis.XMessage) (StreamMessage, bool) {
	var data []byte
	switch v := message.Values[DataField].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return StreamMessage{}, false
	}
	return StreamMessage{ID: message.ID, Stream: c.config.Stream, Data: data}, true
}

// Ack acknowledges processed entries. The entries remain in the stream.
func (c *StreamConsumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.config.Stream, c.config.Group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack %d entries: %w", len(ids), err)
	}
	ackedTotal.WithLabelValues(c.config.Stream).Add(float64(len(ids)))
	return nil
}

// Pending returns the number of entries delivered to the group but not acked.
func (c *StreamConsumer) Pending(ctx context.Context) (int64, error) {
	pending, err := c.client.XPending(ctx, c.config.Stream, c.config.Group).Result()
	if err != nil {
		if IsNoGroupError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pending count: %w", err)
	}
	return pending.Count, nil
}

// Close stops consumption and waits for the read loop to exit.
func (c *StreamConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancelFn != nil {
		c.cancelFn()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Debug().Str(logging.FieldStreamKey, c.config.Stream).Msg("stream consumer closed")
	return nil
}
