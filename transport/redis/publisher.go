package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solrelay/transfer-relay/logging"
)

// DataField is the stream entry field holding the serialized payload.
const DataField = "data"

// StreamPublisher appends serialized entries to Redis Streams.
// Streams are trimmed approximately to maxLen; entries are never deleted
// by consumers.
type StreamPublisher struct {
	logger logging.Logger
	client redis.UniversalClient
	maxLen int64

	// mu protects closed state
	mu     sync.RWMutex
	closed bool
}

// NewStreamPublisher creates a stream publisher. maxLen <= 0 disables trimming.
func NewStreamPublisher(
	logger logging.Logger,
	client redis.UniversalClient,
	maxLen int64,
) *StreamPublisher {
	return &StreamPublisher{
		logger: logging.ForComponent(logger, logging.ComponentRedisClient),
		client: client,
		maxLen: maxLen,
	}
}

// Publish appends data to stream and returns the entry id. The extra
// functions queue side commands (hash updates, expirations) in the same
// pipeline round trip; any failing command fails the publish.
func (p *StreamPublisher) Publish(
	ctx context.Context,
	stream string,
	data []byte,
	extra ...func(redis.Pipeliner),
) (string, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return "", fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{DataField: data},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	start := time.Now()
	var addCmd *redis.StringCmd
	cmds, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		addCmd = pipe.XAdd(ctx, args)
		for _, fn := range extra {
			fn(pipe)
		}
		return nil
	})
	publishLatency.WithLabelValues(stream).Observe(time.Since(start).Seconds())

	if err == nil {
		for _, cmd := range cmds {
			if cmd.Err() != nil {
				err = cmd.Err()
				break
			}
		}
	}
	if err != nil {
		publishErrorsTotal.WithLabelValues(stream, errorType(err)).Inc()
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	id := addCmd.Val()
	publishedTotal.WithLabelValues(stream).Inc()

	p.logger.Debug().
		Str(logging.FieldStreamKey, stream).
		Str(logging.FieldMessageID, id).
		Int("side_commands", len(extra)).
		Msg("published stream entry")

	return id, nil
}

// Close marks the publisher closed. The underlying client is owned by the caller.
func (p *StreamPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.logger.Debug().Msg("stream publisher closed")
	return nil
}
