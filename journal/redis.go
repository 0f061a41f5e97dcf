package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solrelay/transfer-relay/logging"
	redisutil "github.com/solrelay/transfer-relay/transport/redis"
)

// ErrBatchNotFound is returned by LoadBatch for unknown or expired batches.
var ErrBatchNotFound = errors.New("batch not found")

// RedisJournalConfig configures a RedisJournal.
type RedisJournalConfig struct {
	// MaxLen approximately caps the journal stream. 0 disables trimming.
	MaxLen int64
	// BatchTTL is how long SaveBatch results stay readable.
	// Default: 24h
	BatchTTL time.Duration
	// BatchCompression is the zstd level for stored batch results.
	// Default: default
	BatchCompression redisutil.CompressionLevel
}

// RedisJournal appends records to a Redis stream. Ambiguous records are also
// kept in a hash keyed by transaction id until a resolution record removes
// them, so reconcilers can find open work without scanning the stream.
type RedisJournal struct {
	logger    logging.Logger
	client    *redisutil.Client
	publisher *redisutil.StreamPublisher
	batchTTL  time.Duration
	codec     *redisutil.Compressor
}

// NewRedisJournal creates a journal on client.
func NewRedisJournal(logger logging.Logger, client *redisutil.Client, cfg RedisJournalConfig) *RedisJournal {
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = 24 * time.Hour
	}
	j := &RedisJournal{
		logger:    logging.ForComponent(logger, logging.ComponentRedisJournal),
		client:    client,
		publisher: redisutil.NewStreamPublisher(logger, client, cfg.MaxLen),
		batchTTL:  cfg.BatchTTL,
	}
	codec, err := redisutil.NewCompressor(cfg.BatchCompression)
	if err != nil {
		j.logger.Warn().Err(err).Msg("storing batch results uncompressed")
		codec, _ = redisutil.NewCompressor(redisutil.CompressionLevelNone)
	}
	j.codec = codec
	return j
}

// Client returns the underlying Redis client.
func (j *RedisJournal) Client() *redisutil.Client {
	return j.client
}

// Record appends rec to the journal stream and maintains the ambiguous hash
// in the same round trip.
func (j *RedisJournal) Record(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		observeWrite("redis", rec.OutcomeKind, err)
		return fmt.Errorf("failed to encode journal record: %w", err)
	}

	ambiguousKey := j.client.KB().AmbiguousKey()
	var extra []func(redis.Pipeliner)
	switch {
	case rec.TransactionID == "":
	case rec.OutcomeKind == OutcomeAmbiguous:
		extra = append(extra, func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, ambiguousKey, rec.TransactionID, data)
		})
	case IsResolution(rec.OutcomeKind):
		extra = append(extra, func(pipe redis.Pipeliner) {
			pipe.HDel(ctx, ambiguousKey, rec.TransactionID)
		})
	}

	_, err = j.publisher.Publish(ctx, j.client.KB().JournalStreamKey(), data, extra...)
	observeWrite("redis", rec.OutcomeKind, err)
	if err != nil {
		if redisutil.IsOOMError(err) {
			j.logger.Error().
				Err(err).
				Str(logging.FieldTxID, rec.TransactionID).
				Msg("redis is out of memory, journal record dropped")
		}
		return fmt.Errorf("failed to record outcome in redis: %w", err)
	}
	return nil
}

// Ambiguous returns the open ambiguous records ordered by timestamp.
func (j *RedisJournal) Ambiguous(ctx context.Context) ([]Record, error) {
	entries, err := j.client.HGetAll(ctx, j.client.KB().AmbiguousKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ambiguous set: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for txID, raw := range entries {
		var rec Record
		if err = json.Unmarshal([]byte(raw), &rec); err != nil {
			j.logger.Warn().
				Err(err).
				Str(logging.FieldTxID, txID).
				Msg("skipping unreadable ambiguous entry")
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(a, b int) bool {
		if records[a].Timestamp.Equal(records[b].Timestamp) {
			return records[a].Sequence < records[b].Sequence
		}
		return records[a].Timestamp.Before(records[b].Timestamp)
	})

	ambiguousPending.Set(float64(len(records)))
	return records, nil
}

// SaveBatch stores a finished batch result for BatchTTL.
func (j *RedisJournal) SaveBatch(ctx context.Context, batchID string, data []byte) error {
	if err := j.client.Set(ctx, j.client.KB().BatchKey(batchID), j.codec.Compress(data), j.batchTTL).Err(); err != nil {
		return fmt.Errorf("failed to store batch %s: %w", batchID, err)
	}
	return nil
}

// LoadBatch returns a stored batch result or ErrBatchNotFound.
func (j *RedisJournal) LoadBatch(ctx context.Context, batchID string) ([]byte, error) {
	data, err := j.client.Get(ctx, j.client.KB().BatchKey(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	return j.codec.Decompress(data)
}

// NewConsumer returns a consumer-group reader of the journal stream. A newly
// created group starts at the stream tail; history is covered by the
// ambiguous hash.
func (j *RedisJournal) NewConsumer(consumerName string, claimIdle, block time.Duration) (*redisutil.StreamConsumer, error) {
	return redisutil.NewStreamConsumer(j.logger, j.client, redisutil.ConsumerConfig{
		Stream:           j.client.KB().JournalStreamKey(),
		Group:            j.client.KB().ConsumerGroup(),
		Consumer:         consumerName,
		Block:            block,
		ClaimIdleTimeout: claimIdle,
		StartID:          "$",
	})
}

// Close stops the publisher. The Redis client is owned by the caller.
func (j *RedisJournal) Close() error {
	return j.publisher.Close()
}
