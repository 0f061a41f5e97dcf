package testutil

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	redisutil "github.com/solrelay/transfer-relay/transport/redis"
)

// RedisTestSuite provides a shared miniredis instance for tests.
// Embed it in a suite to get Redis setup and teardown; every test starts
// from an empty database.
//
// Usage:
//
//	type JournalSuite struct {
//	    testutil.RedisTestSuite
//	}
//
//	func (s *JournalSuite) TestSomething() {
//	    err := s.RedisClient.Set(s.Ctx, "key", "value", 0).Err()
//	    s.Require().NoError(err)
//	}
//
//	func TestJournalSuite(t *testing.T) {
//	    suite.Run(t, new(JournalSuite))
//	}
type RedisTestSuite struct {
	suite.Suite

	// MiniRedis is the embedded miniredis instance, for inspecting state or
	// fast-forwarding TTLs.
	MiniRedis *miniredis.Miniredis

	// RedisClient is connected to MiniRedis with the default namespace.
	RedisClient *redisutil.Client

	// Ctx is a background context for Redis operations.
	Ctx context.Context
}

// SetupSuite runs once before all tests in the suite.
func (s *RedisTestSuite) SetupSuite() {
	mr, err := miniredis.Run()
	s.Require().NoError(err, "failed to create miniredis")
	s.MiniRedis = mr

	s.Ctx = context.Background()

	client, err := redisutil.NewClient(s.Ctx, redisutil.ClientConfig{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
	})
	s.Require().NoError(err, "failed to create Redis client")
	s.RedisClient = client
}

// SetupTest flushes all data so tests stay isolated.
func (s *RedisTestSuite) SetupTest() {
	s.MiniRedis.FlushAll()
}

// TearDownSuite closes the client and miniredis.
func (s *RedisTestSuite) TearDownSuite() {
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}
	if s.MiniRedis != nil {
		s.MiniRedis.Close()
	}
}

// RequireKeyExists asserts that a key exists in Redis.
func (s *RedisTestSuite) RequireKeyExists(key string) {
	exists, err := s.RedisClient.Exists(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to check key existence")
	s.Require().Equal(int64(1), exists, "key %q should exist", key)
}

// RequireKeyNotExists asserts that a key does not exist in Redis.
func (s *RedisTestSuite) RequireKeyNotExists(key string) {
	exists, err := s.RedisClient.Exists(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to check key existence")
	s.Require().Equal(int64(0), exists, "key %q should not exist", key)
}

// HLen returns the number of fields in a hash.
func (s *RedisTestSuite) HLen(key string) int64 {
	n, err := s.RedisClient.HLen(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to get hash length %q", key)
	return n
}

// StreamEntries returns every entry of a stream, oldest first.
func (s *RedisTestSuite) StreamEntries(stream string) []redis.XMessage {
	entries, err := s.RedisClient.XRange(s.Ctx, stream, "-", "+").Result()
	s.Require().NoError(err, "failed to read stream %q", stream)
	return entries
}
