package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solrelay/transfer-relay/config"
)

// Client wraps a Redis client with a KeyBuilder for namespace-aware key construction.
type Client struct {
	redis.UniversalClient
	keyBuilder *KeyBuilder
	poolSize   int
}

// KB returns the KeyBuilder for constructing Redis keys with configured namespaces.
//
// Example:
//
//	key := client.KB().JournalStreamKey()
//	// Returns: "txrelay:journal" (based on config)
func (c *Client) KB() *KeyBuilder {
	return c.keyBuilder
}

// PoolSize returns the configured pool size.
func (c *Client) PoolSize() int {
	return c.poolSize
}

// ClientConfig contains configuration for creating a Redis client.
type ClientConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss:// (TLS), redis-sentinel://, redis-cluster://
	URL string

	// MaxRetries is the maximum number of retries before giving up.
	// Default: 3
	MaxRetries int

	// PoolSize is the maximum number of socket connections.
	// Default: 20
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	// Default: 0
	MinIdleConns int

	// PoolTimeoutSeconds is how long to wait for a pooled connection.
	// 0 keeps the go-redis default (ReadTimeout + 1s).
	PoolTimeoutSeconds int

	// ConnMaxIdleTimeSeconds closes connections idle for longer than this.
	// 0 keeps the go-redis default.
	ConnMaxIdleTimeSeconds int

	// Namespace configures Redis key prefixes.
	// Empty fields fall back to config.DefaultRedisNamespaceConfig.
	Namespace config.RedisNamespaceConfig
}

// ClientConfigFrom converts the YAML Redis section into a ClientConfig.
func ClientConfigFrom(cfg config.RedisConfig) ClientConfig {
	return ClientConfig{
		URL:                    cfg.URL,
		PoolSize:               cfg.PoolSize,
		MinIdleConns:           cfg.MinIdleConns,
		PoolTimeoutSeconds:     cfg.PoolTimeoutSeconds,
		ConnMaxIdleTimeSeconds: cfg.ConnMaxIdleTimeSeconds,
		Namespace:              cfg.Namespace,
	}
}

// NewClient creates a new Redis client with KeyBuilder from the configuration.
// Supports standalone, sentinel, and cluster modes based on URL scheme.
// Returns a wrapped Client that provides both Redis operations and namespace-aware key building.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	pool := poolSettingsFrom(cfg)

	var client redis.UniversalClient

	switch u.Scheme {
	case "redis", "rediss":
		opts, parseErr := redis.ParseURL(cfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", parseErr)
		}
		opts.MaxRetries = pool.maxRetries
		opts.PoolSize = pool.poolSize
		opts.MinIdleConns = pool.minIdleConns
		opts.PoolTimeout = pool.poolTimeout
		opts.ConnMaxIdleTime = pool.connMaxIdleTime
		client = redis.NewClient(opts)

	case "redis-sentinel":
		client, err = newSentinelClient(u, pool)
		if err != nil {
			return nil, err
		}

	case "redis-cluster":
		client, err = newClusterClient(u, pool)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported redis URL scheme: %s", u.Scheme)
	}

	if err = client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{
		UniversalClient: client,
		keyBuilder:      NewKeyBuilder(cfg.Namespace),
		poolSize:        pool.poolSize,
	}, nil
}

// WrapClient attaches a KeyBuilder to an existing go-redis client.
func WrapClient(client redis.UniversalClient, namespace config.RedisNamespaceConfig) *Client {
	return &Client{
		UniversalClient: client,
		keyBuilder:      NewKeyBuilder(namespace),
	}
}

// poolSettings are the connection pool options shared by every client mode.
// Zero durations keep the go-redis defaults.
type poolSettings struct {
	maxRetries      int
	poolSize        int
	minIdleConns    int
	poolTimeout     time.Duration
	connMaxIdleTime time.Duration
}

func poolSettingsFrom(cfg ClientConfig) poolSettings {
	p := poolSettings{
		maxRetries:      cfg.MaxRetries,
		poolSize:        cfg.PoolSize,
		minIdleConns:    cfg.MinIdleConns,
		poolTimeout:     time.Duration(cfg.PoolTimeoutSeconds) * time.Second,
		connMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	// One connection is held by a blocked XREADGROUP per reconciler; journal
	// writes and hash updates share the rest.
	if p.poolSize <= 0 {
		p.poolSize = 20
	}
	return p
}

// newSentinelClient creates a Redis Sentinel client.
// URL format: redis-sentinel://[:password@]host1:port1,host2:port2/master_name[?db=N]
func newSentinelClient(u *url.URL, pool poolSettings) (redis.UniversalClient, error) {
	masterName := strings.TrimPrefix(u.Path, "/")
	if masterName == "" {
		return nil, fmt.Errorf("sentinel URL must include master name in path")
	}

	addrs := splitHosts(u.Host)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("sentinel URL must include at least one sentinel address")
	}

	db := 0
	if dbStr := u.Query().Get("db"); dbStr != "" {
		var err error
		if db, err = strconv.Atoi(dbStr); err != nil {
			return nil, fmt.Errorf("invalid db number: %w", err)
		}
	}

	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:      masterName,
		SentinelAddrs:   addrs,
		Password:        urlPassword(u),
		DB:              db,
		MaxRetries:      pool.maxRetries,
		PoolSize:        pool.poolSize,
		MinIdleConns:    pool.minIdleConns,
		PoolTimeout:     pool.poolTimeout,
		ConnMaxIdleTime: pool.connMaxIdleTime,
	}), nil
}

// newClusterClient creates a Redis Cluster client.
// URL format: redis-cluster://[:password@]host1:port1,host2:port2
func newClusterClient(u *url.URL, pool poolSettings) (redis.UniversalClient, error) {
	addrs := splitHosts(u.Host)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("cluster URL must include at least one node address")
	}

	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:           addrs,
		Password:        urlPassword(u),
		MaxRetries:      pool.maxRetries,
		PoolSize:        pool.poolSize,
		MinIdleConns:    pool.minIdleConns,
		PoolTimeout:     pool.poolTimeout,
		ConnMaxIdleTime: pool.connMaxIdleTime,
	}), nil
}

func splitHosts(host string) []string {
	var addrs []string
	for _, h := range strings.Split(host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			addrs = append(addrs, h)
		}
	}
	return addrs
}

func urlPassword(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	password, _ := u.User.Password()
	return password
}
