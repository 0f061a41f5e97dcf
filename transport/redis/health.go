package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/solrelay/transfer-relay/logging"
)

const (
	// DefaultHealthInterval is how often HealthMonitor polls INFO MEMORY.
	DefaultHealthInterval = 30 * time.Second

	// memoryWarningThreshold triggers a warning when used/max exceeds it.
	// Past maxmemory the journal stream rejects appends with OOM.
	memoryWarningThreshold = 0.9
)

// HealthMonitor polls Redis memory usage and exports it as metrics, warning
// before the journal starts failing with OOM errors. Check is suitable as a
// readiness probe.
type HealthMonitor struct {
	logger   logging.Logger
	client   *Client
	interval time.Duration

	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a monitor. interval <= 0 uses DefaultHealthInterval.
func NewHealthMonitor(logger logging.Logger, client *Client, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthMonitor{
		logger:   logging.ForComponent(logger, logging.ComponentRedisClient),
		client:   client,
		interval: interval,
	}
}

// Start runs the polling loop until ctx ends or Close is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cancelFn != nil {
		return
	}
	ctx, m.cancelFn = context.WithCancel(ctx)

	m.wg.Add(1)
	go logging.RecoverGoRoutine(m.logger, logging.ComponentRedisClient, func(ctx context.Context) {
		defer m.wg.Done()
		m.monitorLoop(ctx)
	})(ctx)
}

func (m *HealthMonitor) monitorLoop(ctx context.Context) {
	m.checkMemory(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkMemory(ctx)
		}
	}
}

// Check pings Redis.
func (m *HealthMonitor) Check(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

func (m *HealthMonitor) checkMemory(ctx context.Context) {
	info, err := m.client.Info(ctx, "memory").Result()
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("failed to query redis INFO MEMORY")
		}
		return
	}

	used, max, err := parseMemoryInfo(info)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to parse redis INFO MEMORY")
		return
	}

	usedMemoryBytes.Set(float64(used))
	maxMemoryBytes.Set(float64(max))

	ratio := memoryRatio(used, max)
	memoryUsageRatio.Set(ratio)
	if ratio > memoryWarningThreshold {
		m.logger.Warn().
			Int64("used_memory_bytes", used).
			Int64("max_memory_bytes", max).
			Float64("usage_ratio", ratio).
			Msg("redis memory high, journal appends will fail with OOM at maxmemory")
	}
}

// memoryRatio returns used/max, or -1 when maxmemory is unlimited.
func memoryRatio(used, max int64) float64 {
	if max <= 0 {
		return -1
	}
	return float64(used) / float64(max)
}

// parseMemoryInfo extracts used_memory and maxmemory from INFO MEMORY output.
func parseMemoryInfo(info string) (used, max int64, err error) {
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "used_memory":
			if used, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return 0, 0, fmt.Errorf("invalid used_memory: %w", err)
			}
		case "maxmemory":
			if max, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return 0, 0, fmt.Errorf("invalid maxmemory: %w", err)
			}
		}
	}
	return used, max, nil
}

// Close stops the polling loop. It is safe to call more than once.
func (m *HealthMonitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
