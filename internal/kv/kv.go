// Package kv wraps the shared Redis store used for cross-process state:
// device position cache, batch-base timestamps, the global weather quota,
// IP intelligence cache, metric rings, and distributed locks.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PositionTTL bounds how long a device's last weather position is kept.
	PositionTTL = 30 * 24 * time.Hour
	// BatchBaseTTL bounds how long an absolute timestamp may serve as the
	// base for relative offsets in a device's stream.
	BatchBaseTTL = 6 * time.Hour
	// IPIntelTTL is the cache lifetime of an external IP lookup.
	IPIntelTTL = 24 * time.Hour
	// QuotaTTL expires the daily weather quota counter.
	QuotaTTL = 24 * time.Hour
)

// DevicePosition is the cached location of a device's last weather fetch.
type DevicePosition struct {
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	LastWeatherUpdate string  `json:"last_weather_update"`
}

// Client provides typed access to the shared KV store.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetPosition returns the cached position for a device, or nil when absent.
func (c *Client) GetPosition(ctx context.Context, deviceID string) (*DevicePosition, error) {
	raw, err := c.rdb.Get(ctx, "device_pos:"+deviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading device position: %w", err)
	}
	var pos DevicePosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, fmt.Errorf("decoding device position: %w", err)
	}
	return &pos, nil
}

// SetPosition stores the device position used for weather re-fetch gating.
func (c *Client) SetPosition(ctx context.Context, deviceID string, pos DevicePosition) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encoding device position: %w", err)
	}
	return c.rdb.Set(ctx, "device_pos:"+deviceID, raw, PositionTTL).Err()
}

// GetBatchBase returns the device's cached base timestamp for relative
// offsets. The second return is false when no base is cached.
func (c *Client) GetBatchBase(ctx context.Context, deviceID string) (int64, bool, error) {
	base, err := c.rdb.Get(ctx, "batch_base:"+deviceID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading batch base: %w", err)
	}
	return base, true, nil
}

// SetBatchBase records an absolute timestamp as the base for subsequent
// relative offsets of this device's stream.
func (c *Client) SetBatchBase(ctx context.Context, deviceID string, ts int64) error {
	return c.rdb.Set(ctx, "batch_base:"+deviceID, ts, BatchBaseTTL).Err()
}

// ClearBatchBase invalidates the cached base timestamp.
func (c *Client) ClearBatchBase(ctx context.Context, deviceID string) error {
	return c.rdb.Del(ctx, "batch_base:"+deviceID).Err()
}

// QuotaUsed returns how many external weather fetches have succeeded on the
// given UTC date.
func (c *Client) QuotaUsed(ctx context.Context, date string) (int64, error) {
	used, err := c.rdb.Get(ctx, "weather_quota:"+date).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading weather quota: %w", err)
	}
	return used, nil
}

// IncrQuota counts a successful external weather fetch. The counter expires
// on its own rather than resetting at midnight.
func (c *Client) IncrQuota(ctx context.Context, date string) error {
	key := "weather_quota:" + date
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incrementing weather quota: %w", err)
	}
	if n == 1 {
		return c.rdb.Expire(ctx, key, QuotaTTL).Err()
	}
	return nil
}

// GetIPIntel returns the cached raw provider response for an IP, or nil.
func (c *Client) GetIPIntel(ctx context.Context, ip string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, "ip_intel:"+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ip intel cache: %w", err)
	}
	return raw, nil
}

// SetIPIntel caches a provider response for an IP.
func (c *Client) SetIPIntel(ctx context.Context, ip string, raw []byte) error {
	return c.rdb.Set(ctx, "ip_intel:"+ip, raw, IPIntelTTL).Err()
}

// PushMetric appends an entry to a capped metrics ring.
func (c *Client) PushMetric(ctx context.Context, ring string, entry any, maxLen int64) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding metric: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, "metrics:"+ring, raw)
	pipe.LTrim(ctx, "metrics:"+ring, 0, maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing metric: %w", err)
	}
	return nil
}

// RecentMetrics returns up to n newest entries from a metrics ring.
func (c *Client) RecentMetrics(ctx context.Context, ring string, n int64) ([][]byte, error) {
	vals, err := c.rdb.LRange(ctx, "metrics:"+ring, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading metrics ring: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// AcquireLock takes a distributed lock, returning false when another process
// holds it. The lock expires on its own after ttl.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "lock:"+name, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock drops a held lock.
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	return c.rdb.Del(ctx, "lock:"+name).Err()
}
