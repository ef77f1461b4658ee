// Package redis implements the answer cache, signal bus, rate limiter and
// poll locks on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// clientName tags oracle connections in CLIENT LIST.
const clientName = "cpmoracle"

// Key layout shared by every replica. Channel and stream names come from the
// service layer; only the keys owned by this package live here.
const (
	answerKeyPrefix    = "answer:"
	lockKeyPrefix      = "lock:"
	rateLimitKeyPrefix = "ratelimit:"
)

func answerKey(symbol string) string { return answerKeyPrefix + symbol }
func lockKey(key string) string      { return lockKeyPrefix + key }
func rateLimitKey(key string) string { return rateLimitKeyPrefix + key }

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: clientName,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client owns the connection pool every adapter in this package shares.
type Client struct {
	rdb *redis.Client
}

// New connects and pings once so a bad address fails at startup rather than
// on the first poll.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Wrap adopts an existing go-redis client without pinging it.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping backs the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PoolStats reports connection pool counters for the status endpoint.
func (c *Client) PoolStats() (total, idle uint32) {
	st := c.rdb.PoolStats()
	return st.TotalConns, st.IdleConns
}

// Underlying returns the raw driver for the adapters in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
