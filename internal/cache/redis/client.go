// Package redis backs the marketplace's shared coordination state (listing
// locks, the event bus, rate limits and idempotency records) with
// go-redis/v9, so several marketd replicas can share one Redis.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "nftmarket"

// ClientConfig holds connection parameters for the Redis client. Namespace
// prefixes every key and channel, letting deployments share a Redis.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// keyspace builds namespaced Redis names: "<ns>:<kind>:<key>".
type keyspace string

func newKeyspace(ns string) keyspace {
	ns = strings.Trim(strings.TrimSpace(ns), ":")
	if ns == "" {
		ns = defaultNamespace
	}
	return keyspace(ns)
}

func (k keyspace) of(kind, key string) string {
	return string(k) + ":" + kind + ":" + key
}

// Client is the shared connection pool for every store in this package.
type Client struct {
	rdb  *redis.Client
	addr string
	keys keyspace
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, addr: cfg.Addr, keys: newKeyspace(cfg.Namespace)}, nil
}

// Ping is the readiness check wired into /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Namespace reports the key prefix in use.
func (c *Client) Namespace() string {
	return string(c.keys)
}
