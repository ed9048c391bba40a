// Package analytics holds the versioned Redis cache for report data and the
// chart, export and HTTP layers built on the profit ledger.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultNamespace = "profitloss"
	// BumpChannel carries "<namespace>:<version>" after ledger writes.
	BumpChannel = "ledger.bump"
)

// Cache stores JSON report payloads under versioned keys. A write to the
// ledger bumps the namespace version; old keys are never read again and
// expire on their TTL.
type Cache struct {
	client     *redis.Client
	ttl        time.Duration
	namespace  string
	versionKey string
}

// NewCache returns the profit-loss report cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return NewNamespacedCache(client, ttl, defaultNamespace)
}

// NewNamespacedCache keeps an independent version counter per namespace.
func NewNamespacedCache(client *redis.Client, ttl time.Duration, namespace string) *Cache {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Cache{client: client, ttl: ttl, namespace: namespace, versionKey: namespace + ":version"}
}

func (c *Cache) disabled() bool { return c == nil || c.client == nil }

// Version returns the namespace version, starting at 1.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c.disabled() {
		return 0, nil
	}
	if err := c.client.SetNX(ctx, c.versionKey, 1, 0).Err(); err != nil {
		return 0, fmt.Errorf("cache: init version: %w", err)
	}
	ver, err := c.client.Get(ctx, c.versionKey).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache: read version: %w", err)
	}
	return max(ver, 1), nil
}

// BuildKey joins parts and appends the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	key := strings.Join(parts, ":")
	if c.disabled() {
		return key, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return key + ":" + strconv.FormatInt(ver, 10), nil
}

// FetchJSON decodes the cached payload into dest, or runs loader and caches
// its result. A Redis read failure falls back to the loader without
// caching.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	cacheable := !c.disabled()
	if cacheable {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			return json.Unmarshal(payload, dest)
		case !errors.Is(err, redis.Nil):
			cacheable = false
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if cacheable {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return fmt.Errorf("cache: store %s: %w", key, err)
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump increments the namespace version and announces it to other nodes.
func (c *Cache) Bump(ctx context.Context) error {
	if c.disabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, c.versionKey).Result()
	if err != nil {
		return fmt.Errorf("cache: bump: %w", err)
	}
	return c.client.Publish(ctx, BumpChannel, c.namespace+":"+strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation follows bump announcements for this namespace until
// ctx ends. It only moves the local version forward, so a late message
// cannot roll the cache back.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c.disabled() {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("cache: subscribe %s: %w", channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.apply(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (c *Cache) apply(ctx context.Context, payload string) {
	ns, raw, found := strings.Cut(payload, ":")
	if !found || ns != c.namespace {
		return
	}
	ver, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	current, err := c.client.Get(ctx, c.versionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return
	}
	if ver > current {
		_ = c.client.Set(ctx, c.versionKey, ver, 0).Err()
	}
}
