package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultDedupePrefix = "ecomdwh:ingest:seen:"
	DefaultDedupeTTL    = 24 * time.Hour
)

// Deduper claims an object so a redelivered notification is handled once.
// Release gives a claim back when the object could not be validated.
type Deduper interface {
	Claim(ctx context.Context, ref ObjectRef) (bool, error)
	Release(ctx context.Context, ref ObjectRef) error
}

// KeyStore is the subset of *redis.Client the deduper needs.
type KeyStore interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisDeduper struct {
	Client KeyStore
	Prefix string
	TTL    time.Duration
}

// Claim returns true the first time ref is seen within TTL. The ETag is part
// of the key, so an overwritten object is validated again.
func (d RedisDeduper) Claim(ctx context.Context, ref ObjectRef) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	key := d.key(ref)
	ok, err := d.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (d RedisDeduper) Release(ctx context.Context, ref ObjectRef) error {
	key := d.key(ref)
	if err := d.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (d RedisDeduper) key(ref ObjectRef) string {
	prefix := d.Prefix
	if prefix == "" {
		prefix = DefaultDedupePrefix
	}
	key := prefix + ref.Bucket + "/" + ref.Key
	if etag := strings.Trim(ref.ETag, `"`); etag != "" {
		key += "@" + etag
	}
	return key
}
