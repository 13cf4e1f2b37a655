package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeStore holds the short-lived single-use values the auth core needs
// outside the relational store: out-of-band one-time codes, TOTP replay
// markers, sign-in challenges, device poll throttles. Every entry carries a
// TTL; consume semantics are atomic so two racing callers never both win.
type CodeStore interface {
	Put(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	// Consume returns the value and deletes it in one step. ok=false when
	// the key is absent or already consumed.
	Consume(ctx context.Context, namespace, key string) (value string, ok bool, err error)
	// MarkOnce sets a marker if absent. ok=false means the marker already
	// existed, i.e. the caller lost the once-race.
	MarkOnce(ctx context.Context, namespace, key string, ttl time.Duration) (ok bool, err error)
}

type RedisCodeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCodeStore(client redis.UniversalClient, prefix string) *RedisCodeStore {
	if prefix == "" {
		prefix = "authkeel"
	}
	return &RedisCodeStore{client: client, prefix: prefix}
}

func (s *RedisCodeStore) Put(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(namespace, key), value, ttl).Err()
}

func (s *RedisCodeStore) Consume(ctx context.Context, namespace, key string) (string, bool, error) {
	val, err := s.client.GetDel(ctx, s.key(namespace, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisCodeStore) MarkOnce(ctx context.Context, namespace, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(namespace, key), "1", ttl).Result()
}

func (s *RedisCodeStore) key(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, normalizeToken(namespace), hashToken(key))
}

func normalizeToken(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return strings.ReplaceAll(v, ":", "_")
}

// hashToken keeps raw secrets (codes, tokens) out of Redis key space.
func hashToken(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
