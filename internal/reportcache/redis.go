package reportcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BumpChannel carries the id of an organization whose ledger changed.
const BumpChannel = "ledger.bump"

// RedisStore keeps entries in Redis under a per-organization version key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func versionKey(orgID uuid.UUID) string {
	return fmt.Sprintf("reportcache:%s:version", orgID)
}

func entryKey(orgID uuid.UUID, gen int64, digest string) string {
	return fmt.Sprintf("reportcache:%s:v%d:%s", orgID, gen, digest)
}

// Generation reads the version key; a missing key is generation zero.
func (s *RedisStore) Generation(ctx context.Context, orgID uuid.UUID) (int64, error) {
	gen, err := s.client.Get(ctx, versionKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reportcache: read version: %w", err)
	}
	return gen, nil
}

// Get loads an entry.
func (s *RedisStore) Get(ctx context.Context, orgID uuid.UUID, gen int64, digest string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, entryKey(orgID, gen, digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reportcache: get: %w", err)
	}
	return payload, true, nil
}

// Set writes an entry with ttl. Entries of older generations expire on their own.
func (s *RedisStore) Set(ctx context.Context, orgID uuid.UUID, gen int64, digest string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, entryKey(orgID, gen, digest), value, ttl).Err(); err != nil {
		return fmt.Errorf("reportcache: set: %w", err)
	}
	return nil
}

// Invalidate bumps the organization version and announces it on BumpChannel.
func (s *RedisStore) Invalidate(ctx context.Context, orgID uuid.UUID) error {
	if err := s.client.Incr(ctx, versionKey(orgID)).Err(); err != nil {
		return fmt.Errorf("reportcache: bump version: %w", err)
	}
	return Publish(ctx, s.client, orgID)
}

// Publish announces a bump of orgID on BumpChannel.
func Publish(ctx context.Context, client *redis.Client, orgID uuid.UUID) error {
	if err := client.Publish(ctx, BumpChannel, orgID.String()).Err(); err != nil {
		return fmt.Errorf("reportcache: publish bump: %w", err)
	}
	return nil
}

// Listen applies bumps published by other instances to an in-process store
// until ctx is done.
func Listen(ctx context.Context, client *redis.Client, store *MemoryStore, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := client.Subscribe(ctx, BumpChannel)
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
				orgID, err := uuid.Parse(msg.Payload)
				if err != nil {
					logger.Warn("ignoring malformed cache bump", slog.String("payload", msg.Payload))
					continue
				}
				if err := store.Invalidate(ctx, orgID); err != nil {
					logger.Warn("apply cache bump failed", slog.String("org_id", orgID.String()), slog.Any("error", err))
				}
			}
		}
	}()
}
