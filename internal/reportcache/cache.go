package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL applies when neither the cache nor the call sets one.
const DefaultTTL = 15 * time.Minute

// Cache coordinates a Store with request coalescing.
type Cache struct {
	store    Store
	ttl      time.Duration
	group    singleflight.Group
	metrics  *Metrics
	logger   *slog.Logger
	announce func(context.Context, uuid.UUID) error
}

// New constructs a cache. metrics may be nil.
func New(store Store, ttl time.Duration, metrics *Metrics, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, metrics: metrics, logger: logger}
}

// WithAnnouncer registers fn to run after every local invalidation, typically
// Publish so peer instances drop their entries too.
func (c *Cache) WithAnnouncer(fn func(context.Context, uuid.UUID) error) *Cache {
	c.announce = fn
	return c
}

// Metrics exposes the collectors used by the cache.
func (c *Cache) Metrics() *Metrics {
	if c == nil {
		return nil
	}
	return c.metrics
}

// GetOrCompute returns the stored payload for key or runs compute and stores its
// result. The boolean reports a cache hit. Concurrent callers with the same key
// share one computation. Failed or cancelled computations are never stored.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if compute == nil {
		return nil, false, errors.New("reportcache: compute function required")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	digest, err := key.Digest()
	if err != nil {
		return nil, false, err
	}
	gen, err := c.store.Generation(ctx, key.OrgID)
	if err != nil {
		c.logger.Warn("report cache unavailable, computing directly",
			slog.String("report", key.Report), slog.Any("error", err))
		c.metrics.miss(key.Report)
		payload, err := compute(ctx)
		return payload, false, err
	}
	payload, ok, err := c.store.Get(ctx, key.OrgID, gen, digest)
	if err != nil {
		c.logger.Warn("report cache read failed", slog.String("report", key.Report), slog.Any("error", err))
	} else if ok {
		c.metrics.hit(key.Report)
		return payload, true, nil
	}
	c.metrics.miss(key.Report)

	run := func(ctx context.Context) ([]byte, error) {
		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key.OrgID, gen, digest, payload, ttl); err != nil {
			c.logger.Warn("report cache write failed", slog.String("report", key.Report), slog.Any("error", err))
		}
		return payload, nil
	}

	flight := fmt.Sprintf("%s:%d:%s", key.OrgID, gen, digest)
	resultChan := c.group.DoChan(flight, func() (interface{}, error) {
		return run(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			// The leading caller gave up; its cancellation is not ours.
			if res.Shared && isCancellation(res.Err) && ctx.Err() == nil {
				payload, err := run(ctx)
				return payload, false, err
			}
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}

// Invalidate drops every cached report of orgID.
func (c *Cache) Invalidate(ctx context.Context, orgID uuid.UUID) error {
	if err := c.store.Invalidate(ctx, orgID); err != nil {
		return err
	}
	if c.announce != nil {
		if err := c.announce(ctx, orgID); err != nil {
			c.logger.Warn("report cache bump announcement failed",
				slog.String("org_id", orgID.String()), slog.Any("error", err))
		}
	}
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fetch is GetOrCompute for JSON-encodable values. Misses are decoded from the
// encoded payload as well, so a hit and a miss yield identical values.
func Fetch[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if c == nil {
		value, err := compute(ctx)
		return value, false, err
	}
	raw, hit, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return zero, false, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, fmt.Errorf("reportcache: decode %s: %w", key.Report, err)
	}
	return out, hit, nil
}
