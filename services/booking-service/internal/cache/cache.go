// Package cache keeps short-lived calendar summaries in Redis.
//
// Entries are not invalidated on booking; callers accept staleness up to the TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
)

const DefaultTTL = 30 * time.Second

// Client is the subset of go-redis used here. *redis.Client satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CalendarCache is safe to use as a nil pointer, which disables caching.
type CalendarCache struct {
	rdb    Client
	ttl    time.Duration
	prefix string
}

func NewCalendarCache(rdb Client, ttl time.Duration) *CalendarCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CalendarCache{rdb: rdb, ttl: ttl, prefix: "slotwise:calendar"}
}

// Key identifies a calendar query. Service order is kept since it fixes the chain.
func (c *CalendarCache) Key(orgID, from, to string, services []batch.ServiceRef) string {
	refs := make([]string, 0, len(services))
	for _, s := range services {
		ref := s.ServiceID
		if s.EmployeeID != "" {
			ref += "@" + s.EmployeeID
		}
		refs = append(refs, ref)
	}
	prefix := "slotwise:calendar"
	if c != nil {
		prefix = c.prefix
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", prefix, orgID, from, to, strings.Join(refs, ","))
}

// Get reports a hit with ok. A missing key is a miss, not an error.
func (c *CalendarCache) Get(ctx context.Context, key string) (days map[string]bool, ok bool, err error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("calendar cache get: %w", err)
	}
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, false, fmt.Errorf("calendar cache decode %s: %w", key, err)
	}
	return days, true, nil
}

func (c *CalendarCache) Put(ctx context.Context, key string, days map[string]bool) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("calendar cache set: %w", err)
	}
	return nil
}
