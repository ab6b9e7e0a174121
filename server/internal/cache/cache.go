package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/pkg/types"
	"github.com/markbook/markbook/server/internal/config"
)

const (
	prefix      = "ranklist:"
	dialTimeout = 5 * time.Second
	maxAttempts = 10
)

// ErrMiss is returned when a rank list is not cached.
var ErrMiss = errors.New("cache: rank list not found")

// RankCache stores rank lists in redis.
type RankCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to the redis server described by cfg and pings it.
func New(ctx context.Context, cfg config.CacheConfig) (*RankCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password(),
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", cfg.Addr, err)
	}
	return &RankCache{client: client, ttl: cfg.TTL}, nil
}

// Close closes the redis connection.
func (c *RankCache) Close() error { return c.client.Close() }

// Key returns the redis key of one group's rank list. Each ID is
// query-escaped, so a ':' inside an ID cannot run into the separator.
func Key(tenant string, k types.GroupKey) string {
	return prefix + url.QueryEscape(tenant) + ":" + url.QueryEscape(k.ExamID) + ":" + url.QueryEscape(k.SubjectID)
}

func indexKey(tenant string) string { return prefix + url.QueryEscape(tenant) + ":index" }

// PutReport replaces the tenant's cached rank lists with those of rep.
// Groups missing from rep are deleted. The tenant index is watched, so a
// concurrent PutReport for the same tenant makes this one retry against the
// index it wrote rather than orphan its keys.
func (c *RankCache) PutReport(ctx context.Context, rep *transport.Report) error {
	lists := make(map[string][]byte)
	for _, g := range rep.Data.Groups() {
		data, err := encode(rep.Data.RankList(g))
		if err != nil {
			return fmt.Errorf("cache: %s: %w", g, err)
		}
		lists[Key(rep.TenantID, g)] = data
	}

	idx := indexKey(rep.TenantID)
	replace := func(tx *redis.Tx) error {
		old, err := tx.SMembers(ctx, idx).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read index: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, idx)
			for key, data := range lists {
				pipe.Set(ctx, key, data, c.ttl)
				pipe.SAdd(ctx, idx, key)
			}
			for _, key := range old {
				if _, ok := lists[key]; !ok {
					pipe.Del(ctx, key)
				}
			}
			if len(lists) > 0 && c.ttl > 0 {
				pipe.Expire(ctx, idx, c.ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.client.Watch(ctx, replace, idx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("cache: write %s: %w", rep.TenantID, err)
		}
	}
	return fmt.Errorf("cache: write %s: index changed on %d attempts", rep.TenantID, maxAttempts)
}

// RankList returns one cached group, or ErrMiss.
func (c *RankCache) RankList(ctx context.Context, tenant string, k types.GroupKey) ([]types.EnrichedExamResult, error) {
	data, err := c.client.Get(ctx, Key(tenant, k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache: read %s: %w", Key(tenant, k), err)
	}
	return decode(data)
}

func encode(rows []types.EnrichedExamResult) ([]byte, error) {
	if rows == nil {
		rows = []types.EnrichedExamResult{}
	}
	return json.Marshal(rows)
}

func decode(data []byte) ([]types.EnrichedExamResult, error) {
	var rows []types.EnrichedExamResult
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("cache: decode rank list: %w", err)
	}
	return rows, nil
}
