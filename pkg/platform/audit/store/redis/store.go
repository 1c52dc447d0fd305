// Package redis stores audit records in Redis: record bodies in a hash keyed by ID and a sorted
// set indexing IDs by creation time. It suits deployments that already run Redis and want the
// audit trail off the primary database; predicates other than the time range are evaluated in
// process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	audit "storefront/pkg/platform/audit"
)

const (
	defaultPrefix   = "audit"
	defaultPageSize = 256
)

// Store implements audit.Store on Redis.
type Store struct {
	client    redis.UniversalClient
	recordKey string
	indexKey  string
	pageSize  int64
	clock     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces the keys, e.g. per environment.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.recordKey = prefix + ":records"
			s.indexKey = prefix + ":by_created"
		}
	}
}

// WithClock overrides the write-time clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPageSize sets how many index entries a query reads per round trip.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = int64(n)
		}
	}
}

// New creates a Redis-backed audit store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		recordKey: defaultPrefix + ":records",
		indexKey:  defaultPrefix + ":by_created",
		pageSize:  defaultPageSize,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stamps, seals and writes a record and its index entry in one MULTI/EXEC.
func (s *Store) Append(ctx context.Context, record audit.Record, seal audit.Sealer) (string, error) {
	if err := record.Validate(); err != nil {
		return "", err
	}
	record.ID = uuid.NewString()
	record.CreatedAt = audit.StampTime(s.clock())
	if seal != nil {
		record.Hash = seal(record)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey, record.ID, payload)
		pipe.ZAdd(ctx, s.indexKey, redis.Z{
			Score:  float64(record.CreatedAt.UnixMicro()),
			Member: record.ID,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write audit record: %w", err)
	}
	return record.ID, nil
}

// Query returns matching records, newest first. The index is read a page at a time and reading
// stops once Limit matches are collected, so a bounded query never loads the whole trail.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	if filter.ID != "" {
		return s.queryByID(ctx, filter)
	}

	by := scoreRange(filter)
	seen := make(map[string]struct{})
	var out []audit.Record
	for offset := int64(0); ; offset += s.pageSize {
		page, err := s.client.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
			Key:     s.indexKey,
			Start:   by.Min,
			Stop:    by.Max,
			ByScore: true,
			Rev:     true,
			Offset:  offset,
			Count:   s.pageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("read audit index: %w", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		if offset == 0 {
			// Pin the upper bound so appends made while paging do not shift the offsets.
			by.Max = strconv.FormatFloat(page[0].Score, 'f', -1, 64)
		}

		ids := make([]string, 0, len(page))
		for _, z := range page {
			id, _ := z.Member.(string)
			if _, dup := seen[id]; dup || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		records, err := s.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if !filter.Matches(r) {
				continue
			}
			out = append(out, r)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
		if int64(len(page)) < s.pageSize {
			return out, nil
		}
	}
}

// load fetches record bodies in index order. An index entry without a body is skipped rather
// than failing the whole read.
func (s *Store) load(ctx context.Context, ids []string) ([]audit.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.recordKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit records: %w", err)
	}
	records := make([]audit.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r audit.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode audit record %s: %w", ids[i], err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) queryByID(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	raw, err := s.client.HGet(ctx, s.recordKey, filter.ID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit record: %w", err)
	}
	var r audit.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode audit record %s: %w", filter.ID, err)
	}
	if !filter.Matches(r) {
		return nil, nil
	}
	return []audit.Record{r}, nil
}

// scoreRange maps the created_at range onto index scores; CreatedTo is exclusive.
func scoreRange(filter audit.Filter) *redis.ZRangeBy {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.CreatedFrom.IsZero() {
		by.Min = strconv.FormatInt(filter.CreatedFrom.UnixMicro(), 10)
	}
	if !filter.CreatedTo.IsZero() {
		by.Max = "(" + strconv.FormatInt(filter.CreatedTo.UnixMicro(), 10)
	}
	return by
}
