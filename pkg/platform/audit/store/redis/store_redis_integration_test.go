//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/integrity"
	auditredis "storefront/pkg/platform/audit/store/redis"
	"storefront/pkg/platform/audit/store/storetest"
	"storefront/pkg/testutil/containers"
)

func TestRedisStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)

	suite.Run(t, &storetest.Suite{
		NewStore: func(clock func() time.Time) audit.Store {
			return auditredis.New(rc.Client, auditredis.WithClock(clock))
		},
		Reset: rc.FlushAll,
	})
}

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// TestPrefixesIsolateStores verifies two environments sharing a Redis never see each other's
// records.
func (s *RedisStoreSuite) TestPrefixesIsolateStores() {
	ctx := context.Background()
	staging := auditredis.New(s.redis.Client, auditredis.WithPrefix("staging:audit"))
	prod := auditredis.New(s.redis.Client, auditredis.WithPrefix("prod:audit"))

	_, err := staging.Append(ctx, audit.Record{Action: audit.ActionView, Entity: audit.EntityOrder, Status: audit.StatusSuccess}, integrity.Seal)
	s.Require().NoError(err)

	records, err := prod.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Empty(records)

	keys, err := s.redis.Client.Keys(ctx, "staging:audit:*").Result()
	s.Require().NoError(err)
	s.ElementsMatch([]string{"staging:audit:records", "staging:audit:by_created"}, keys)
}

// TestIndexWithoutBodyIsSkipped covers a record body removed by an operator while its index
// entry survives.
func (s *RedisStoreSuite) TestIndexWithoutBodyIsSkipped() {
	ctx := context.Background()
	store := auditredis.New(s.redis.Client)

	kept, err := store.Append(ctx, audit.Record{Action: audit.ActionView, Entity: audit.EntityOrder, Status: audit.StatusSuccess}, integrity.Seal)
	s.Require().NoError(err)
	dropped, err := store.Append(ctx, audit.Record{Action: audit.ActionView, Entity: audit.EntityOrder, Status: audit.StatusSuccess}, integrity.Seal)
	s.Require().NoError(err)
	s.Require().NoError(s.redis.Client.HDel(ctx, "audit:records", dropped).Err())

	records, err := store.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(kept, records[0].ID)
}

// TestQueryPagesThroughIndex uses a page smaller than the result so matches span several reads.
func (s *RedisStoreSuite) TestQueryPagesThroughIndex() {
	ctx := context.Background()
	clock := storetest.NewClock()
	store := auditredis.New(s.redis.Client, auditredis.WithClock(clock.Now), auditredis.WithPageSize(3))

	var deletes []string
	for i := range 10 {
		action := audit.ActionView
		if i%2 == 0 {
			action = audit.ActionDelete
		}
		id, err := store.Append(ctx, audit.Record{Action: action, Entity: audit.EntityProduct, Status: audit.StatusSuccess}, integrity.Seal)
		s.Require().NoError(err)
		if action == audit.ActionDelete {
			deletes = append(deletes, id)
		}
	}

	s.Run("limit stops early", func() {
		records, err := store.Query(ctx, audit.Filter{Action: audit.ActionDelete, Limit: 4})
		s.Require().NoError(err)
		s.Require().Len(records, 4)
		for i, r := range records {
			s.Equal(deletes[len(deletes)-1-i], r.ID)
		}
	})

	s.Run("unbounded query reads every page", func() {
		records, err := store.Query(ctx, audit.Filter{})
		s.Require().NoError(err)
		s.Len(records, 10)
		for i := 1; i < len(records); i++ {
			s.True(records[i-1].CreatedAt.After(records[i].CreatedAt))
		}
	})
}
