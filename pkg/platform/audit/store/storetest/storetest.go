// Package storetest is the behavioral contract every audit.Store adapter must satisfy. Adapter
// packages run it from their own tests, the in-memory store directly and the database-backed
// stores behind the integration build tag.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/integrity"
)

// Epoch is the first timestamp handed out by the suite's clock.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock advances one second per reading so records get distinct, ordered timestamps.
type Clock struct {
	mu   sync.Mutex
	next time.Time
}

func NewClock() *Clock {
	return &Clock{next: Epoch}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

// Suite runs the store contract. NewStore builds a store reading time from clock; Reset, when
// set, empties the backing storage before each test.
type Suite struct {
	suite.Suite
	NewStore func(clock func() time.Time) audit.Store
	Reset    func(ctx context.Context) error

	clock *Clock
	store audit.Store
}

func (s *Suite) SetupTest() {
	if s.Reset != nil {
		s.Require().NoError(s.Reset(context.Background()))
	}
	s.clock = NewClock()
	s.store = s.NewStore(s.clock.Now)
}

func (s *Suite) append(r audit.Record) string {
	if r.Status == "" {
		r.Status = audit.StatusSuccess
	}
	id, err := s.store.Append(context.Background(), r, integrity.Seal)
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	return id
}

func (s *Suite) query(f audit.Filter) []audit.Record {
	records, err := s.store.Query(context.Background(), f)
	s.Require().NoError(err)
	return records
}

func ids(records []audit.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// =============================================================================
// Append
// =============================================================================

func (s *Suite) TestAppendStampsAndSeals() {
	id := s.append(audit.Record{
		ActorID:   "u-1",
		ActorRole: "order_manager",
		Action:    audit.ActionOrderStatusChange,
		Entity:    audit.EntityOrder,
		EntityID:  "42",
		Before:    audit.Fields{"status": "PENDING"},
		After:     audit.Fields{"status": "SHIPPED"},
		Changes:   map[string]audit.Change{"status": {From: "PENDING", To: "SHIPPED"}},
		IPAddress: "203.0.113.9",
		UserAgent: "Mozilla/5.0",
		SessionID: "sess-1",
		RequestID: "req-1",
		Metadata:  audit.Fields{"channel": "web"},
	})

	records := s.query(audit.Filter{ID: id})
	s.Require().Len(records, 1)
	r := records[0]

	s.Equal(id, r.ID)
	s.True(r.CreatedAt.Equal(Epoch))
	s.Equal(time.UTC, r.CreatedAt.Location())
	s.True(integrity.VerifyRecord(r), "stored record must verify against its seal")
	s.Equal("u-1", r.ActorID)
	s.Equal("order_manager", r.ActorRole)
	s.Equal("42", r.EntityID)
	s.Equal(audit.StatusSuccess, r.Status)
	s.Equal("PENDING", r.Before["status"])
	s.Equal("SHIPPED", r.After["status"])
	s.Equal(audit.Change{From: "PENDING", To: "SHIPPED"}, r.Changes["status"])
	s.Equal("web", r.Metadata["channel"])
	s.Equal("203.0.113.9", r.IPAddress)
	s.Equal("req-1", r.RequestID)
}

func (s *Suite) TestAppendAssignsDistinctIDs() {
	seen := map[string]struct{}{}
	for range 10 {
		seen[s.append(audit.Record{Action: audit.ActionView, Entity: audit.EntityProduct})] = struct{}{}
	}
	s.Len(seen, 10)
}

func (s *Suite) TestAppendRejectsInvalidRecord() {
	_, err := s.store.Append(context.Background(), audit.Record{
		Action: audit.ActionDelete,
		Entity: audit.EntityOrder,
		Status: audit.StatusFailure,
	}, integrity.Seal)
	s.ErrorIs(err, audit.ErrInvalidRecord)
	s.Empty(s.query(audit.Filter{}))
}

func (s *Suite) TestNumericSnapshotsRoundTrip() {
	id := s.append(audit.Record{
		Action: audit.ActionUpdate,
		Entity: audit.EntityInventory,
		Before: audit.Fields{"qty": 3, "price": 9.5},
		After:  audit.Fields{"qty": 4, "price": 9.5},
	})
	r := s.query(audit.Filter{ID: id})[0]
	s.Empty(audit.ComputeChanges(audit.Fields{"qty": 3, "price": 9.5}, r.Before))
	s.Empty(audit.ComputeChanges(audit.Fields{"qty": 4, "price": 9.5}, r.After))
}

// =============================================================================
// Query
// =============================================================================

func (s *Suite) seed() []string {
	return []string{
		s.append(audit.Record{ActorID: "u-1", Action: audit.ActionCreate, Entity: audit.EntityOrder}),
		s.append(audit.Record{ActorID: "u-2", Action: audit.ActionUpdate, Entity: audit.EntityOrder}),
		s.append(audit.Record{ActorID: "u-1", Action: audit.ActionLogin, Entity: audit.EntitySession}),
		s.append(audit.Record{ActorID: "u-3", Action: audit.ActionUpdate, Entity: audit.EntityProduct}),
	}
}

func (s *Suite) TestQueryNewestFirst() {
	seeded := s.seed()
	s.Equal([]string{seeded[3], seeded[2], seeded[1], seeded[0]}, ids(s.query(audit.Filter{})))
}

func (s *Suite) TestQueryFilters() {
	seeded := s.seed()

	s.Run("entity", func() {
		s.Equal([]string{seeded[1], seeded[0]}, ids(s.query(audit.Filter{Entity: audit.EntityOrder})))
	})
	s.Run("entities any of", func() {
		got := s.query(audit.Filter{Entities: []audit.Entity{audit.EntitySession, audit.EntityProduct}})
		s.Equal([]string{seeded[3], seeded[2]}, ids(got))
	})
	s.Run("empty entities matches nothing", func() {
		s.Empty(s.query(audit.Filter{Entities: []audit.Entity{}}))
	})
	s.Run("actor", func() {
		s.Equal([]string{seeded[2], seeded[0]}, ids(s.query(audit.Filter{ActorID: "u-1"})))
	})
	s.Run("action", func() {
		s.Equal([]string{seeded[3], seeded[1]}, ids(s.query(audit.Filter{Action: audit.ActionUpdate})))
	})
	s.Run("combined", func() {
		s.Equal([]string{seeded[1]}, ids(s.query(audit.Filter{Action: audit.ActionUpdate, Entity: audit.EntityOrder})))
	})
	s.Run("created range is half open", func() {
		got := s.query(audit.Filter{
			CreatedFrom: Epoch.Add(time.Second),
			CreatedTo:   Epoch.Add(3 * time.Second),
		})
		s.Equal([]string{seeded[2], seeded[1]}, ids(got))
	})
	s.Run("limit", func() {
		s.Equal([]string{seeded[3], seeded[2]}, ids(s.query(audit.Filter{Limit: 2})))
	})
	s.Run("unknown id", func() {
		s.Empty(s.query(audit.Filter{ID: "00000000-0000-0000-0000-000000000000"}))
		s.Empty(s.query(audit.Filter{ID: "not-a-uuid"}))
	})
	s.Run("id with mismatching predicate", func() {
		s.Empty(s.query(audit.Filter{ID: seeded[0], Entity: audit.EntityUser}))
	})
}

func (s *Suite) TestConcurrentAppends() {
	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Append(context.Background(), audit.Record{
				Action: audit.ActionView,
				Entity: audit.EntityCart,
				Status: audit.StatusSuccess,
			}, integrity.Seal)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}
	s.Len(s.query(audit.Filter{Entity: audit.EntityCart}), n)
}
