package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "storefront/pkg/platform/audit"
)

// InMemoryStore keeps records in insertion order. It backs tests and single-node development;
// records are lost on restart. Records are copied on the way in and out, so neither the writer
// nor a reader can change what is stored.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
	clock   func() time.Time
}

// Option configures an InMemoryStore.
type Option func(*InMemoryStore)

// WithClock overrides the write-time clock, for retention tests.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Append stamps ID and CreatedAt, seals the record and stores it. Sealing happens outside the
// lock; only the slice append is serialized.
func (s *InMemoryStore) Append(ctx context.Context, record audit.Record, seal audit.Sealer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := record.Validate(); err != nil {
		return "", err
	}
	record.ID = uuid.NewString()
	record.CreatedAt = audit.StampTime(s.clock())
	if seal != nil {
		record.Hash = seal(record)
	}

	stored := record.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, stored)
	return record.ID, nil
}

// Query returns matching records, newest first.
func (s *InMemoryStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []audit.Record
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Tamper replaces the stored record with the same ID, bypassing sealing. It exists so
// integrity checks can be exercised end to end; production stores have no equivalent.
func (s *InMemoryStore) Tamper(id string, mutate func(*audit.Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			mutate(&s.records[i])
			return true
		}
	}
	return false
}
