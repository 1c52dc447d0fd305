//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

package audit

import (
	"context"
	"time"
)

// Sealer computes the tamper-evidence hash of a record once the store has
// stamped its ID and CreatedAt.
type Sealer func(Record) string

// Store is the durable append/query port. Implementations assign ID and
// CreatedAt exactly once, call seal (when non-nil) on the stamped record and
// persist the result in a single write.
type Store interface {
	Append(ctx context.Context, record Record, seal Sealer) (string, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter narrows a query. Zero-valued fields do not constrain the result.
// CreatedFrom is inclusive, CreatedTo is exclusive.
type Filter struct {
	ID          string
	Entity      Entity
	Entities    []Entity // any of; used to push reader scoping down to the store
	ActorID     string
	Action      Action
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// Matches reports whether a record satisfies the filter. Stores that cannot
// push a predicate down use it to filter in process.
func (f Filter) Matches(r Record) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.Entity != "" && r.Entity != f.Entity {
		return false
	}
	if f.Entities != nil && !containsEntity(f.Entities, r.Entity) {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if !f.CreatedFrom.IsZero() && r.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !r.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

// StampTime returns the write-time timestamp stores assign. It is truncated to
// microseconds so it survives a round trip through PostgreSQL timestamptz
// without breaking the integrity fingerprint.
func StampTime(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

func containsEntity(entities []Entity, e Entity) bool {
	for _, candidate := range entities {
		if candidate == e {
			return true
		}
	}
	return false
}
