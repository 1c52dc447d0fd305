package policy

import (
	"time"

	audit "storefront/pkg/platform/audit"
)

// Retention returns how long records of the given action are kept.
func (e *Engine) Retention(action audit.Action) time.Duration {
	if d, ok := e.tiers[action]; ok {
		return d
	}
	return e.medium
}

// ExpiresAt is the retention horizon of a record.
func (e *Engine) ExpiresAt(record audit.Record) time.Time {
	return record.CreatedAt.Add(e.Retention(record.Action))
}

// Expired reports whether the record is eligible for purge at now. Purging
// itself is done by an external job.
func (e *Engine) Expired(record audit.Record, now time.Time) bool {
	return !now.Before(e.ExpiresAt(record))
}

// LongestRetention is the long tier; records older than now minus this value
// are always expired.
func (e *Engine) LongestRetention() time.Duration {
	return e.long
}

// ShortestRetention is the short tier; records newer than now minus this value
// are never expired.
func (e *Engine) ShortestRetention() time.Duration {
	return e.short
}
