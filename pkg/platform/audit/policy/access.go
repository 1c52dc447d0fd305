package policy

import (
	"sort"
	"strings"

	audit "storefront/pkg/platform/audit"
)

// Reader is the caller asking to read the audit trail.
type Reader struct {
	ID   string
	Role string
}

// CanReadAll reports whether the reader bypasses entity scoping.
func (e *Engine) CanReadAll(reader Reader) bool {
	return normalizeRole(reader.Role) == AdminRole
}

// CanRead reports whether the reader may see records about the entity.
func (e *Engine) CanRead(reader Reader, entity audit.Entity) bool {
	if e.CanReadAll(reader) {
		return true
	}
	allowed, ok := e.permissions[normalizeRole(reader.Role)]
	if !ok {
		return false
	}
	_, ok = allowed[entity]
	return ok
}

// PermittedEntities returns the entities a scoped reader may see, sorted. all is true for
// readers that see everything, in which case the slice is nil. An unknown role gets an empty,
// non-nil slice.
func (e *Engine) PermittedEntities(reader Reader) (entities []audit.Entity, all bool) {
	if e.CanReadAll(reader) {
		return nil, true
	}
	allowed := e.permissions[normalizeRole(reader.Role)]
	entities = make([]audit.Entity, 0, len(allowed))
	for entity := range allowed {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
	return entities, false
}

// FilterForReader drops the records the reader may not see. Records are
// copied, never modified, and an unknown role simply gets an empty slice.
func (e *Engine) FilterForReader(reader Reader, records []audit.Record) []audit.Record {
	out := make([]audit.Record, 0, len(records))
	for _, r := range records {
		if e.CanRead(reader, r.Entity) {
			out = append(out, r)
		}
	}
	return out
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
