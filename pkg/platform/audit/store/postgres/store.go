package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "storefront/pkg/platform/audit"
	txcontext "storefront/pkg/platform/tx"
)

// Schema creates the append-only audit table. Schema migrations are owned by the storefront's
// migration tooling; this copy exists for tests and fresh development databases.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id            UUID PRIMARY KEY,
	actor_id      TEXT NOT NULL DEFAULT '',
	actor_role    TEXT NOT NULL DEFAULT '',
	actor_email   TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	entity        TEXT NOT NULL,
	entity_id     TEXT NOT NULL DEFAULT '',
	before        JSONB,
	after         JSONB,
	changes       JSONB,
	metadata      JSONB,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	hash          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_records_entity ON audit_records (entity, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_actor ON audit_records (actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records (action, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_created ON audit_records (created_at);
`

const selectColumns = `
	id, actor_id, actor_role, actor_email, action, entity, entity_id,
	before, after, changes, metadata,
	ip_address, user_agent, session_id, request_id,
	status, error_message, created_at, hash`

// Store implements audit.Store on PostgreSQL through database/sql and the lib/pq driver, which
// internal/platform/postgres registers.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the write-time clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// savepoint isolates an insert made inside a caller's transaction. PostgreSQL aborts the whole
// transaction on any failed statement; rolling back to the savepoint keeps it usable.
const savepoint = "audit_append"

// exec runs an insert, joining the caller's transaction when one is in the context.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	tx, ok := txcontext.From(ctx)
	if !ok {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("open savepoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		// The insert may have failed because ctx expired; the rollback must still run.
		if _, rbErr := tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// classify marks data exceptions (SQLSTATE class 22, e.g. invalid byte sequences) as rejected
// records: retrying them cannot succeed and they say nothing about store health.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "22" {
		return fmt.Errorf("%w: %w", audit.ErrInvalidRecord, err)
	}
	return err
}

// Append stamps, seals and inserts a record.
func (s *Store) Append(ctx context.Context, record audit.Record, seal audit.Sealer) (string, error) {
	if err := record.Validate(); err != nil {
		return "", err
	}
	record.ID = uuid.NewString()
	record.CreatedAt = audit.StampTime(s.clock())
	if seal != nil {
		record.Hash = seal(record)
	}

	before, err := jsonColumn(record.Before)
	if err != nil {
		return "", fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := jsonColumn(record.After)
	if err != nil {
		return "", fmt.Errorf("marshal after snapshot: %w", err)
	}
	var changes sql.NullString
	if record.Changes != nil {
		b, err := json.Marshal(record.Changes)
		if err != nil {
			return "", fmt.Errorf("marshal changes: %w", err)
		}
		changes = sql.NullString{String: string(b), Valid: true}
	}
	metadata, err := jsonColumn(record.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_records (
			id, actor_id, actor_role, actor_email, action, entity, entity_id,
			before, after, changes, metadata,
			ip_address, user_agent, session_id, request_id,
			status, error_message, created_at, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb, $11::jsonb,
			$12, $13, $14, $15, $16, $17, $18, $19)
	`
	err = s.exec(ctx, query,
		record.ID,
		record.ActorID,
		record.ActorRole,
		record.ActorEmail,
		string(record.Action),
		string(record.Entity),
		record.EntityID,
		before,
		after,
		changes,
		metadata,
		record.IPAddress,
		record.UserAgent,
		record.SessionID,
		record.RequestID,
		string(record.Status),
		record.ErrorMessage,
		record.CreatedAt,
		record.Hash,
	)
	if err != nil {
		return "", fmt.Errorf("insert audit record: %w", classify(err))
	}
	return record.ID, nil
}

// Query returns matching records, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			// Not a UUID, so it cannot match the primary key.
			return nil, nil
		}
		add("id = $%d", filter.ID)
	}
	if filter.Entity != "" {
		add("entity = $%d", string(filter.Entity))
	}
	if filter.Entities != nil {
		names := make([]string, len(filter.Entities))
		for i, e := range filter.Entities {
			names[i] = string(e)
		}
		add("entity = ANY($%d)", pq.Array(names))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.CreatedFrom.IsZero() {
		add("created_at >= $%d", filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		add("created_at < $%d", filter.CreatedTo)
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(selectColumns)
	b.WriteString("\n\tFROM audit_records")
	if len(conds) > 0 {
		b.WriteString("\n\tWHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\n\tORDER BY created_at DESC, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, "\n\tLIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// scanRecords scans multiple rows into audit.Record slice.
func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record

	for rows.Next() {
		var (
			r                                 audit.Record
			action, entity, status            string
			before, after, changes, metadata []byte
		)
		err := rows.Scan(
			&r.ID,
			&r.ActorID,
			&r.ActorRole,
			&r.ActorEmail,
			&action,
			&entity,
			&r.EntityID,
			&before,
			&after,
			&changes,
			&metadata,
			&r.IPAddress,
			&r.UserAgent,
			&r.SessionID,
			&r.RequestID,
			&status,
			&r.ErrorMessage,
			&r.CreatedAt,
			&r.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Action = audit.Action(action)
		r.Entity = audit.Entity(entity)
		r.Status = audit.Status(status)
		r.CreatedAt = r.CreatedAt.UTC()

		if r.Before, err = decodeFields(before); err != nil {
			return nil, fmt.Errorf("decode before snapshot of %s: %w", r.ID, err)
		}
		if r.After, err = decodeFields(after); err != nil {
			return nil, fmt.Errorf("decode after snapshot of %s: %w", r.ID, err)
		}
		if r.Metadata, err = decodeFields(metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &r.Changes); err != nil {
				return nil, fmt.Errorf("decode changes of %s: %w", r.ID, err)
			}
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}

func jsonColumn(f audit.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFields(b []byte) (audit.Fields, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var f audit.Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f, nil
}
