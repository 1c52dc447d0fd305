//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/integrity"
	"storefront/pkg/platform/audit/store/postgres"
	"storefront/pkg/platform/audit/store/storetest"
	txcontext "storefront/pkg/platform/tx"
	"storefront/pkg/testutil/containers"
)

func TestPostgresStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	if err := postgres.New(pg.DB).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}

	suite.Run(t, &storetest.Suite{
		NewStore: func(clock func() time.Time) audit.Store {
			return postgres.New(pg.DB, postgres.WithClock(clock))
		},
		Reset: func(ctx context.Context) error {
			return pg.TruncateTables(ctx, "audit_records")
		},
	})
}

type PostgresTxSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresTxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTxSuite))
}

func (s *PostgresTxSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
	// Stands in for the business table an audited change writes to.
	_, err := s.pg.DB.Exec(`CREATE TABLE IF NOT EXISTS orders (id TEXT PRIMARY KEY, status TEXT NOT NULL)`)
	s.Require().NoError(err)
}

func (s *PostgresTxSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "audit_records", "orders"))
}

func (s *PostgresTxSuite) count() int {
	records, err := s.store.Query(context.Background(), audit.Filter{})
	s.Require().NoError(err)
	return len(records)
}

// TestAppendJoinsCallerTransaction verifies a record written inside a caller's transaction
// shares its fate: rolled back with it, committed with it.
func (s *PostgresTxSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()
	record := audit.Record{Action: audit.ActionCreate, Entity: audit.EntityOrder, Status: audit.StatusSuccess}

	s.Run("rollback discards the record", func() {
		tx, err := s.pg.DB.BeginTx(ctx, &sql.TxOptions{})
		s.Require().NoError(err)
		_, err = s.store.Append(txcontext.WithTx(ctx, tx), record, integrity.Seal)
		s.Require().NoError(err)
		s.Require().NoError(tx.Rollback())
		s.Zero(s.count())
	})

	s.Run("commit keeps the record", func() {
		tx, err := s.pg.DB.BeginTx(ctx, &sql.TxOptions{})
		s.Require().NoError(err)
		id, err := s.store.Append(txcontext.WithTx(ctx, tx), record, integrity.Seal)
		s.Require().NoError(err)
		s.Require().NoError(tx.Commit())

		records, err := s.store.Query(ctx, audit.Filter{ID: id})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.True(integrity.VerifyRecord(records[0]))
	})
}

// TestFailedAppendLeavesCallerTransactionUsable writes rows the server rejects inside a business
// transaction; the business statement after it and the commit must still succeed.
func (s *PostgresTxSuite) TestFailedAppendLeavesCallerTransactionUsable() {
	tests := []struct {
		name   string
		record audit.Record
	}{
		{"invalid utf8", audit.Record{Action: audit.ActionCreate, Entity: audit.EntityOrder, Status: audit.StatusSuccess, UserAgent: "\xff"}},
		{"nul byte", audit.Record{Action: audit.ActionCreate, Entity: audit.EntityOrder, Status: audit.StatusSuccess, EntityID: "o-\x001"}},
	}
	for i, tc := range tests {
		s.Run(tc.name, func() {
			ctx := context.Background()
			tx, err := s.pg.DB.BeginTx(ctx, &sql.TxOptions{})
			s.Require().NoError(err)
			defer func() { _ = tx.Rollback() }()

			_, err = s.store.Append(txcontext.WithTx(ctx, tx), tc.record, integrity.Seal)
			s.Require().Error(err)
			s.ErrorIs(err, audit.ErrInvalidRecord)

			orderID := fmt.Sprintf("o-%d", i)
			_, err = tx.ExecContext(ctx, `INSERT INTO orders (id, status) VALUES ($1, 'PAID')`, orderID)
			s.Require().NoError(err)
			s.Require().NoError(tx.Commit())

			var status string
			s.Require().NoError(s.pg.DB.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status))
			s.Equal("PAID", status)
			s.Zero(s.count())
		})
	}
}

// TestAppendAfterFailureInSameTransaction checks the savepoint is reusable within one transaction.
func (s *PostgresTxSuite) TestAppendAfterFailureInSameTransaction() {
	ctx := context.Background()
	tx, err := s.pg.DB.BeginTx(ctx, &sql.TxOptions{})
	s.Require().NoError(err)
	txCtx := txcontext.WithTx(ctx, tx)

	bad := audit.Record{Action: audit.ActionUpdate, Entity: audit.EntityOrder, Status: audit.StatusSuccess, UserAgent: "\xfe"}
	_, err = s.store.Append(txCtx, bad, integrity.Seal)
	s.Require().Error(err)

	good := audit.Record{Action: audit.ActionUpdate, Entity: audit.EntityOrder, Status: audit.StatusSuccess, UserAgent: "Mozilla/5.0"}
	id, err := s.store.Append(txCtx, good, integrity.Seal)
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())

	records, err := s.store.Query(ctx, audit.Filter{ID: id})
	s.Require().NoError(err)
	s.Len(records, 1)
	s.Equal(1, s.count())
}

// TestTamperedRowFailsVerification edits a row behind the store's back.
func (s *PostgresTxSuite) TestTamperedRowFailsVerification() {
	ctx := context.Background()
	id, err := s.store.Append(ctx, audit.Record{
		Action:   audit.ActionPaymentStatusChange,
		Entity:   audit.EntityPayment,
		EntityID: "pay-1",
		Status:   audit.StatusSuccess,
	}, integrity.Seal)
	s.Require().NoError(err)

	_, err = s.pg.DB.ExecContext(ctx, `UPDATE audit_records SET entity_id = 'pay-2' WHERE id = $1`, id)
	s.Require().NoError(err)

	records, err := s.store.Query(ctx, audit.Filter{ID: id})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.False(integrity.VerifyRecord(records[0]))
}
