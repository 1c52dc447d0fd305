// Package tx carries a caller's SQL transaction through a context so stores invoked below the
// caller can join it. The PostgreSQL audit store uses it to write an audit record in the same
// transaction as the business change it describes.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

// WithTx returns a context carrying tx. A nil tx leaves ctx unchanged.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tx)
}

// Detach returns a context that keeps ctx's other values but no longer carries a transaction.
// Work that may outlive the caller, such as a background write, must not touch its *sql.Tx.
func Detach(ctx context.Context) context.Context {
	if _, ok := From(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, (*sql.Tx)(nil))
}

// From returns the transaction carried by ctx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}
