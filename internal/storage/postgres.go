// Package storage binds the PostgreSQL repositories to a shared transaction.
package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-bankrec/internal/bank"
	"github.com/odyssey-erp/odyssey-bankrec/internal/ledger"
	"github.com/odyssey-erp/odyssey-bankrec/internal/platform/db"
	"github.com/odyssey-erp/odyssey-bankrec/internal/reconcile"
	"github.com/odyssey-erp/odyssey-bankrec/internal/rules"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by EnsureSchema.
func Schema() string {
	return schema
}

// Postgres runs units of work against a pgx pool.
type Postgres struct {
	pool db.Beginner
}

var _ reconcile.TxRunner = (*Postgres)(nil)

// NewPostgres wraps a pool.
func NewPostgres(pool db.Beginner) *Postgres {
	return &Postgres{pool: pool}
}

// WithTx binds every repository to one transaction and commits when fn succeeds.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, s reconcile.Stores) error) error {
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, Bind(tx))
	})
}

// Bind returns stores that share conn.
func Bind(conn db.DBTX) reconcile.Stores {
	return reconcile.Stores{
		Movements: bank.NewRepository(conn),
		Ledger:    ledger.NewRepository(conn),
		Rules:     rules.NewRepository(conn),
	}
}

// EnsureSchema creates missing tables and indexes. It is idempotent; the
// argument-less Exec runs the whole script over the simple protocol.
func EnsureSchema(ctx context.Context, conn db.DBTX) error {
	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("storage: apply schema: %w", err)
	}
	return nil
}
