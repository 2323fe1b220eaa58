package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recsignal/internal/store"
)

// DB is the Postgres implementation of store.Store.
type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

func (d *DB) Close() {
	d.Pool.Close()
}

// WithinTx runs fn in a read-committed transaction. pgx rolls back when fn
// returns an error or panics, and the commit fails once ctx is cancelled.
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return pgx.BeginTxFunc(ctx, d.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Readings() store.ReadingStore     { return readings{t.tx} }
func (t pgTx) Thresholds() store.ThresholdStore { return thresholds{t.tx} }
func (t pgTx) Alerts() store.AlertStore         { return alerts{t.tx} }
func (t pgTx) Servers() store.ServerStore       { return servers{t.tx} }
