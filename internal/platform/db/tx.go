package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxTimeout is returned when a transaction does not finish before its deadline.
var ErrTxTimeout = errors.New("transaction deadline exceeded")

// Querier is the subset shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// TxFromContext returns the transaction opened by TxRunner.InTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// WithoutTx hides any transaction in ctx, for work that outlives it.
func WithoutTx(ctx context.Context) context.Context {
	if TxFromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, nil)
}

// Conn picks the transaction in ctx when there is one, otherwise the pool.
// Repositories call it on every statement so the same code runs both inside
// and outside a transaction.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// TxOptions controls isolation and deadline of a transaction.
type TxOptions struct {
	Serializable bool
	Timeout      time.Duration
}

// TxRunner opens transactions on a pool and publishes them through the context.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn inside a transaction. A call made while a transaction is
// already in ctx joins it; the outer call owns isolation, deadline and commit.
func (r *TxRunner) InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	iso := pgx.ReadCommitted
	if opts.Serializable {
		iso = pgx.Serializable
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return classifyTxErr(ctx, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(context.Background())

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return classifyTxErr(ctx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyTxErr(ctx, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func classifyTxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrTxTimeout, err)
	}
	return err
}
