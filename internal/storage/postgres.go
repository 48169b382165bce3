// Package storage provides database connections and repository implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/study-hub/internal/config"
	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/txn"
)

// PostgresDB wraps the pgxpool connection and runs units of work on it
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a new Postgres database connection
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	connString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.MaxConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is validated in config
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// q returns the transaction of the unit of work in ctx, or the pool
func (db *PostgresDB) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}

// inTx reports whether ctx carries an open transaction; row locks need one
func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// WithinTx runs fn in a transaction. Nested calls join the outer
// transaction. After-commit hooks run once the outermost commit succeeded.
func (db *PostgresDB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperrors.NewDatabaseError("begin transaction", err)
	}
	ctx, scope, owner := txn.Begin(context.WithValue(ctx, txKey{}, tx))

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			scope.Discard()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.FromContext(ctx).WithError(rbErr).Warn("Rollback failed")
		}
		scope.Discard()
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if owner {
			scope.Discard()
		}
		return apperrors.NewDatabaseError("commit transaction", err)
	}

	if owner {
		scope.RunHooks(detach(ctx))
	}
	return nil
}

// detach strips the finished transaction and hook scope from ctx
func detach(ctx context.Context) context.Context {
	return txn.Detach(context.WithValue(ctx, txKey{}, nil))
}

// uniqueViolation reports whether err is a unique constraint violation
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// forUpdate appends a row lock to query when running in a transaction
func forUpdate(ctx context.Context, query string) string {
	if inTx(ctx) {
		return query + " FOR UPDATE"
	}
	return query
}

// exists runs a SELECT EXISTS query
func (db *PostgresDB) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := db.q(ctx).QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, apperrors.NewDatabaseError("exists check", err)
	}
	return ok, nil
}

// replaceSet makes the join table rows of owner exactly ids. Table and column
// names are constants of this package, never user input.
func (db *PostgresDB) replaceSet(ctx context.Context, table, ownerCol, itemCol, owner string, ids []string) error {
	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, ownerCol), owner)
	insert := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table, ownerCol, itemCol)
	for _, id := range ids {
		batch.Queue(insert, owner, id)
	}

	br := db.q(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return apperrors.NewDatabaseError("replace "+table, err)
		}
	}
	return nil
}
