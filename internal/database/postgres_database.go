package database

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB interface {
	QueryRowStruct(ctx context.Context, dest any, sql string, args ...any) error
	QueryStruct(ctx context.Context, dest any, sql string, args ...any) error
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Close(ctx context.Context) error
}

// PostgresDB wraps a pgx pool. A pool rather than a single connection
// because webhook updates for different chats execute concurrently.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close(ctx context.Context) error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) QueryRowStruct(ctx context.Context, dest any, sql string, args ...any) error {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	return pgxscan.ScanOne(dest, rows)
}

func (db *PostgresDB) QueryStruct(ctx context.Context, dest any, sql string, args ...any) error {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	return pgxscan.ScanAll(dest, rows)
}

// Exec runs a statement and returns the number of affected rows.
func (db *PostgresDB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
