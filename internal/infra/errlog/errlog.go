// Package errlog is the append-only diagnostic sink for per-task failures.
package errlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"prodenrich/internal/libs/sqlbind"
)

const Schema = `
CREATE TABLE IF NOT EXISTS task_error_logs (
    id         BIGINT GENERATED BY DEFAULT AS IDENTITY,
    user_id    BIGINT    NOT NULL,
    product_id BIGINT    NOT NULL,
    message    TEXT      NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// sqlite has no identity columns.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS task_error_logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    BIGINT    NOT NULL,
    product_id BIGINT    NOT NULL,
    message    TEXT      NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

type Store struct {
	db      *sql.DB
	dialect sqlbind.Dialect
}

func New(db *sql.DB, dialect sqlbind.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Migrate(ctx context.Context) error {
	schema := Schema
	if s.dialect == sqlbind.DialectSQLite {
		schema = schemaSQLite
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate task_error_logs: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, userID, productID int64, message string) error {
	query := sqlbind.Rebind(s.dialect,
		`INSERT INTO task_error_logs (user_id, product_id, message, created_at) VALUES (?, ?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, userID, productID, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("append error log %d:%d: %w", userID, productID, err)
	}
	return nil
}
