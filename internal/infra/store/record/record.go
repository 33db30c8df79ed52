// Package recordstore persists ProcessingRecords and owns the only code path
// allowed to mutate their counters: a guarded, clamped decrement plus an
// all-zero check inside one transaction. Application code never
// read-modify-writes a counter.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prodenrich/internal/domain"
	"prodenrich/internal/libs/sqlbind"
)

// Schema is portable across Postgres and the sqlite used in tests.
const Schema = `
CREATE TABLE IF NOT EXISTS processing_records (
    user_id           BIGINT       NOT NULL,
    product_id        BIGINT       NOT NULL,
    status            VARCHAR(32)  NOT NULL,
    image_remaining   INTEGER      NOT NULL DEFAULT 0,
    option_remaining  INTEGER      NOT NULL DEFAULT 0,
    overall_remaining INTEGER      NOT NULL DEFAULT 0,
    image_requested   BOOLEAN      NOT NULL DEFAULT FALSE,
    nukki_requested   BOOLEAN      NOT NULL DEFAULT FALSE,
    option_requested  BOOLEAN      NOT NULL DEFAULT FALSE,
    text_requested    BOOLEAN      NOT NULL DEFAULT FALSE,
    brand_requested   BOOLEAN      NOT NULL DEFAULT FALSE,
    group_code        VARCHAR(64)  NOT NULL DEFAULT '',
    created_at        TIMESTAMP    NOT NULL,
    updated_at        TIMESTAMP    NOT NULL,
    PRIMARY KEY (user_id, product_id)
);
`

const schemaIndex = `
CREATE INDEX IF NOT EXISTS idx_processing_records_status_updated
    ON processing_records (status, updated_at);
`

type Store struct {
	db      *sql.DB
	dialect sqlbind.Dialect
}

func New(db *sql.DB, dialect sqlbind.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{Schema, schemaIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate processing_records: %w", err)
		}
	}
	return nil
}

func (s *Store) q(query string) string {
	return sqlbind.Rebind(s.dialect, query)
}

// Create inserts a fresh pending record with zero counters. Counters are
// populated later by InitCounters once dispatch knows the totals.
func (s *Store) Create(ctx context.Context, rec domain.ProcessingRecord) error {
	now := time.Now().UTC()
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}

	query := s.q(`INSERT INTO processing_records
		(user_id, product_id, status,
		 image_remaining, option_remaining, overall_remaining,
		 image_requested, nukki_requested, option_requested, text_requested, brand_requested,
		 group_code, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.ProductID, string(rec.Status),
		rec.Requested.Image, rec.Requested.Nukki, rec.Requested.Option,
		rec.Requested.Text, rec.Requested.BrandFilter,
		rec.GroupCode, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert record %d:%d: %w", rec.UserID, rec.ProductID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, productID int64) (domain.ProcessingRecord, error) {
	query := s.q(`SELECT status,
		image_remaining, option_remaining, overall_remaining,
		image_requested, nukki_requested, option_requested, text_requested, brand_requested,
		group_code, created_at, updated_at
		FROM processing_records WHERE user_id = ? AND product_id = ?`)

	rec := domain.ProcessingRecord{UserID: userID, ProductID: productID}
	var status string
	err := s.db.QueryRowContext(ctx, query, userID, productID).Scan(
		&status,
		&rec.ImageRemaining, &rec.OptionRemaining, &rec.OverallRemaining,
		&rec.Requested.Image, &rec.Requested.Nukki, &rec.Requested.Option,
		&rec.Requested.Text, &rec.Requested.BrandFilter,
		&rec.GroupCode, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProcessingRecord{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.ProcessingRecord{}, fmt.Errorf("get record %d:%d: %w", userID, productID, err)
	}
	rec.Status = domain.Status(status)
	return rec, nil
}

// SetStatus force-sets the status unconditionally: brand routing, dispatch
// failures and external commit/end transitions use this, never completion.
func (s *Store) SetStatus(ctx context.Context, userID, productID int64, status domain.Status) error {
	query := s.q(`UPDATE processing_records SET status = ?, updated_at = ?
		WHERE user_id = ? AND product_id = ?`)

	res, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), userID, productID)
	if err != nil {
		return fmt.Errorf("set status %d:%d: %w", userID, productID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// InitCounters populates the three counters exactly once per record and moves
// it to processing. With an all-zero total the record is marked success right
// away and never observes processing; the returned flag tells the caller to
// fire the completion side effect.
func (s *Store) InitCounters(ctx context.Context, userID, productID int64, counts domain.Counts) (bool, error) {
	status := domain.StatusProcessing
	if counts.Zero() {
		status = domain.StatusSuccess
	}

	query := s.q(`UPDATE processing_records
		SET image_remaining = ?, option_remaining = ?, overall_remaining = ?,
		    status = ?, updated_at = ?
		WHERE user_id = ? AND product_id = ?
		  AND status IN ('pending', 'brandbanCheck', 'notbanned')`)

	res, err := s.db.ExecContext(ctx, query,
		counts.Image, counts.Option, counts.Overall,
		string(status), time.Now().UTC(), userID, productID,
	)
	if err != nil {
		return false, fmt.Errorf("init counters %d:%d: %w", userID, productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("init counters %d:%d: rows affected: %w", userID, productID, err)
	}
	if n == 0 {
		return false, domain.ErrRecordNotFound
	}
	return counts.Zero(), nil
}

func counterColumn(c domain.Counter) (string, error) {
	switch c {
	case domain.CounterImage:
		return "image_remaining", nil
	case domain.CounterOption:
		return "option_remaining", nil
	case domain.CounterOverall:
		return "overall_remaining", nil
	}
	return "", fmt.Errorf("unknown counter %q", c)
}

// DecrementAndComplete subtracts amount from one counter, floored at zero,
// then flips the record to success when all three counters read zero. The
// whole operation is one transaction:
//
//  1. a single guarded UPDATE clamps the counter, so two concurrent
//     decrements can never both apply against the same pre-read value;
//  2. the counters are re-read inside the transaction;
//  3. the status UPDATE is conditioned on processing/notbanned, so racing
//     decrementers and late arrivals after a reclaim cannot re-fire it.
//
// Returns true when this call performed the success transition; the caller
// owes exactly one completion side effect for it. A missing record is a
// no-op returning domain.ErrRecordNotFound.
func (s *Store) DecrementAndComplete(ctx context.Context, userID, productID int64, counter domain.Counter, amount int) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("decrement %d:%d: non-positive amount %d", userID, productID, amount)
	}
	col, err := counterColumn(counter)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("decrement %d:%d: begin: %w", userID, productID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	dec := s.q(fmt.Sprintf(`UPDATE processing_records
		SET %[1]s = CASE WHEN %[1]s > ? THEN %[1]s - ? ELSE 0 END, updated_at = ?
		WHERE user_id = ? AND product_id = ? AND %[1]s > 0`, col))
	if _, err := tx.ExecContext(ctx, dec, amount, amount, now, userID, productID); err != nil {
		return false, fmt.Errorf("decrement %d:%d %s: %w", userID, productID, col, err)
	}

	read := s.q(`SELECT image_remaining, option_remaining, overall_remaining
		FROM processing_records WHERE user_id = ? AND product_id = ?`)
	var image, option, overall int
	err = tx.QueryRowContext(ctx, read, userID, productID).Scan(&image, &option, &overall)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrRecordNotFound
	}
	if err != nil {
		return false, fmt.Errorf("decrement %d:%d: re-read: %w", userID, productID, err)
	}

	completed := false
	if image == 0 && option == 0 && overall == 0 {
		up := s.q(`UPDATE processing_records SET status = ?, updated_at = ?
			WHERE user_id = ? AND product_id = ?
			  AND status IN ('processing', 'notbanned')`)
		res, err := tx.ExecContext(ctx, up, string(domain.StatusSuccess), now, userID, productID)
		if err != nil {
			return false, fmt.Errorf("decrement %d:%d: complete: %w", userID, productID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("decrement %d:%d: complete rows: %w", userID, productID, err)
		}
		completed = n == 1
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("decrement %d:%d: commit: %w", userID, productID, err)
	}
	return completed, nil
}

// ForceComplete is the reclaimer's path: same conditional transition as the
// decrementer, without touching counters. Late worker results afterwards
// clamp harmlessly against the already-terminal status guard.
func (s *Store) ForceComplete(ctx context.Context, userID, productID int64) (bool, error) {
	query := s.q(`UPDATE processing_records SET status = ?, updated_at = ?
		WHERE user_id = ? AND product_id = ?
		  AND status IN ('processing', 'notbanned')`)

	res, err := s.db.ExecContext(ctx, query, string(domain.StatusSuccess), time.Now().UTC(), userID, productID)
	if err != nil {
		return false, fmt.Errorf("force complete %d:%d: %w", userID, productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("force complete %d:%d: rows affected: %w", userID, productID, err)
	}
	return n == 1, nil
}

// StaleProcessing returns records still in processing whose last update is
// older than cutoff, oldest first, bounded so a single sweep stays cheap.
func (s *Store) StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.ProcessingRecord, error) {
	query := s.q(`SELECT user_id, product_id, status,
		image_remaining, option_remaining, overall_remaining,
		image_requested, nukki_requested, option_requested, text_requested, brand_requested,
		group_code, created_at, updated_at
		FROM processing_records
		WHERE status = 'processing' AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("stale records: %w", err)
	}
	defer rows.Close()

	var recs []domain.ProcessingRecord
	for rows.Next() {
		var rec domain.ProcessingRecord
		var status string
		if err := rows.Scan(
			&rec.UserID, &rec.ProductID, &status,
			&rec.ImageRemaining, &rec.OptionRemaining, &rec.OverallRemaining,
			&rec.Requested.Image, &rec.Requested.Nukki, &rec.Requested.Option,
			&rec.Requested.Text, &rec.Requested.BrandFilter,
			&rec.GroupCode, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("stale records: scan: %w", err)
		}
		rec.Status = domain.Status(status)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stale records: %w", err)
	}
	return recs, nil
}

// StatusCounts returns per-status record totals for one user.
func (s *Store) StatusCounts(ctx context.Context, userID int64) (map[domain.Status]int, error) {
	query := s.q(`SELECT status, COUNT(*) FROM processing_records
		WHERE user_id = ? GROUP BY status`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("status counts for %d: %w", userID, err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("status counts for %d: scan: %w", userID, err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status counts for %d: %w", userID, err)
	}
	return counts, nil
}

// Delete removes a record from active consideration (explicit discard).
func (s *Store) Delete(ctx context.Context, userID, productID int64) error {
	query := s.q(`DELETE FROM processing_records WHERE user_id = ? AND product_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, userID, productID); err != nil {
		return fmt.Errorf("delete record %d:%d: %w", userID, productID, err)
	}
	return nil
}
