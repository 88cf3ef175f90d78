package nonce

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const (
	mysqlErrDuplicateEntry = 1062
)

// SQLStore implements Store on MySQL. Expected schema (see
// migrations/001_create_nonces.sql):
//
//	CREATE TABLE nonces (
//	    nonce         VARCHAR(32) PRIMARY KEY,
//	    status        VARCHAR(16) NOT NULL,
//	    issued_at_ms  BIGINT NOT NULL,
//	    expires_at_ms BIGINT NOT NULL,
//	    used_at_ms    BIGINT NOT NULL DEFAULT 0,
//	    ttl_epoch_s   BIGINT NOT NULL
//	)
//
// ttl_epoch_s mirrors the padded store-native expiry used by the Redis
// backend; an external sweep may use it, the service never relies on it.
type SQLStore struct {
	db     *sql.DB
	slack  time.Duration
	logger *zap.Logger
}

// Compile-time interface compliance check
var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a MySQL-backed nonce store with the default
// store-TTL slack.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	return NewSQLStoreWithSlack(db, DefaultStoreTTLSlack, logger)
}

// NewSQLStoreWithSlack creates a MySQL-backed nonce store with a custom
// store-TTL slack.
func NewSQLStoreWithSlack(db *sql.DB, slack time.Duration, logger *zap.Logger) *SQLStore {
	if slack <= 0 {
		slack = DefaultStoreTTLSlack
	}
	return &SQLStore{
		db:     db,
		slack:  slack,
		logger: logger,
	}
}

func (s *SQLStore) Put(ctx context.Context, record *Record) error {
	ttlEpochS := (record.ExpiresAtMs + s.slack.Milliseconds()) / 1000

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonces (nonce, status, issued_at_ms, expires_at_ms, used_at_ms, ttl_epoch_s)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.Nonce, string(record.Status), record.IssuedAtMs, record.ExpiresAtMs, record.UsedAtMs, ttlEpochS,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrNonceExists
		}
		s.logger.Error("failed to put nonce",
			zap.String("nonce", record.Nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to put nonce: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, nonce string) (*Record, error) {
	record := &Record{Nonce: nonce}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, issued_at_ms, expires_at_ms, used_at_ms FROM nonces WHERE nonce = ?`,
		nonce,
	).Scan(&status, &record.IssuedAtMs, &record.ExpiresAtMs, &record.UsedAtMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNonceNotFound
		}
		s.logger.Error("failed to get nonce",
			zap.String("nonce", nonce),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	record.Status = Status(status)
	return record, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, nonce string, from, to Status, usedAtMs int64) error {
	// Single conditional UPDATE closes the race between concurrent callers;
	// the row either matched the expected status or it did not.
	result, err := s.db.ExecContext(ctx,
		`UPDATE nonces SET status = ?, used_at_ms = ? WHERE nonce = ? AND status = ?`,
		string(to), usedAtMs, nonce, string(from),
	)
	if err != nil {
		s.logger.Error("failed to update nonce status",
			zap.String("nonce", nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update nonce status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update nonce status: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing row from a status mismatch.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM nonces WHERE nonce = ?`, nonce).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNonceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update nonce status: %w", err)
	}
	return ErrStatusConflict
}

func (s *SQLStore) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nonces WHERE status = ?`,
		string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nonces: %w", err)
	}
	return count, nil
}

func (s *SQLStore) CountExpired(ctx context.Context, nowMs int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nonces WHERE status = ? AND expires_at_ms < ?`,
		string(StatusActive), nowMs,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired nonces: %w", err)
	}
	return count, nil
}

func (s *SQLStore) DeleteExpiredBefore(ctx context.Context, nowMs int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE expires_at_ms < ?`,
		nowMs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nonces: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nonces: %w", err)
	}
	return removed, nil
}

// isDuplicateKeyError checks if the error is a MySQL duplicate key error
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}
