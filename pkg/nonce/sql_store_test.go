package nonce

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLTestStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStoreWithSlack(db, time.Minute, zap.NewNop()), mock
}

func TestSQLStore_Put(t *testing.T) {
	store, mock := newSQLTestStore(t)

	record := activeRecord("abc123", 1000, 61_000)
	mock.ExpectExec("INSERT INTO nonces").
		WithArgs("abc123", "ACTIVE", int64(1000), int64(61_000), int64(0), int64(121)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Put(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PutDuplicate(t *testing.T) {
	store, mock := newSQLTestStore(t)

	mock.ExpectExec("INSERT INTO nonces").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.Put(context.Background(), activeRecord("abc123", 1000, 61_000))
	assert.ErrorIs(t, err, ErrNonceExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get(t *testing.T) {
	store, mock := newSQLTestStore(t)

	rows := sqlmock.NewRows([]string{"status", "issued_at_ms", "expires_at_ms", "used_at_ms"}).
		AddRow("USED", int64(1000), int64(61_000), int64(1500))
	mock.ExpectQuery("SELECT status, issued_at_ms, expires_at_ms, used_at_ms FROM nonces").
		WithArgs("abc123").
		WillReturnRows(rows)

	record, err := store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, record.Status)
	assert.EqualValues(t, 1500, record.UsedAtMs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNotFound(t *testing.T) {
	store, mock := newSQLTestStore(t)

	mock.ExpectQuery("SELECT status, issued_at_ms, expires_at_ms, used_at_ms FROM nonces").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNonceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatus(t *testing.T) {
	store, mock := newSQLTestStore(t)

	mock.ExpectExec("UPDATE nonces SET status").
		WithArgs("USED", int64(1500), "abc123", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateStatus(context.Background(), "abc123", StatusActive, StatusUsed, 1500)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusConflict(t *testing.T) {
	store, mock := newSQLTestStore(t)

	mock.ExpectExec("UPDATE nonces SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM nonces").
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	err := store.UpdateStatus(context.Background(), "abc123", StatusActive, StatusUsed, 1500)
	assert.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStatusNotFound(t *testing.T) {
	store, mock := newSQLTestStore(t)

	mock.ExpectExec("UPDATE nonces SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM nonces").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := store.UpdateStatus(context.Background(), "missing", StatusActive, StatusUsed, 1500)
	assert.ErrorIs(t, err, ErrNonceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Counts(t *testing.T) {
	store, mock := newSQLTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nonces WHERE status = \?$`).
		WithArgs("ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	active, err := store.CountByStatus(ctx, StatusActive)
	require.NoError(t, err)
	assert.EqualValues(t, 7, active)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM nonces WHERE status = \? AND expires_at_ms <`).
		WithArgs("ACTIVE", int64(5000)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	expired, err := store.CountExpired(ctx, 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 2, expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteExpiredBefore(t *testing.T) {
	store, mock := newSQLTestStore(t)

	mock.ExpectExec("DELETE FROM nonces WHERE expires_at_ms <").
		WithArgs(int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.DeleteExpiredBefore(context.Background(), 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
