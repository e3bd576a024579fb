package store

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return newPostgresStore(mock), mock
}

func TestAddUser_KeepsExistingWhitelist(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`INSERT INTO users \(user_id, is_whitelisted\)`).
		WithArgs(int64(42), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AddUser(42, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsWhitelisted(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT is_whitelisted`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"is_whitelisted"}).AddRow(true))
	mock.ExpectQuery(`SELECT is_whitelisted`).
		WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)

	ok, err := s.IsWhitelisted(1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.IsWhitelisted(2)
	require.NoError(t, err)
	require.False(t, ok, "unknown users are not whitelisted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsWhitelisted_DBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT is_whitelisted`).
		WithArgs(int64(1)).
		WillReturnError(errors.New("db down"))

	_, err := s.IsWhitelisted(1)
	require.Error(t, err)
}

func TestGetSetting(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT value\s+FROM settings`).
		WithArgs(int64(7), "encoding_preset").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("Fast 480p30"))
	mock.ExpectQuery(`SELECT value\s+FROM settings`).
		WithArgs(int64(7), "pending_url").
		WillReturnError(pgx.ErrNoRows)

	v, ok, err := s.GetSetting(7, "encoding_preset")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Fast 480p30", v)

	v, ok, err = s.GetSetting(7, "pending_url")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSetting_EnsuresUserFirst(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users \(user_id\)`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs(int64(7), "pending_url", "https://example.com").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetSetting(7, "pending_url", "https://example.com"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSetting_StopsWhenUserInsertFails(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users \(user_id\)`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	require.Error(t, s.SetSetting(7, "k", "v"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSetting_RollsBackWhenUpsertFails(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users \(user_id\)`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs(int64(7), "k", "v").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	require.Error(t, s.SetSetting(7, "k", "v"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSetting(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`DELETE FROM settings`).
		WithArgs(int64(7), "pending_url").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.DeleteSetting(7, "pending_url"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogAction_NormalizesLevel(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`INSERT INTO logs`).
		WithArgs("WARNING", "something odd").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.LogAction(" warning ", "something odd"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeLogs_ReturnsDeletedCount(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`DELETE FROM logs`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := s.PurgeLogs(time.Now().Add(-LogRetention))
	require.NoError(t, err)
	require.Equal(t, int64(12), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestURLEscape(t *testing.T) {
	require.Equal(t, "p%40ss%3Aw%2Frd", urlEscape("p@ss:w/rd"))
}
