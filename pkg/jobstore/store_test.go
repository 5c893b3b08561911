package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: Config{Path: filepath.Join(dir, "a", "jobs.db")}, want: "file:" + filepath.Join(dir, "a", "jobs.db")},
		{name: "url with token", cfg: Config{URL: "libsql://db.turso.io", AuthToken: "tok"}, want: "libsql://db.turso.io?authToken=tok"},
		{name: "url keeps existing token", cfg: Config{URL: "libsql://db.turso.io?authToken=x", AuthToken: "tok"}, want: "libsql://db.turso.io?authToken=x"},
		{name: "missing", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Ping(context.Background()))
	_, err = s.UpsertJob(context.Background(), JobRef{URL: "svc"})
	require.NoError(t, err)
}

func TestIsPostgresURL(t *testing.T) {
	assert.True(t, isPostgresURL("postgres://u:p@localhost/db"))
	assert.True(t, isPostgresURL("postgresql://localhost/db"))
	assert.False(t, isPostgresURL("libsql://db.turso.io"))
	assert.False(t, isPostgresURL(""))
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres, 0)
	assert.Equal(t, "UPDATE jobs SET a = $1 WHERE id = $2", pg.rebind("UPDATE jobs SET a = ? WHERE id = ?"))

	lite := New(nil, DialectSQLite, 0)
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestListDueQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).WillReturnError(boom)

	s := New(db, DialectSQLite, 0)
	_, err = s.ListDue(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlaceholdersReachDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db, DialectPostgres, 0)
	require.NoError(t, s.Delete(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = ?")).
		WithArgs(int64(5)).
		WillReturnError(errors.New("disk I/O error"))

	s := New(db, DialectSQLite, 0)
	err = s.Delete(context.Background(), 5)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRejectsCorruptTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "url", "owner_user_id", "chat_id", "created_at", "scheduled_time", "parameter"}).
		AddRow(int64(1), "svc", "svc", int64(7), int64(100), "2026-01-01T00:00:00Z", "not-a-time", nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).WillReturnRows(rows)

	s := New(db, DialectSQLite, 0)
	_, err = s.ListScheduled(context.Background())
	assert.Error(t, err)
}
