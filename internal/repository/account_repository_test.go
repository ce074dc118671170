package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/waitlist-admin/internal/model"
)

func newRepoWithMock(t *testing.T) (*AccountRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAccountRepo(db), mock
}

var accountCols = []string{"id", "email", "name", "role", "password_hash", "is_active", "last_login_at", "created_at", "updated_at"}

func TestAccountRepo_GetByIdentifier_Normalises(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	last := created.Add(time.Hour)

	mock.ExpectQuery(`(?s)^SELECT .* FROM admins WHERE email=\? LIMIT 1$`).
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow(3, "ops@example.com", "Ops", "admin", "hash", true, last, created, created))

	a, err := repo.GetByIdentifier(context.Background(), "  OPS@Example.com ")
	require.NoError(t, err)
	require.Equal(t, uint64(3), a.ID)
	require.True(t, a.Active)
	require.NotNil(t, a.LastLoginAt)
	require.True(t, a.LastLoginAt.Equal(last))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_GetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)^SELECT .* FROM admins WHERE id=\? LIMIT 1$`).
		WithArgs(uint64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 9)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountRepo_GetByID_NullLastLogin(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM admins WHERE id=\?`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow(1, "a@b.co", "A", "super_admin", "hash", false, nil, now, now))

	a, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, a.LastLoginAt)
	require.False(t, a.Active)
}

func TestAccountRepo_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admins (email, name, role, password_hash, is_active) VALUES (?,?,?,?,?)")).
		WithArgs("new@example.com", "New", "admin", "hash", true).
		WillReturnResult(sqlmock.NewResult(12, 1))

	id, err := repo.Create(context.Background(), model.Account{
		Identifier: "New@Example.com", Name: " New ", Role: "admin", SecretHash: "hash", Active: true,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(12), id)
}

func TestAccountRepo_Create_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO admins`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := repo.Create(context.Background(), model.Account{Identifier: "dup@example.com"})
	require.ErrorIs(t, err, ErrIdentifierExists)
}

func TestAccountRepo_Create_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO admins`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), model.Account{Identifier: "x@example.com"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIdentifierExists)
	require.Contains(t, err.Error(), "db down")
}

func TestAccountRepo_TouchLastLogin(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE admins SET last_login_at=? WHERE id=?")).
		WithArgs(at, uint64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TouchLastLogin(context.Background(), 4, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_SetActive_Missing(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE admins SET is_active=? WHERE id=?")).
		WithArgs(false, uint64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM admins WHERE id=\?`).WithArgs(uint64(8)).WillReturnError(sql.ErrNoRows)

	require.ErrorIs(t, repo.SetActive(context.Background(), 8, false), ErrAccountNotFound)
}

func TestAccountRepo_Count(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM admins")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
