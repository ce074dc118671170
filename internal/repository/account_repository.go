package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/waitlist-admin/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// AccountStore is the persistence contract the auth core consumes.  Lookups
// by identifier are case-insensitive; implementations normalise with
// NormalizeIdentifier before comparing.
type AccountStore interface {
	GetByIdentifier(ctx context.Context, identifier string) (model.Account, error)
	GetByID(ctx context.Context, id uint64) (model.Account, error)
	Create(ctx context.Context, a model.Account) (uint64, error)
	TouchLastLogin(ctx context.Context, id uint64, at time.Time) error
	SetActive(ctx context.Context, id uint64, active bool) error
	Count(ctx context.Context) (int, error)
}

// NormalizeIdentifier trims and lower-cases an identifier.
func NormalizeIdentifier(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// AccountRepo is the MySQL-backed AccountStore over the `admins` table.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = "id,email,name,role,password_hash,is_active,last_login_at,created_at,updated_at"

func scanAccount(row *sql.Row) (model.Account, error) {
	var (
		a         model.Account
		lastLogin sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Identifier, &a.Name, &a.Role, &a.SecretHash, &a.Active, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("scan account: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return a, nil
}

// GetByIdentifier fetches an account by normalised e-mail, active or not.
func (r *AccountRepo) GetByIdentifier(ctx context.Context, identifier string) (model.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM admins WHERE email=? LIMIT 1",
		NormalizeIdentifier(identifier)))
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM admins WHERE id=? LIMIT 1", id))
}

// Create inserts an account whose SecretHash is already computed and
// returns its ID.
func (r *AccountRepo) Create(ctx context.Context, a model.Account) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO admins (email, name, role, password_hash, is_active) VALUES (?,?,?,?,?)",
		NormalizeIdentifier(a.Identifier), strings.TrimSpace(a.Name), a.Role, a.SecretHash, a.Active)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return 0, ErrIdentifierExists
		}
		return 0, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert account id: %w", err)
	}
	return uint64(id), nil
}

// TouchLastLogin records a successful authentication.
func (r *AccountRepo) TouchLastLogin(ctx context.Context, id uint64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE admins SET last_login_at=? WHERE id=?", at.UTC(), id)
	return err
}

// SetActive flips the active flag.  Rows are never deleted here.
func (r *AccountRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE admins SET is_active=? WHERE id=?", active, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for a no-op update too, so confirm the row exists.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of accounts, active or not.
func (r *AccountRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM admins").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
