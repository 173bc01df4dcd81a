package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the account queries against a pool or transaction.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// User is a row of the users table.
type User struct {
	ID           pgtype.UUID
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    pgtype.Timestamptz
	LastLoginAt  pgtype.Timestamptz
}

const userColumns = `id, username, password_hash, role, created_at, last_login_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Role,
		&u.CreatedAt,
		&u.LastLoginAt,
	)
	return u, err
}

const createUser = `
INSERT INTO users (username, password_hash, role)
VALUES ($1, $2, $3)
RETURNING ` + userColumns

// CreateUserParams are the inputs of CreateUser.
type CreateUserParams struct {
	Username     string
	PasswordHash string
	Role         string
}

// CreateUser inserts an account. A taken username fails with a unique violation.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, createUser, arg.Username, arg.PasswordHash, arg.Role))
}

const getUserByUsername = `
SELECT ` + userColumns + `
FROM users
WHERE username = $1`

// GetUserByUsername loads an account by login name.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByUsername, username))
}

const updateLastLogin = `
UPDATE users
SET last_login_at = now()
WHERE id = $1`

// UpdateLastLogin stamps a successful login.
func (q *Queries) UpdateLastLogin(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, updateLastLogin, id)
	return err
}

const updatePassword = `
UPDATE users
SET password_hash = $2
WHERE username = $1`

// UpdatePassword replaces the password hash of an account. It reports whether the
// account exists.
func (q *Queries) UpdatePassword(ctx context.Context, username, passwordHash string) (bool, error) {
	tag, err := q.db.Exec(ctx, updatePassword, username, passwordHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
