package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"taskstream.org/internal/ids"
)

const uniqueViolation = "23505"

// PGDirectory implements Directory on PostgreSQL via database/sql with the
// pgx stdlib driver.
type PGDirectory struct {
	db *sql.DB
}

var _ Directory = (*PGDirectory)(nil)

// NewPGDirectory wraps an open database handle.
func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

func (d *PGDirectory) CreateUser(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id := ids.New()
	row := d.db.QueryRowContext(ctx,
		`insert into users(id, email, password_hash) values($1,$2,$3) returning created_at`,
		id, email, hash,
	)
	var u User
	if err := row.Scan(&u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	u.Email = email
	return &u, nil
}

func (d *PGDirectory) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	row := d.db.QueryRowContext(ctx,
		`select id, email, password_hash, created_at from users where email=$1`, email,
	)
	var (
		u    User
		hash string
	)
	if err := row.Scan(&u.ID, &u.Email, &hash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if err := VerifyPassword(hash, password); err != nil {
		return nil, ErrBadCredentials
	}
	return &u, nil
}

func (d *PGDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, email, created_at from users where id=$1`, id,
	)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &u, nil
}

// NormalizeEmail lower-cases and trims an email so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
