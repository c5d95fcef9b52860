package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore は PostgreSQL に資格情報を保存します。(email, role) の一意性は UNIQUE 制約で保証します。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はテーブルを用意して PostgresStore を返します。
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (email, role)
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return storeError("ensure schema", err)
	}
	return nil
}

// FindByEmailAndRole は (email, role) に一致するユーザーを返します。
func (s *PostgresStore) FindByEmailAndRole(ctx context.Context, email string, role Role) (User, error) {
	const q = `SELECT id, name, email, password_hash, role, avatar FROM users WHERE email = $1 AND role = $2`
	return s.scanOne(s.db.QueryRowContext(ctx, q, normalizeEmail(email), string(role)))
}

// FindByID は id に一致するユーザーを返します。
func (s *PostgresStore) FindByID(ctx context.Context, id int) (User, error) {
	const q = `SELECT id, name, email, password_hash, role, avatar FROM users WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, q, id))
}

// Create は ON CONFLICT DO NOTHING で挿入し、行が返らなければ重複とみなします。
func (s *PostgresStore) Create(ctx context.Context, u User) (User, error) {
	u.Email = normalizeEmail(u.Email)
	const q = `
INSERT INTO users (name, email, password_hash, role, avatar)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email, role) DO NOTHING
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, q, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Avatar).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrDuplicateEmail
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return User{}, ErrDuplicateEmail
	}
	if err != nil {
		return User{}, storeError("create", err)
	}
	u.ID = int(id)
	return u, nil
}

// UpdateProfile は名前とアバターを更新します。nil のフィールドは現在値を保ちます。
func (s *PostgresStore) UpdateProfile(ctx context.Context, id int, update ProfileUpdate) (User, error) {
	const q = `
UPDATE users
SET name = COALESCE($2, name),
	avatar = COALESCE($3, avatar)
WHERE id = $1
RETURNING id, name, email, password_hash, role, avatar`
	return s.scanOne(s.db.QueryRowContext(ctx, q, id, nullString(update.Name), nullString(update.Avatar)))
}

func (s *PostgresStore) scanOne(row *sql.Row) (User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, storeError("query", err)
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return User{}, storeError("decode role", fmt.Errorf("role %q: %w", role, err))
	}
	u.Role = parsed
	return u, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
