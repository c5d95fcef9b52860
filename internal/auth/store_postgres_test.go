package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	return store, mock
}

var userColumns = []string{"id", "name", "email", "password_hash", "role", "avatar"}

func TestPostgresStoreFindByEmailAndRole(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT id, name, email, password_hash, role, avatar FROM users WHERE email = \\$1 AND role = \\$2").
		WithArgs("ana@example.com", "agent").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(3, "Ana", "ana@example.com", "hash", "agent", ""))

	u, err := store.FindByEmailAndRole(context.Background(), "ana@example.com", RoleAgent)
	if err != nil {
		t.Fatalf("FindByEmailAndRole() error: %v", err)
	}
	if u.ID != 3 || u.Role != RoleAgent {
		t.Fatalf("unexpected user: %#v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreFindNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT id, name, email, password_hash, role, avatar FROM users WHERE id = \\$1").
		WithArgs(9).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.FindByID(context.Background(), 9); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreCreate(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("Ana", "ana@example.com", "hash", "scout", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	u, err := store.Create(context.Background(), User{Name: "Ana", Email: "ana@example.com", PasswordHash: "hash", Role: RoleScout})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if u.ID != 12 {
		t.Fatalf("expected id 12, got %d", u.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreCreateDuplicate(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("Ana", "ana@example.com", "hash", "scout", "").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("Ana", "ana@example.com", "hash", "scout", "").
		WillReturnError(&pq.Error{Code: "23505"})

	in := User{Name: "Ana", Email: "ana@example.com", PasswordHash: "hash", Role: RoleScout}
	for i := 0; i < 2; i++ {
		if _, err := store.Create(context.Background(), in); !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("attempt %d: expected ErrDuplicateEmail, got %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreCreateFailure(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("INSERT INTO users").WillReturnError(errors.New("connection reset"))

	_, err := store.Create(context.Background(), User{Name: "Ana", Email: "a@b.c", PasswordHash: "h", Role: RoleAgent})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestPostgresStoreUpdateProfile(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	name := "Ana Maria"
	mock.ExpectQuery("UPDATE users").
		WithArgs(3, sql.NullString{String: name, Valid: true}, sql.NullString{}).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(3, name, "ana@example.com", "hash", "agent", "/a.png"))

	u, err := store.UpdateProfile(context.Background(), 3, ProfileUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProfile() error: %v", err)
	}
	if u.Name != name || u.Avatar != "/a.png" {
		t.Fatalf("unexpected user: %#v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
