package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yourusername/agent-roster/internal/storage"
)

// CredentialStore はユーザー資格情報の保存先です。
type CredentialStore interface {
	// FindByEmailAndRole は (email, role) に一致するユーザーを返します。無ければ ErrUserNotFound です。
	FindByEmailAndRole(ctx context.Context, email string, role Role) (User, error)
	FindByID(ctx context.Context, id int) (User, error)
	// Create は (email, role) が未登録の場合だけ id を割り当てて保存します。登録済みなら ErrDuplicateEmail です。
	Create(ctx context.Context, u User) (User, error)
	UpdateProfile(ctx context.Context, id int, update ProfileUpdate) (User, error)
}

// UsersFilename は資格情報ワークブックのファイル名です。
const UsersFilename = "users.xlsx"

var usersSchema = storage.Schema{
	Sheet: "Users",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt},
		{Name: "name", Kind: storage.KindString},
		{Name: "email", Kind: storage.KindString},
		{Name: "password", Kind: storage.KindString},
		{Name: "role", Kind: storage.KindString},
		{Name: "avatar", Kind: storage.KindString, Optional: true},
	},
}

type userCodec struct{}

func (userCodec) Encode(u User) []any {
	return []any{u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Avatar}
}

func (userCodec) Decode(r storage.Row) (User, error) {
	role, err := ParseRole(r.String("role"))
	if err != nil {
		return User{}, fmt.Errorf("role %q: %w", r.String("role"), err)
	}
	return User{
		ID:           r.Int("id"),
		Name:         r.String("name"),
		Email:        r.String("email"),
		PasswordHash: r.String("password"),
		Role:         role,
		Avatar:       r.String("avatar"),
	}, nil
}

func (userCodec) ID(u User) int { return u.ID }

func (userCodec) WithID(u User, id int) User {
	u.ID = id
	return u
}

// WorkbookStore は users.xlsx の Users シートに資格情報を保存します。
type WorkbookStore struct {
	table *storage.Table[User]
}

// NewWorkbookStore は dataDir 配下の users.xlsx を開きます。
func NewWorkbookStore(dataDir string) (*WorkbookStore, error) {
	table, err := storage.NewTable[User](filepath.Join(dataDir, UsersFilename), usersSchema, userCodec{})
	if err != nil {
		return nil, storeError("open", err)
	}
	return &WorkbookStore{table: table}, nil
}

// FindByEmailAndRole は (email, role) に一致するユーザーを返します。
func (s *WorkbookStore) FindByEmailAndRole(ctx context.Context, email string, role Role) (User, error) {
	email = normalizeEmail(email)
	u, err := s.table.Find(ctx, func(u User) bool {
		return u.Email == email && u.Role == role
	})
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, storeError("find", err)
	}
	return u, nil
}

// FindByID は id に一致するユーザーを返します。
func (s *WorkbookStore) FindByID(ctx context.Context, id int) (User, error) {
	u, err := s.table.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, storeError("find", err)
	}
	return u, nil
}

// Create は一意性確認と id 割り当てを1つの書き込みロック内で行います。
func (s *WorkbookStore) Create(ctx context.Context, u User) (User, error) {
	u.Email = normalizeEmail(u.Email)
	created, err := s.table.InsertUnique(ctx, u, func(existing User) bool {
		return existing.Email == u.Email && existing.Role == u.Role
	})
	if errors.Is(err, storage.ErrConflict) {
		return User{}, ErrDuplicateEmail
	}
	if err != nil {
		return User{}, storeError("create", err)
	}
	return created, nil
}

// UpdateProfile は名前とアバターを更新します。
func (s *WorkbookStore) UpdateProfile(ctx context.Context, id int, update ProfileUpdate) (User, error) {
	u, err := s.table.Update(ctx, id, func(u User) (User, error) {
		return applyProfile(u, update), nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, storeError("update", err)
	}
	return u, nil
}

func applyProfile(u User, update ProfileUpdate) User {
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.Avatar != nil {
		u.Avatar = *update.Avatar
	}
	return u
}
