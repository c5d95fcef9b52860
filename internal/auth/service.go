package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// bcrypt が扱える最大長
const maxPasswordBytes = 72

// LoginInput はログインの入力です。
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// RegisterInput は新規登録の入力です。
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Session は発行済みトークンと対応するユーザーです。
type Session struct {
	User      SafeUser
	Token     string
	ExpiresAt time.Time
}

// Service はログイン・登録・セッション確認を行います。
type Service struct {
	store  CredentialStore
	hasher Hasher
	tokens *TokenService
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService は Service を作成します。
func NewService(store CredentialStore, hasher Hasher, tokens *TokenService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
}

// Tokens はトークンサービスを返します。
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Login は (email, role) でユーザーを探してパスワードを照合し、トークンを発行します。
// 未登録とパスワード不一致はどちらも ErrInvalidCredentials で、どちらもハッシュ照合を1回行います。
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" || strings.TrimSpace(in.Role) == "" {
		return nil, ErrMissingFields
	}

	role, err := ParseRole(in.Role)
	if err != nil {
		s.burnHash(in.Password)
		return nil, ErrInvalidCredentials
	}

	u, err := s.store.FindByEmailAndRole(ctx, email, role)
	if errors.Is(err, ErrUserNotFound) {
		s.burnHash(in.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeError("find", err)
	}

	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Register はユーザーを作成してトークンを発行します。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" || strings.TrimSpace(in.Role) == "" {
		return nil, ErrMissingFields
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	u, err := s.store.Create(ctx, User{
		Name:         name,
		Email:        email,
		PasswordHash: digest,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		return nil, storeError("create", err)
	}
	return s.issue(u)
}

// Me はトークンのクレームからユーザー情報を返します。
// ストアに記録が残っていれば名前とアバターを補いますが、ストアの失敗では認証を失敗させません。
func (s *Service) Me(ctx context.Context, token string) (SafeUser, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return SafeUser{}, err
	}

	user := SafeUser{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
	u, err := s.store.FindByID(ctx, claims.UserID)
	switch {
	case err == nil && u.Role == claims.Role:
		user.Name = u.Name
		user.Avatar = u.Avatar
	case err != nil && !errors.Is(err, ErrUserNotFound):
		s.logger.WarnContext(ctx, "profile lookup failed", "user_id", claims.UserID, "error", err)
	}
	return user, nil
}

// Logout は有効なトークンを失効リストに登録します。無効なトークンは何もしません。
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return nil
	}
	return s.tokens.Revoke(ctx, claims)
}

// Profile は id のユーザー情報を返します。
func (s *Service) Profile(ctx context.Context, id int) (SafeUser, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return SafeUser{}, err
		}
		return SafeUser{}, storeError("find", err)
	}
	return u.Safe(), nil
}

// UpdateProfile は名前またはアバターを更新します。名前を空にはできません。
func (s *Service) UpdateProfile(ctx context.Context, id int, update ProfileUpdate) (SafeUser, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return SafeUser{}, ErrMissingFields
		}
		update.Name = &trimmed
	}
	u, err := s.store.UpdateProfile(ctx, id, update)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return SafeUser{}, err
		}
		return SafeUser{}, storeError("update", err)
	}
	return u.Safe(), nil
}

func (s *Service) issue(u User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u.Safe(), Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash("agent-roster-placeholder")
		if err != nil {
			s.logger.Error("dummy hash generation failed", "error", err)
			return
		}
		s.dummyHash = digest
	})
	if s.dummyHash != "" {
		_ = s.hasher.Verify(password, s.dummyHash)
	}
}
