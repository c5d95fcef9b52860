package auth

import (
	"strings"
)

// Role はユーザーの役割です。
type Role string

const (
	RoleAgent Role = "agent"
	RoleScout Role = "scout"
	RoleClub  Role = "club"
)

// ParseRole は文字列を Role に変換します。列挙外の値は ErrInvalidRole です。
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Valid は列挙内の値かどうかを返します。
func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleScout, RoleClub:
		return true
	default:
		return false
	}
}

// User は保存されている資格情報です。PasswordHash はクライアントへ返してはいけません。
type User struct {
	ID           int
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Avatar       string
}

// SafeUser はクライアントへ返すユーザー情報です。
type SafeUser struct {
	ID     int    `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// Safe はパスワードハッシュを除いた射影を返します。
func (u User) Safe() SafeUser {
	return SafeUser{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
		Avatar: u.Avatar,
	}
}

// ProfileUpdate はプロフィール更新の入力です。nil のフィールドは変更しません。
type ProfileUpdate struct {
	Name   *string
	Avatar *string
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
