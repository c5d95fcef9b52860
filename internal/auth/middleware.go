package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AuthCookieName はセッショントークンを保持するクッキー名です。
const AuthCookieName = "auth_token"

// LoginPath は未認証時のリダイレクト先です。
const LoginPath = "/login"

// ContextIdentityKey は検証済みの Identity を gin.Context に格納するキーです。
const ContextIdentityKey = "auth.identity"

// ProtectedPrefixes はログインが必要なページのパスです。
var ProtectedPrefixes = []string{
	"/dashboard",
	"/players",
	"/contracts",
	"/clubs",
	"/matches",
	"/profile",
}

// TokenVerifier はトークンを検証できる型が実装します。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Identity はリクエストごとの認証済み主体です。
type Identity struct {
	UserID    int
	Email     string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

func identityFromClaims(claims *Claims) Identity {
	id := Identity{
		UserID:  claims.UserID,
		Email:   claims.Email,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id
}

// IsProtectedPath は path が保護対象のプレフィックスと一致するか、その配下かを返します。
func IsProtectedPath(path string) bool {
	for _, prefix := range ProtectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// SessionGate は保護ページへのリクエストでクッキーを検証し、失敗時は /login へリダイレクトします。
// トークンの更新などの副作用はありません。
func SessionGate(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsProtectedPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		token, err := c.Cookie(AuthCookieName)
		if err != nil || token == "" {
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}
		if _, err := tokens.Verify(c.Request.Context(), token); err != nil {
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireSession は API 用のセッション検証ミドルウェアです。
// 失敗時は 401 を返し、成功時は Identity をコンテキストに格納します。
func RequireSession(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(AuthCookieName)
		if err != nil || token == "" {
			abortUnauthorized(c)
			return
		}
		claims, err := tokens.Verify(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		c.Set(ContextIdentityKey, identityFromClaims(claims))
		c.Next()
	}
}

// CurrentIdentity は RequireSession が格納した Identity を返します。
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":  "UNAUTHORIZED",
		"error": "Authentication required",
		"user":  nil,
	})
}
