package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/agent-roster/internal/config"
	"github.com/yourusername/agent-roster/internal/storage"
)

const (
	SessionCookieName = "ar_session"
	sessionKeyUser    = "auth_user"
	sessionKeyCSRF    = "csrf_token"

	csrfHeader = "X-CSRF-Token"
	avatarKind = "avatars"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

var avatarTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// EventRecorder は認証イベントの計測先です。
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

// Uploader はアバター画像の保存先です。
type Uploader interface {
	SaveMultipart(ctx context.Context, kind string, fh *multipart.FileHeader, allowed ...string) (*storage.StoredFile, error)
	Delete(ctx context.Context, url string) error
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// ManagerOptions は Manager の任意の依存です。
type ManagerOptions struct {
	Uploader Uploader
	Events   EventRecorder
	Logger   *slog.Logger
}

// Manager は認証エンドポイントと CSRF 検証をまとめた構造体です。
type Manager struct {
	service       *Service
	secureCookies bool
	uploader      Uploader
	events        EventRecorder
	logger        *slog.Logger
	now           func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, service *Service, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		service:       service,
		secureCookies: cfg.CookieSecure || cfg.IsRelease(),
		uploader:      opts.Uploader,
		events:        opts.Events,
		logger:        logger,
		now:           time.Now,
		attempts:      make(map[string]*attemptState),
	}
}

// Login は POST /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req LoginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		m.record("login", "missing_fields")
		m.respondWithError(c, ErrMissingFields)
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
		m.record("login", "throttled")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":  "TOO_MANY_ATTEMPTS",
			"error": "Too many attempts, try again later",
		})
		return
	}

	session, err := m.service.Login(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if remaining := m.recordFailure(ip); remaining == 0 {
				m.logger.WarnContext(c.Request.Context(), "login locked", "client_ip", ip, "lock", lockDuration.String())
			}
		}
		m.record("login", outcomeOf(err))
		m.respondWithError(c, err)
		return
	}

	m.resetAttempts(ip)
	if err := m.startSession(c, session); err != nil {
		m.respondWithError(c, err)
		return
	}
	m.record("login", "success")
	c.JSON(http.StatusOK, gin.H{"success": true, "user": session.User})
}

// Register は POST /api/auth/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		m.record("register", "missing_fields")
		m.respondWithError(c, ErrMissingFields)
		return
	}

	session, err := m.service.Register(c.Request.Context(), req)
	if err != nil {
		m.record("register", outcomeOf(err))
		m.respondWithError(c, err)
		return
	}
	if err := m.startSession(c, session); err != nil {
		m.respondWithError(c, err)
		return
	}
	m.record("register", "success")
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": session.User})
}

// Logout は POST /api/auth/logout のハンドラーです。クッキーの有無にかかわらず成功します。
func (m *Manager) Logout(c *gin.Context) {
	if token, err := c.Cookie(AuthCookieName); err == nil && token != "" {
		if err := m.service.Logout(c.Request.Context(), token); err != nil {
			m.logger.WarnContext(c.Request.Context(), "token revocation failed", "error", err)
		}
	}

	m.clearAuthCookie(c)
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		m.logger.WarnContext(c.Request.Context(), "session clear failed", "error", err)
	}
	m.record("logout", "success")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me は GET /api/auth/me のハンドラーです。
func (m *Manager) Me(c *gin.Context) {
	token, err := c.Cookie(AuthCookieName)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
		return
	}
	user, err := m.service.Me(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// CSRFToken は GET /api/auth/csrf のハンドラーです。既存のトークンが無ければ発行します。
func (m *Manager) CSRFToken(c *gin.Context) {
	identity, ok := CurrentIdentity(c)
	if !ok {
		abortUnauthorized(c)
		return
	}

	session := sessions.Default(c)
	token, _ := session.Get(sessionKeyCSRF).(string)
	owner, _ := session.Get(sessionKeyUser).(int)
	if token == "" || owner != identity.UserID {
		var err error
		token, err = generateToken()
		if err != nil {
			m.respondWithError(c, err)
			return
		}
		session.Set(sessionKeyUser, identity.UserID)
		session.Set(sessionKeyCSRF, token)
		if err := session.Save(); err != nil {
			m.respondWithError(c, err)
			return
		}
	}
	c.Header(csrfHeader, token)
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// Profile は GET /api/profile のハンドラーです。
func (m *Manager) Profile(c *gin.Context) {
	identity, ok := CurrentIdentity(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	user, err := m.service.Profile(c.Request.Context(), identity.UserID)
	if err != nil {
		m.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type profileRequest struct {
	Name *string `json:"name"`
}

// UpdateProfile は PUT /api/profile のハンドラーです。
func (m *Manager) UpdateProfile(c *gin.Context) {
	identity, ok := CurrentIdentity(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil {
		m.respondWithError(c, ErrMissingFields)
		return
	}
	user, err := m.service.UpdateProfile(c.Request.Context(), identity.UserID, ProfileUpdate{Name: req.Name})
	if err != nil {
		m.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UploadAvatar は POST /api/profile/avatar のハンドラーです。
func (m *Manager) UploadAvatar(c *gin.Context) {
	identity, ok := CurrentIdentity(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	if m.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "UPLOADS_DISABLED",
			"error": "Uploads are not configured",
		})
		return
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		m.respondWithError(c, ErrMissingFields)
		return
	}

	ctx := c.Request.Context()
	stored, err := m.uploader.SaveMultipart(ctx, avatarKind, fh, avatarTypes...)
	if err != nil {
		m.respondWithError(c, err)
		return
	}
	user, err := m.service.UpdateProfile(ctx, identity.UserID, ProfileUpdate{Avatar: &stored.URL})
	if err != nil {
		if delErr := m.uploader.Delete(ctx, stored.URL); delErr != nil {
			m.logger.WarnContext(ctx, "orphan avatar cleanup failed", "url", stored.URL, "error", delErr)
		}
		m.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "CSRF_MISSING",
				"error": "CSRF token is not issued",
			})
			return
		}
		if identity, ok := CurrentIdentity(c); ok {
			if owner, _ := session.Get(sessionKeyUser).(int); owner != identity.UserID {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"code":  "CSRF_INVALID",
					"error": "CSRF token does not match",
				})
				return
			}
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "CSRF_INVALID",
				"error": "CSRF token does not match",
			})
			return
		}

		c.Next()
	}
}

func (m *Manager) startSession(c *gin.Context, s *Session) error {
	token, err := generateToken()
	if err != nil {
		return err
	}
	session := sessions.Default(c)
	session.Set(sessionKeyUser, s.User.ID)
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		return err
	}

	m.setAuthCookie(c, s.Token, s.ExpiresAt)
	c.Header(csrfHeader, token)
	return nil
}

// setAuthCookie と clearAuthCookie は同じ属性で authCookie を書き出す
func (m *Manager) setAuthCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(m.service.Tokens().TTL().Seconds())
	http.SetCookie(c.Writer, m.authCookie(c, token, maxAge, expiresAt))
}

func (m *Manager) clearAuthCookie(c *gin.Context) {
	http.SetCookie(c.Writer, m.authCookie(c, "", -1, time.Unix(0, 0)))
}

func (m *Manager) authCookie(c *gin.Context, value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     AuthCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   m.secureCookies || c.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
}

func (m *Manager) respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "Missing fields"})
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS", "error": "Invalid credentials"})
	case errors.Is(err, ErrDuplicateEmail):
		c.JSON(http.StatusBadRequest, gin.H{"code": "EMAIL_TAKEN", "error": "Email already registered"})
	case errors.Is(err, ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ROLE", "error": "Invalid role"})
	case errors.Is(err, ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"code": "PASSWORD_TOO_LONG", "error": "Password too long"})
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "User not found"})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "LIMIT_EXCEEDED", "error": "File too large"})
	case errors.Is(err, storage.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"code": "UNSUPPORTED_TYPE", "error": "Unsupported file type"})
	default:
		m.logger.ErrorContext(c.Request.Context(), "auth request failed",
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "SERVER_ERROR", "error": "Server error"})
	}
}

func (m *Manager) record(event, outcome string) {
	if m.events != nil {
		m.events.AuthEvent(event, outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate"
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrPasswordTooLong):
		return "invalid_input"
	default:
		return "error"
	}
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// recordFailure は失敗を1回数え、ロックまでの残り回数を返します。
func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
