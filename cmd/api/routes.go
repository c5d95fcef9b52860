package main

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourusername/agent-roster/internal/auth"
	"github.com/yourusername/agent-roster/internal/config"
	"github.com/yourusername/agent-roster/internal/jobs"
	"github.com/yourusername/agent-roster/internal/observability"
	"github.com/yourusername/agent-roster/internal/roster"
)

// routerDeps はルーターが使う組み立て済みの依存です。
type routerDeps struct {
	logger        *slog.Logger
	metrics       *observability.Metrics
	sessionSecret []byte
	tokens        *auth.TokenService
	authManager   *auth.Manager
	roster        *roster.Handler
	jobs          *jobs.Manager // キュー未設定なら nil
}

// newRouter はミドルウェアとルーティングを設定した gin.Engine を返します。
func newRouter(cfg *config.Config, deps *routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(deps.metrics.Handler())
	router.Use(observability.RequestLogger(deps.logger))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
		observability.RequestIDHeader,
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", observability.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	// セッションストアの設定（CSRF トークンの保持に使う）
	store := cookie.NewStore(deps.sessionSecret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure || cfg.IsRelease(),
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// 保護ページは API より前にゲートで振り分ける
	router.Use(auth.SessionGate(deps.tokens))

	setupRoutes(router, cfg, deps)
	registerFrontend(router, cfg.FrontendDistDir)
	return router
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, deps *routerDeps) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	deps.metrics.RegisterMetricsEndpoint(router)

	requireSession := auth.RequireSession(deps.tokens)
	authManager := deps.authManager

	// 契約書を含むため、アップロードファイルもログイン必須
	uploads := router.Group(uploadsPrefix, requireSession)
	uploads.Static("/", cfg.UploadDir)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/register", authManager.Register)
			authRoutes.POST("/logout", authManager.Logout)
			authRoutes.GET("/me", authManager.Me)
			authRoutes.GET("/csrf", requireSession, authManager.CSRFToken)
		}

		protected := api.Group("")
		protected.Use(requireSession, authManager.VerifyCSRF())
		{
			protected.GET("/profile", authManager.Profile)
			protected.PUT("/profile", authManager.UpdateProfile)
			protected.POST("/profile/avatar", authManager.UploadAvatar)

			deps.roster.RegisterRoutes(protected)

			if deps.jobs != nil {
				protected.GET("/jobs/:id", jobs.StatusHandler(deps.jobs, deps.logger))
				protected.GET("/jobs/:id/download", jobs.DownloadHandler(deps.jobs, deps.logger))
			}
		}
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": "0.1.0",
	})
}

// registerFrontend は SPA のビルド成果物を配信し、未知のパスには index.html を返します。
func registerFrontend(router *gin.Engine, distDir string) {
	distDir = strings.TrimSpace(distDir)
	indexPath := filepath.Join(distDir, "index.html")
	if distDir == "" {
		router.NoRoute(notFound)
		return
	}
	if _, err := os.Stat(indexPath); err != nil {
		router.NoRoute(notFound)
		return
	}

	fileServer := http.FileServer(http.Dir(distDir))
	router.NoRoute(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, uploadsPrefix+"/") || c.Request.Method != http.MethodGet {
			notFound(c)
			return
		}

		cleanPath := path.Clean(p)
		if cleanPath == "." || cleanPath == "/" {
			c.File(indexPath)
			return
		}
		candidate := filepath.Join(distDir, filepath.FromSlash(strings.TrimPrefix(cleanPath, "/")))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.File(indexPath)
	})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "Not found"})
}
