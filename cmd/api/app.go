package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/agent-roster/internal/auth"
	"github.com/yourusername/agent-roster/internal/config"
	"github.com/yourusername/agent-roster/internal/jobs"
	"github.com/yourusername/agent-roster/internal/observability"
	"github.com/yourusername/agent-roster/internal/roster"
	"github.com/yourusername/agent-roster/internal/storage"
)

const uploadsPrefix = "/uploads"

// app は起動したサーバーの依存関係と終了処理をまとめます。
type app struct {
	router  http.Handler
	closers []func() error
	logger  *slog.Logger
}

// newApp は設定に従ってストア・サービス・ルーターを組み立てます。
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	// cors.New は空のオリジン一覧で panic するため、組み立て前に検証する
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{logger: logger}
	deps, err := a.buildDeps(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = newRouter(cfg, deps)
	return a, nil
}

func (a *app) buildDeps(ctx context.Context, cfg *config.Config) (*routerDeps, error) {
	logger := a.logger

	credentials, err := a.credentialStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, a.revoker(cfg))
	if err != nil {
		return nil, err
	}
	authService := auth.NewService(credentials, auth.NewBcryptHasher(cfg.BcryptCost), tokens, logger)

	files, err := storage.NewLocal(cfg.UploadDir, uploadsPrefix, cfg.MaxUploadSize)
	if err != nil {
		return nil, err
	}
	rosterService, err := roster.NewService(cfg.DataDir, roster.Options{
		Files:            files,
		MaxDocumentPages: cfg.MaxDocPages,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	var jobManager *jobs.Manager
	if cfg.QueueRedisURL != "" {
		var jobRedis *redis.Client
		jobManager, jobRedis, err = setupJobs(cfg, rosterService, logger)
		if err != nil {
			return nil, fmt.Errorf("setup jobs: %w", err)
		}
		a.closers = append(a.closers, jobRedis.Close)
		jobManager.StartWorkers()
		a.closers = append(a.closers, func() error { return jobManager.Shutdown(context.Background()) })
	} else {
		logger.Info("QUEUE_REDIS_URL not set, async export disabled")
	}

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics("agent_roster")
	deps := &routerDeps{
		logger:        logger,
		metrics:       metrics,
		sessionSecret: secret,
		tokens:        tokens,
		authManager: auth.NewManager(cfg, authService, auth.ManagerOptions{
			Uploader: files,
			Events:   metrics,
			Logger:   logger,
		}),
	}

	handlerOpts := roster.HandlerOptions{Logger: logger}
	if jobManager != nil {
		// nil の *jobs.Manager をインターフェースに入れない
		handlerOpts.Scheduler = jobManager
		deps.jobs = jobManager
	}
	deps.roster = roster.NewHandler(rosterService, handlerOpts)
	return deps, nil
}

// credentialStore は DATABASE_URL があれば PostgreSQL、無ければワークブックを使います。
func (a *app) credentialStore(ctx context.Context, cfg *config.Config) (auth.CredentialStore, error) {
	if cfg.DatabaseURL == "" {
		return auth.NewWorkbookStore(cfg.DataDir)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store, err := auth.NewPostgresStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("create postgres user store: %w", err)
	}
	a.logger.Info("using postgres credential store")
	return store, nil
}

func (a *app) revoker(cfg *config.Config) auth.Revoker {
	if cfg.RevocationRedisURL == "" {
		return auth.NewMemoryRevoker()
	}
	opt, err := redis.ParseURL(cfg.RevocationRedisURL)
	if err != nil {
		a.logger.Warn("invalid REVOCATION_REDIS_URL, using in-memory revocation", "error", err)
		return auth.NewMemoryRevoker()
	}
	rdb := redis.NewClient(opt)
	a.closers = append(a.closers, rdb.Close)
	return auth.NewRedisRevoker(rdb)
}

// Close は登録された終了処理を逆順に実行します。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// sessionSecret は CSRF セッションの署名鍵を返します。開発時に未設定ならプロセスごとの乱数を使います。
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	logger.Warn("SESSION_SECRET not set, using a random per-process secret")
	return secret, nil
}
