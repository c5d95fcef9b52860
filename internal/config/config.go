// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// MinJWTSecretLength は JWT 署名鍵に要求する最小バイト数です。
const MinJWTSecretLength = 32

// ErrMissingJWTSecret は JWT_SECRET が未設定であることを表します。
var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

// ErrNoAllowedOrigins は CORS_ALLOWED_ORIGINS に有効なオリジンが無いことを表します。
var ErrNoAllowedOrigins = errors.New("CORS_ALLOWED_ORIGINS must list at least one origin")

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定
	JWTSecret     string        // セッショントークン署名用の秘密鍵
	SessionSecret string        // CSRF セッションクッキー署名用の秘密鍵
	TokenTTL      time.Duration // セッショントークンの有効期間
	BcryptCost    int           // パスワードハッシュのコスト
	CookieSecure  bool          // auth_token クッキーに Secure を常に付与するか

	// サーバー設定
	Port            string // APIサーバーのポート番号
	GinMode         string // Ginの実行モード (debug, release, test)
	FrontendDistDir string // SPA のビルド成果物ディレクトリ（空なら配信しない）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データ設定
	DataDir       string // ワークブックの保存ディレクトリ
	UploadDir     string // アップロードファイルの保存ディレクトリ
	ExportDir     string // エクスポート成果物の保存ディレクトリ
	MaxUploadSize int64  // 単一アップロードの最大サイズ（バイト）
	DatabaseURL   string // 指定時はユーザー情報を PostgreSQL に保存
	MaxDocPages   int    // 契約書 PDF のページ数上限

	// ジョブ/キュー設定
	QueueRedisURL      string // Asynq用Redis接続URL（空ならエクスポートは同期のみ）
	JobExpireMinutes   int    // ジョブの有効期限（分）
	RevocationRedisURL string // ログアウト済みトークンの失効リスト用Redis（空ならメモリ）

	// ログ/トレーシング設定
	LogLevel     string // debug, info, warn, error
	OTLPEndpoint string // OTLP gRPC エンドポイント（空なら無効）
	OTLPInsecure bool   // TLS なしで接続するか
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	dataDir := getEnv("DATA_DIR", "./data")
	config := &Config{
		// 認証設定
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		TokenTTL:      time.Duration(getEnvAsInt("AUTH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		BcryptCost:    getEnvAsInt("BCRYPT_COST", 10),
		CookieSecure:  getEnvAsBool("COOKIE_SECURE", false),

		// サーバー設定
		Port:            getEnv("PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		FrontendDistDir: getEnv("FRONTEND_DIST_DIR", ""),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// データ設定
		DataDir:       dataDir,
		UploadDir:     getEnv("UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
		ExportDir:     getEnv("EXPORT_DIR", filepath.Join(dataDir, "exports")),
		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 5*1024*1024), // 5MB
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MaxDocPages:   getEnvAsInt("MAX_DOCUMENT_PAGES", 50),

		// ジョブ/キュー設定
		QueueRedisURL:      getEnv("QUEUE_REDIS_URL", ""),
		JobExpireMinutes:   getEnvAsInt("JOB_EXPIRE_MINUTES", 30),
		RevocationRedisURL: getEnv("REVOCATION_REDIS_URL", ""),

		// ログ/トレーシング設定
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// 署名鍵はモードに関係なく必須。既定値には決してフォールバックしない
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL_HOURS must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if len(c.AllowedOrigins()) == 0 {
		return ErrNoAllowedOrigins
	}

	if c.IsRelease() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}

	return nil
}

// IsRelease は本番モードかどうかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// JobTTL はジョブ記録の保持期間を返します。
func (c *Config) JobTTL() time.Duration {
	if c.JobExpireMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.JobExpireMinutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
