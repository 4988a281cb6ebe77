// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージバックエンドの種別。起動時に1回だけ選択される。
const (
	// StoragePostgres はPostgreSQLバックエンド（本番用）。
	StoragePostgres = "postgres"
	// StorageMemory はインメモリバックエンド。DBなしのローカル開発用で、
	// プロセス終了でデータは消える。
	StorageMemory = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	DatabaseURL    string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Verify（キーファイル検証）
	VerifyTimeout time.Duration
	VerifyMaxSize int64

	// Sitemap
	SitemapTimeout  time.Duration
	SitemapMaxSize  int64
	SitemapMaxURLs  int
	SitemapMaxDepth int

	// Submit（インデックス送信）
	SubmitTimeout       time.Duration
	SubmitMaxURLs       int
	SubmitMaxConcurrent int

	// Worker
	ScheduleInterval time.Duration
	ReverifyInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitSubmit  int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageBackend = getEnvString("STORAGE_BACKEND", StoragePostgres)
	if cfg.StorageBackend != StoragePostgres && cfg.StorageBackend != StorageMemory {
		return nil, fmt.Errorf("invalid STORAGE_BACKEND: %q (must be %q or %q)",
			cfg.StorageBackend, StoragePostgres, StorageMemory)
	}

	// Required fields
	var missing []string

	// DATABASE_URLはpostgresバックエンドでのみ必須
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageBackend == StoragePostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.VerifyTimeout = getEnvDuration("VERIFY_TIMEOUT", 10*time.Second)
	cfg.VerifyMaxSize = getEnvInt64("VERIFY_MAX_SIZE", 65536)
	cfg.SitemapTimeout = getEnvDuration("SITEMAP_TIMEOUT", 15*time.Second)
	cfg.SitemapMaxSize = getEnvInt64("SITEMAP_MAX_SIZE", 10485760)
	cfg.SitemapMaxURLs = getEnvInt("SITEMAP_MAX_URLS", 50000)
	cfg.SitemapMaxDepth = getEnvInt("SITEMAP_MAX_DEPTH", 3)
	cfg.SubmitTimeout = getEnvDuration("SUBMIT_TIMEOUT", 30*time.Second)
	cfg.SubmitMaxURLs = getEnvInt("SUBMIT_MAX_URLS", 100)
	cfg.SubmitMaxConcurrent = getEnvInt("SUBMIT_MAX_CONCURRENT", 5)
	cfg.ScheduleInterval = getEnvDuration("SCHEDULE_INTERVAL", 5*time.Minute)
	cfg.ReverifyInterval = getEnvDuration("REVERIFY_INTERVAL", 12*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSubmit = getEnvInt("RATE_LIMIT_SUBMIT", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
