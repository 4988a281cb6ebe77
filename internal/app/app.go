// Package app はアプリケーションの初期化、依存関係のワイヤリング、起動モードの
// 切り替えを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/indexman/internal/auth"
	"github.com/hitoshi/indexman/internal/config"
	"github.com/hitoshi/indexman/internal/database"
	"github.com/hitoshi/indexman/internal/handler"
	"github.com/hitoshi/indexman/internal/indexer"
	"github.com/hitoshi/indexman/internal/integration"
	"github.com/hitoshi/indexman/internal/logger"
	"github.com/hitoshi/indexman/internal/metrics"
	"github.com/hitoshi/indexman/internal/middleware"
	"github.com/hitoshi/indexman/internal/repository"
	"github.com/hitoshi/indexman/internal/security"
	"github.com/hitoshi/indexman/internal/sitemap"
	"github.com/hitoshi/indexman/internal/website"
	"github.com/hitoshi/indexman/internal/worker/cleanup"
	"github.com/hitoshi/indexman/internal/worker/schedule"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はドメインサービス一式をまとめた内部構造体。
// serveモードとworkerモードで同じワイヤリングを共有する。
type services struct {
	userRepo        repository.UserRepository
	identRepo       repository.IdentityRepository
	sessionRepo     repository.SessionRepository
	websiteRepo     repository.WebsiteRepository
	integrationRepo repository.IntegrationRepository
	submissionRepo  repository.SubmissionRepository

	collector   *metrics.Collector
	registry    *prometheus.Registry
	dispatcher  *indexer.Dispatcher
	integration *integration.Service
	website     *website.Service
	sitemap     *sitemap.Service
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// buildRepositories は設定で選択されたストレージバックエンドの
// リポジトリ一式を構築する。返り値のcloseはバックエンドの後始末を行う。
func buildRepositories(cfg *config.Config) (*services, func(), error) {
	if cfg.StorageBackend == config.StorageMemory {
		store := repository.NewMemoryStore()
		slog.Warn("using in-memory storage: data will be lost on shutdown")
		return &services{
			userRepo:        store.Users(),
			identRepo:       store.Identities(),
			sessionRepo:     store.Sessions(),
			websiteRepo:     store.Websites(),
			integrationRepo: store.Integrations(),
			submissionRepo:  store.Submissions(),
		}, func() {}, nil
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return &services{
		userRepo:        repository.NewPostgresUserRepo(db),
		identRepo:       repository.NewPostgresIdentityRepo(db),
		sessionRepo:     repository.NewPostgresSessionRepo(db),
		websiteRepo:     repository.NewPostgresWebsiteRepo(db),
		integrationRepo: repository.NewPostgresIntegrationRepo(db),
		submissionRepo:  repository.NewPostgresSubmissionRepo(db),
	}, func() { db.Close() }, nil
}

// buildServices はリポジトリ一式から全ドメインサービスをワイヤリングする。
func buildServices(cfg *config.Config, s *services) *services {
	s.registry = prometheus.NewRegistry()
	s.collector = metrics.NewCollector(s.registry)

	ssrfGuard := security.NewSSRFGuard()

	// インデックス送信クライアント
	submitClient := &http.Client{Timeout: cfg.SubmitTimeout}
	googleClient := indexer.NewGoogleClient(submitClient, slog.Default())
	indexNowClient := indexer.NewIndexNowClient(submitClient, slog.Default())

	s.dispatcher = indexer.NewDispatcher(
		s.integrationRepo, s.websiteRepo, s.submissionRepo,
		googleClient, indexNowClient, s.collector,
		indexer.DispatcherConfig{MaxURLsPerRequest: cfg.SubmitMaxURLs},
	)

	// プロバイダ接続（キーファイル検証はSSRF防止付きクライアントで行う）
	verifier := integration.NewKeyFileVerifier(
		ssrfGuard.NewSafeClient(cfg.VerifyTimeout), cfg.VerifyMaxSize,
	)
	s.integration = integration.NewService(
		s.websiteRepo, s.integrationRepo, verifier, googleClient,
	)

	s.website = website.NewService(
		s.websiteRepo, s.integrationRepo, s.submissionRepo, slog.Default(),
	)

	// サイトマップ（取得・発見もSSRF防止付きクライアントで行う）
	sitemapClient := ssrfGuard.NewSafeClient(cfg.SitemapTimeout)
	s.sitemap = sitemap.NewService(
		s.websiteRepo,
		sitemap.NewFetcher(sitemapClient, cfg.SitemapMaxSize),
		sitemap.NewDetector(sitemapClient),
		s.dispatcher,
		s.collector,
		slog.Default(),
		sitemap.ServiceConfig{
			MaxDepth: cfg.SitemapMaxDepth,
			MaxURLs:  cfg.SitemapMaxURLs,
		},
	)

	return s
}

// runServe はAPIサーバーモードで起動する。
// ストレージバックエンドを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	repos, closeStore, err := buildRepositories(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svcs := buildServices(cfg, repos)

	// 認証サービス
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, svcs.userRepo, svcs.identRepo, svcs.sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// レート制限（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SubmissionRate = rate.Limit(float64(cfg.RateLimitSubmit) / 60.0)
	rateLimiterCfg.SubmissionBurst = cfg.RateLimitSubmit
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     svcs.sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		WebsiteService:     handler.NewWebsiteServiceAdapter(svcs.website, svcs.userRepo),
		IntegrationService: svcs.integration,
		SubmissionService:  handler.NewSubmissionServiceAdapter(svcs.dispatcher, svcs.userRepo, svcs.websiteRepo),
		SitemapService:     handler.NewSitemapServiceAdapter(svcs.sitemap, svcs.userRepo),
		UserService:        authService,

		MetricsHandler: metrics.Handler(svcs.registry),
	}

	router := handler.NewRouter(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// サイトマップスケジューラ、接続再検証ジョブ、クリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	repos, closeStore, err := buildRepositories(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svcs := buildServices(cfg, repos)

	scheduler := schedule.NewScheduler(
		svcs.websiteRepo, svcs.userRepo, svcs.sitemap,
		svcs.collector, slog.Default(), cfg.SubmitMaxConcurrent,
	)
	reverifyJob := schedule.NewReverifyJob(
		svcs.integrationRepo, svcs.integration, slog.Default(),
	)
	cleanupJob := cleanup.NewCleanupJob(
		svcs.sessionRepo, svcs.submissionRepo, slog.Default(),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("schedule_interval", cfg.ScheduleInterval),
		slog.Duration("reverify_interval", cfg.ReverifyInterval),
		slog.Int("max_concurrent", cfg.SubmitMaxConcurrent),
	)

	// 再検証ジョブとクリーンアップジョブをバックグラウンドで起動
	go reverifyJob.Start(ctx, cfg.ReverifyInterval)
	go cleanupJob.Start(ctx, 24*time.Hour)

	// サイトマップスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ScheduleInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageBackend == config.StorageMemory {
		slog.Info("in-memory storage has no migrations, nothing to do")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
