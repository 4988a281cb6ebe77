package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/indexman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ウェブサイト
	WebsiteService WebsiteServiceInterface

	// プロバイダ接続
	IntegrationService IntegrationServiceInterface

	// URL送信
	SubmissionService SubmissionServiceInterface

	// サイトマップ
	SitemapService SitemapServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// Prometheusスクレイプ用ハンドラー（nilの場合は/metricsを公開しない）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → CSRF → Session → RateLimit(General)
//
// 認証ルート（/auth/*）とヘルスチェックはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	websiteHandler := NewWebsiteHandler(deps.WebsiteService)
	integrationHandler := NewIntegrationHandler(deps.IntegrationService)
	submissionHandler := NewSubmissionHandler(deps.SubmissionService)
	sitemapHandler := NewSitemapHandler(deps.SitemapService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ウェブサイト管理
		r.Route("/api/websites", func(r chi.Router) {
			r.Get("/", websiteHandler.ListWebsites)
			r.Post("/", websiteHandler.CreateWebsite)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", websiteHandler.GetWebsite)
				r.Delete("/", websiteHandler.DeleteWebsite)

				// プロバイダ接続管理
				r.Get("/integrations", integrationHandler.ListStatus)
				r.Patch("/google-credentials", integrationHandler.SetGoogleCredential)
				r.Post("/generate-bing-key", integrationHandler.GenerateBingKey)
				r.Patch("/bing-key", integrationHandler.SetBingKey)
				r.Post("/verify-bing-key", integrationHandler.VerifyBingKey)
				r.Delete("/integrations/{provider}", integrationHandler.Disconnect)

				// URL送信（送信専用レート制限を追加）
				r.With(deps.RateLimiter.SubmissionMiddleware()).
					Post("/submit-urls", submissionHandler.SubmitURLs)

				// サイトマップ
				r.Post("/fetch-sitemap", sitemapHandler.FetchSitemap)
				r.Get("/sitemap-urls", sitemapHandler.ListSitemapURLs)
				r.With(deps.RateLimiter.SubmissionMiddleware()).
					Post("/submit-sitemap-urls", sitemapHandler.SubmitSitemapURLs)
				r.Patch("/sitemap-schedule", sitemapHandler.UpdateSchedule)
			})
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
