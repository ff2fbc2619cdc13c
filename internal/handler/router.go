package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookpanda/openexam/internal/metrics"
	"github.com/bookpanda/openexam/internal/middleware"
	"github.com/bookpanda/openexam/internal/response"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	TokenValidator     middleware.TokenValidator
	Metrics            metrics.MetricsCollector
	CORSAllowedOrigins []string
	HSTS               bool
	RateLimiter        *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// ファイル
	FileService FileServiceInterface

	// 運用
	Identity       ConnectivityReporter
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → Metrics → SecurityHeaders → CORS → [Auth → RateLimit(General)]
//
// 認証ルート（/user/google*、/user/validate-token）と運用ルートは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.WriteMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.WriteMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.TokenValidator, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	sheetHandler := NewCheatsheetHandler(deps.FileService)

	// --- 認証不要のルート ---

	r.Get("/health", Health(deps.Identity))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/user", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google", authHandler.GoogleLogin)
		r.Post("/google/callback", authHandler.GoogleCallback)
		r.Post("/validate-token", response.Handle(authHandler.ValidateToken))

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.TokenValidator, deps.Metrics))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/me", response.Handle(userHandler.Me))
			r.Get("/users", response.Handle(userHandler.ListUsers))
			r.Get("/{id}", response.Handle(userHandler.GetUser))
		})
	})

	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Route("/cheatsheet", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenValidator, deps.Metrics))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/presigned/upload", response.Handle(sheetHandler.PresignedUpload))
		r.Get("/presigned", response.Handle(sheetHandler.PresignedGet))

		r.Route("/files", func(r chi.Router) {
			r.Get("/", response.Handle(sheetHandler.ListFiles))
			r.Delete("/", response.Handle(sheetHandler.RemoveFile))
			r.Get("/{fileId}", response.Handle(sheetHandler.GetFile))
		})

		r.Post("/share", response.Handle(sheetHandler.Share))
		r.Post("/unshare", response.Handle(sheetHandler.Unshare))

		// PDF結合は専用のレート制限を追加
		r.With(deps.RateLimiter.GenerateMiddleware()).Post("/generate", response.Handle(sheetHandler.Generate))
	})

	return r
}
