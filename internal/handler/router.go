package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/wordsync/internal/metrics"
	"github.com/hitoshi/wordsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionVerifier   middleware.SessionVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// メトリクス
	Metrics  GatewayMetrics
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → SecurityHeadersMiddleware → LoggingMiddleware → RecoveryMiddleware
//
// CORSはプリフライトに認証前で応答する必要があるため最上位に置く。
// トークン払い出しエンドポイントのみRateLimit → Sessionを追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Metrics, deps.AuthConfig)

	// --- 認証不要のルート ---

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)

		// ログアウトはブラウザ遷移とfetchの両方から呼ばれる
		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)
	})

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheusスクレイプ
	r.Get("/metrics", metrics.Handler(deps.Gatherer).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RateLimit → Session
	// レート制限はクライアントアドレス単位のため、未認証リクエストにも効かせる
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.TokenEndpointMiddleware())
		r.Use(middleware.NewSessionMiddleware(deps.SessionVerifier))

		r.Post("/api/github/get-token", authHandler.GetToken)
	})

	return r
}
