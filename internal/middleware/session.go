package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hitoshi/wordsync/internal/model"
	"github.com/hitoshi/wordsync/internal/token"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "auth_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// installationIDContextKey はリクエストコンテキストに
// インストール識別子を格納するためのキー。
var installationIDContextKey = contextKey("installation_id")

// SessionVerifier はセッショントークンの検証に必要なインターフェース。
// token.Codecの部分集合として定義する。
type SessionVerifier interface {
	Verify(tokenString string) (*token.SessionClaims, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 署名と有効期限を検証するミドルウェアを返す。
// 検証済みインストール識別子をリクエストコンテキストに注入する。
// 失敗理由は区別せず、未認証リクエストには一律401を返す。
func NewSessionMiddleware(verifier SessionVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeUnauthorized(w)
				return
			}

			claims, err := verifier.Verify(cookie.Value)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), installationIDContextKey, claims.InstallationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized は統一フォーマットの401レスポンスを書き出す。
func writeUnauthorized(w http.ResponseWriter) {
	apiErr := model.NewNotAuthenticatedError()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  apiErr.Message,
		"code":   apiErr.Code,
		"action": apiErr.Action,
	})
}

// InstallationIDFromContext はリクエストコンテキストから
// インストール識別子を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func InstallationIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(installationIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("installation ID not found in context")
	}
	return id, nil
}

// ContextWithInstallationID はコンテキストにインストール識別子を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithInstallationID(ctx context.Context, installationID string) context.Context {
	return context.WithValue(ctx, installationIDContextKey, installationID)
}
