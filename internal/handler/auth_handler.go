// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/wordsync/internal/auth"
	"github.com/hitoshi/wordsync/internal/middleware"
	"github.com/hitoshi/wordsync/internal/model"
)

const oauthStateCookie = "oauth_state"

// コールバック失敗時にフロントエンドへ渡すエラー識別子。
const (
	callbackErrInvalidState    = "invalid_state"
	callbackErrInvalidCallback = "invalid_callback"
	callbackErrAuthFailed      = "auth_failed"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(state string) string
	InstallURL() string
	HandleInstallation(installationID string) (string, error)
	HandleAuthorizationCode(ctx context.Context, code string) (string, error)
	FreshInstallationToken(ctx context.Context, sessionToken string) (*model.InstallationToken, error)
}

// GatewayMetrics は認証ハンドラーが記録するメトリクスのインターフェース。
type GatewayMetrics interface {
	RecordSessionIssued()
	RecordTokenRequest(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL   string // コールバック後のリダイレクト先
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はGitHub App認可フロー関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	metrics GatewayMetrics
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, metrics GatewayMetrics, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		metrics: metrics,
		config:  config,
	}
}

// Login はGitHub認可フローを開始する。
// GET /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.LoginURL(state), http.StatusFound)
}

// Callback はGitHubからのコールバックを処理する。
// GET /api/auth/callback?installation_id=xxx
// GET /api/auth/callback?code=xxx&state=yyy
//
// コールバックはブラウザのトップレベル遷移で到達するため、
// 失敗時もエラー本文は返さずフロントエンドへリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// インストール直後のリダイレクト。認可コード交換は伴わない。
	if installationID := query.Get("installation_id"); installationID != "" {
		sessionToken, err := h.service.HandleInstallation(installationID)
		if err != nil {
			slog.Error("installation callback failed", slog.String("error", err.Error()))
			h.redirectWithError(w, r, callbackErrAuthFailed)
			return
		}
		h.finishLogin(w, r, sessionToken)
		return
	}

	// 認可コードフロー。state検証を先に行う。
	if code := query.Get("code"); code != "" {
		state := query.Get("state")
		stateCookie, err := r.Cookie(oauthStateCookie)
		h.clearStateCookie(w)
		if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
			slog.Warn("oauth state mismatch", slog.String("error", model.ErrStateMismatch.Error()))
			h.redirectWithError(w, r, callbackErrInvalidState)
			return
		}

		sessionToken, err := h.service.HandleAuthorizationCode(r.Context(), code)
		if errors.Is(err, model.ErrNoInstallation) {
			// Appが未インストール。インストール選択ページへ誘導する。
			http.Redirect(w, r, h.service.InstallURL(), http.StatusFound)
			return
		}
		if err != nil {
			slog.Error("authorization code callback failed", slog.String("error", err.Error()))
			h.redirectWithError(w, r, callbackErrAuthFailed)
			return
		}
		h.finishLogin(w, r, sessionToken)
		return
	}

	slog.Warn("callback without installation_id or code")
	h.redirectWithError(w, r, callbackErrInvalidCallback)
}

// GetToken はセッションに紐付いたインストールの短命アクセストークンを払い出す。
// POST /api/github/get-token
//
// トークンはレスポンス本文でのみ返し、サーバー側には保持しない。
func (h *AuthHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		h.metrics.RecordTokenRequest("unauthorized")
		writeAPIError(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	tok, err := h.service.FreshInstallationToken(r.Context(), cookie.Value)
	if errors.Is(err, model.ErrInvalidToken) {
		h.metrics.RecordTokenRequest("unauthorized")
		writeAPIError(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}
	if err != nil {
		slog.Error("failed to mint installation token", slog.String("error", err.Error()))
		h.metrics.RecordTokenRequest("upstream_fail")
		writeAPIError(w, http.StatusBadGateway, model.NewUpstreamAuthError())
		return
	}

	h.metrics.RecordTokenRequest("success")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":     tok.Token,
		"expiresIn": tok.ExpiresIn,
	})
}

// Logout はセッションCookieを破棄する。
// GET|POST /api/auth/logout
//
// セッションはステートレスなため、サーバー側で無効化する状態はない。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// finishLogin はセッションCookieを設定してフロントエンドへリダイレクトする。
func (h *AuthHandler) finishLogin(w http.ResponseWriter, r *http.Request, sessionToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.metrics.RecordSessionIssued()
	http.Redirect(w, r, h.config.FrontendURL, http.StatusFound)
}

// redirectWithError はエラー識別子付きでフロントエンドへリダイレクトする。
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.config.FrontendURL+"?error="+code, http.StatusFound)
}

// clearStateCookie はnonce Cookieを削除する。検証の成否に関わらず一度で使い捨てる。
func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeAPIError は統一フォーマットのエラーレスポンスを書き出す。
func writeAPIError(w http.ResponseWriter, status int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  apiErr.Message,
		"code":   apiErr.Code,
		"action": apiErr.Action,
	})
}
