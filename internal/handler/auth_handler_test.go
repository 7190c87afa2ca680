package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/wordsync/internal/middleware"
	"github.com/hitoshi/wordsync/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginURLFn           func(state string) string
	installURLFn         func() string
	handleInstallationFn func(installationID string) (string, error)
	handleAuthCodeFn     func(ctx context.Context, code string) (string, error)
	freshInstallTokenFn  func(ctx context.Context, sessionToken string) (*model.InstallationToken, error)
}

func (m *mockAuthService) LoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (m *mockAuthService) InstallURL() string {
	if m.installURLFn != nil {
		return m.installURLFn()
	}
	return "https://github.com/apps/wordsync/installations/new"
}

func (m *mockAuthService) HandleInstallation(installationID string) (string, error) {
	if m.handleInstallationFn != nil {
		return m.handleInstallationFn(installationID)
	}
	return "", nil
}

func (m *mockAuthService) HandleAuthorizationCode(ctx context.Context, code string) (string, error) {
	if m.handleAuthCodeFn != nil {
		return m.handleAuthCodeFn(ctx, code)
	}
	return "", nil
}

func (m *mockAuthService) FreshInstallationToken(ctx context.Context, sessionToken string) (*model.InstallationToken, error) {
	if m.freshInstallTokenFn != nil {
		return m.freshInstallTokenFn(ctx, sessionToken)
	}
	return nil, nil
}

// recordingMetrics はハンドラーが記録したメトリクスを捕捉する。
type recordingMetrics struct {
	sessionsIssued int
	tokenOutcomes  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{tokenOutcomes: map[string]int{}}
}

func (m *recordingMetrics) RecordSessionIssued() {
	m.sessionsIssued++
}

func (m *recordingMetrics) RecordTokenRequest(outcome string) {
	m.tokenOutcomes[outcome]++
}

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		FrontendURL:   "http://localhost:3000",
		CookieSecure:  false,
		SessionMaxAge: 30 * 24 * 3600,
	}
}

func findCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Login_RedirectsWithStateCookie(t *testing.T) {
	var capturedState string
	svc := &mockAuthService{
		loginURLFn: func(state string) string {
			capturedState = state
			return "https://github.com/login/oauth/authorize?state=" + state
		},
	}
	h := NewAuthHandler(svc, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "github.com/login/oauth/authorize") {
		t.Errorf("Location = %q, should contain authorize URL", location)
	}

	cookie := findCookie(t, resp, oauthStateCookie)
	if cookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if cookie.Value != capturedState {
		t.Errorf("state cookie = %q, want %q", cookie.Value, capturedState)
	}
	if cookie.MaxAge != 600 {
		t.Errorf("state cookie MaxAge = %d, want 600", cookie.MaxAge)
	}
	if !cookie.HttpOnly {
		t.Error("state cookie should be HttpOnly")
	}
}

func TestAuthHandler_Callback_InstallationID_SetsCookieAndRedirects(t *testing.T) {
	var capturedID string
	svc := &mockAuthService{
		handleInstallationFn: func(installationID string) (string, error) {
			capturedID = installationID
			return "session-jwt-for-42", nil
		},
	}
	m := newRecordingMetrics()
	h := NewAuthHandler(svc, m, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?installation_id=42&setup_action=install", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if capturedID != "42" {
		t.Errorf("installation ID = %q, want %q", capturedID, "42")
	}

	location := resp.Header.Get("Location")
	if location != "http://localhost:3000" {
		t.Errorf("Location = %q, want frontend URL", location)
	}

	cookie := findCookie(t, resp, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected auth_token cookie")
	}
	if cookie.Value != "session-jwt-for-42" {
		t.Errorf("cookie value = %q, want session token", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if cookie.MaxAge != 30*24*3600 {
		t.Errorf("cookie MaxAge = %d, want %d", cookie.MaxAge, 30*24*3600)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite = %v, want Lax", cookie.SameSite)
	}

	if m.sessionsIssued != 1 {
		t.Errorf("sessionsIssued = %d, want 1", m.sessionsIssued)
	}
}

func TestAuthHandler_Callback_Code_Success(t *testing.T) {
	svc := &mockAuthService{
		handleAuthCodeFn: func(ctx context.Context, code string) (string, error) {
			if code != "test-code" {
				t.Errorf("code = %q, want %q", code, "test-code")
			}
			return "session-jwt-via-code", nil
		},
	}
	h := NewAuthHandler(svc, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if location := resp.Header.Get("Location"); location != "http://localhost:3000" {
		t.Errorf("Location = %q, want frontend URL", location)
	}

	session := findCookie(t, resp, middleware.SessionCookieName)
	if session == nil || session.Value != "session-jwt-via-code" {
		t.Errorf("session cookie = %v, want session-jwt-via-code", session)
	}

	// nonce Cookieは使い捨てられること
	state := findCookie(t, resp, oauthStateCookie)
	if state == nil || state.MaxAge >= 0 {
		t.Error("oauth_state cookie should be cleared")
	}
}

func TestAuthHandler_Callback_StateMismatch_RedirectsWithError(t *testing.T) {
	called := false
	svc := &mockAuthService{
		handleAuthCodeFn: func(ctx context.Context, code string) (string, error) {
			called = true
			return "should-not-be-issued", nil
		},
	}
	h := NewAuthHandler(svc, newRecordingMetrics(), testAuthConfig())

	tests := []struct {
		name        string
		stateCookie string
		hasCookie   bool
	}{
		{"mismatched state", "other-state", true},
		{"missing state cookie", "", false},
		{"empty state cookie", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=test-code&state=test-state", nil)
			if tt.hasCookie {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.stateCookie})
			}
			w := httptest.NewRecorder()

			h.Callback(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusFound {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
			}
			if location := resp.Header.Get("Location"); location != "http://localhost:3000?error=invalid_state" {
				t.Errorf("Location = %q, want error redirect", location)
			}
			if session := findCookie(t, resp, middleware.SessionCookieName); session != nil {
				t.Error("session cookie should not be set on state mismatch")
			}
		})
	}

	if called {
		t.Error("HandleAuthorizationCode should not be called on state mismatch")
	}
}

func TestAuthHandler_Callback_NoInstallation_RedirectsToInstallPicker(t *testing.T) {
	svc := &mockAuthService{
		handleAuthCodeFn: func(ctx context.Context, code string) (string, error) {
			return "", model.ErrNoInstallation
		},
	}
	h := NewAuthHandler(svc, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=test-code&state=s", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	location := resp.Header.Get("Location")
	if location != "https://github.com/apps/wordsync/installations/new" {
		t.Errorf("Location = %q, want install picker URL", location)
	}
	if session := findCookie(t, resp, middleware.SessionCookieName); session != nil {
		t.Error("session cookie should not be set without installation")
	}
}

func TestAuthHandler_Callback_ExchangeFailure_RedirectsWithError(t *testing.T) {
	svc := &mockAuthService{
		handleAuthCodeFn: func(ctx context.Context, code string) (string, error) {
			return "", errors.New("exchange failed")
		},
	}
	h := NewAuthHandler(svc, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=bad-code&state=s", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	location := w.Result().Header.Get("Location")
	if location != "http://localhost:3000?error=auth_failed" {
		t.Errorf("Location = %q, want auth_failed redirect", location)
	}
}

func TestAuthHandler_Callback_MissingParams_RedirectsWithError(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback", nil)
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if location := resp.Header.Get("Location"); location != "http://localhost:3000?error=invalid_callback" {
		t.Errorf("Location = %q, want invalid_callback redirect", location)
	}
}

func TestAuthHandler_GetToken_NoCookie_ReturnsUnauthorized(t *testing.T) {
	m := newRecordingMetrics()
	h := NewAuthHandler(&mockAuthService{}, m, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/github/get-token", nil)
	w := httptest.NewRecorder()

	h.GetToken(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != model.ErrCodeNotAuthenticated {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeNotAuthenticated)
	}
	if m.tokenOutcomes["unauthorized"] != 1 {
		t.Errorf("unauthorized outcome count = %d, want 1", m.tokenOutcomes["unauthorized"])
	}
}

func TestAuthHandler_GetToken_InvalidSession_ReturnsUnauthorized(t *testing.T) {
	svc := &mockAuthService{
		freshInstallTokenFn: func(ctx context.Context, sessionToken string) (*model.InstallationToken, error) {
			return nil, model.ErrInvalidToken
		},
	}
	h := NewAuthHandler(svc, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/github/get-token", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "garbage"})
	w := httptest.NewRecorder()

	h.GetToken(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_GetToken_Success_ReturnsTokenJSON(t *testing.T) {
	svc := &mockAuthService{
		freshInstallTokenFn: func(ctx context.Context, sessionToken string) (*model.InstallationToken, error) {
			if sessionToken != "valid-session" {
				t.Errorf("sessionToken = %q, want %q", sessionToken, "valid-session")
			}
			return &model.InstallationToken{Token: "ghs_abc123", ExpiresIn: 3600}, nil
		},
	}
	m := newRecordingMetrics()
	h := NewAuthHandler(svc, m, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/github/get-token", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	h.GetToken(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Token != "ghs_abc123" {
		t.Errorf("token = %q, want %q", body.Token, "ghs_abc123")
	}
	if body.ExpiresIn != 3600 {
		t.Errorf("expiresIn = %d, want 3600", body.ExpiresIn)
	}
	if m.tokenOutcomes["success"] != 1 {
		t.Errorf("success outcome count = %d, want 1", m.tokenOutcomes["success"])
	}
}

func TestAuthHandler_GetToken_UpstreamFailure_ReturnsBadGateway(t *testing.T) {
	svc := &mockAuthService{
		freshInstallTokenFn: func(ctx context.Context, sessionToken string) (*model.InstallationToken, error) {
			return nil, model.ErrUpstreamAuth
		},
	}
	m := newRecordingMetrics()
	h := NewAuthHandler(svc, m, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/github/get-token", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	h.GetToken(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != model.ErrCodeUpstreamAuth {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeUpstreamAuth)
	}
	if m.tokenOutcomes["upstream_fail"] != 1 {
		t.Errorf("upstream_fail outcome count = %d, want 1", m.tokenOutcomes["upstream_fail"])
	}
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newRecordingMetrics(), testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "some-session"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookie := findCookie(t, resp, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected auth_token cookie in response")
	}
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Errorf("cookie should be cleared, got value=%q maxAge=%d", cookie.Value, cookie.MaxAge)
	}

	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body["success"] {
		t.Error("expected success=true")
	}
}
