package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// GitHub App
	GitHubAppID         string
	GitHubAppPrivateKey string // PEM形式のRSA秘密鍵
	GitHubAppName       string // インストール選択ページURLに使うApp公開名

	// OAuth（認可コードフロー。未設定の場合installation_idコールバックのみ受け付ける）
	GitHubClientID     string
	GitHubClientSecret string
	OAuthRedirectURL   string

	// GitHub API（テストでのみ上書きする）
	GitHubAPIBaseURL   string
	GitHubAuthorizeURL string
	GitHubTokenURL     string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Upstream
	UpstreamTimeout time.Duration

	// Rate Limit
	RateLimitToken int

	// Sync（syncサブコマンド専用。serveモードでは参照しない）
	SyncRepoOwner      string
	SyncRepoName       string
	SyncBranch         string
	SyncFilePath       string
	SyncLocalFile      string
	SyncInstallationID string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool

	// CORS / Frontend
	FrontendURL string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.GitHubAppID = os.Getenv("GITHUB_APP_ID")
	if cfg.GitHubAppID == "" {
		missing = append(missing, "GITHUB_APP_ID")
	}

	cfg.GitHubAppPrivateKey = os.Getenv("GITHUB_APP_PRIVATE_KEY")
	if cfg.GitHubAppPrivateKey == "" {
		missing = append(missing, "GITHUB_APP_PRIVATE_KEY")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.FrontendURL = os.Getenv("FRONTEND_URL")
	if cfg.FrontendURL == "" {
		missing = append(missing, "FRONTEND_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GitHubAppName = getEnvString("GITHUB_APP_NAME", "wordsync")
	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	cfg.OAuthRedirectURL = getEnvString("OAUTH_REDIRECT_URL", cfg.BaseURL+"/api/auth/callback")
	cfg.GitHubAPIBaseURL = getEnvString("GITHUB_API_BASE_URL", "https://api.github.com")
	cfg.GitHubAuthorizeURL = getEnvString("GITHUB_AUTHORIZE_URL", "https://github.com/login/oauth/authorize")
	cfg.GitHubTokenURL = getEnvString("GITHUB_TOKEN_URL", "https://github.com/login/oauth/access_token")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 30*24*3600)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second)
	cfg.RateLimitToken = getEnvInt("RATE_LIMIT_TOKEN", 60)
	cfg.SyncRepoOwner = os.Getenv("SYNC_REPO_OWNER")
	cfg.SyncRepoName = os.Getenv("SYNC_REPO_NAME")
	cfg.SyncBranch = getEnvString("SYNC_BRANCH", "main")
	cfg.SyncFilePath = getEnvString("SYNC_FILE_PATH", "dictionary.txt")
	cfg.SyncLocalFile = getEnvString("SYNC_LOCAL_FILE", "dictionary.txt")
	cfg.SyncInstallationID = os.Getenv("SYNC_INSTALLATION_ID")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

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
