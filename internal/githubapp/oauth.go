package githubapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/wordsync/internal/model"
)

const (
	defaultAuthorizeURL     = "https://github.com/login/oauth/authorize"
	defaultOAuthTokenURL    = "https://github.com/login/oauth/access_token"
	defaultInstallURLFormat = "https://github.com/apps/%s/installations/new"
)

// OAuthConfig はGitHub OAuth認可コードフローの設定。
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// OAuthClient はGitHubのOAuth認可コードフローとインストール列挙を提供する。
type OAuthClient struct {
	config     OAuthConfig
	httpClient *http.Client
}

// NewOAuthClient はOAuthClientを生成する。
func NewOAuthClient(config OAuthConfig, httpClient *http.Client) *OAuthClient {
	if config.AuthorizeURL == "" {
		config.AuthorizeURL = defaultAuthorizeURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultOAuthTokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	return &OAuthClient{config: config, httpClient: httpClient}
}

// AuthorizeURL はGitHubの認可URLを生成する。
// stateにはCSRF対策のnonceを渡す。
func (c *OAuthClient) AuthorizeURL(state string) string {
	params := url.Values{
		"client_id":    {c.config.ClientID},
		"redirect_uri": {c.config.RedirectURL},
		"state":        {state},
	}
	return c.config.AuthorizeURL + "?" + params.Encode()
}

// InstallURL はAppのインストール選択ページのURLを返す。
func InstallURL(appSlug string) string {
	return fmt.Sprintf(defaultInstallURLFormat, appSlug)
}

// oauthTokenResponse はGitHubのトークンエンドポイントのレスポンス。
type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ExchangeCode は認可コードをユーザーアクセストークンに交換する。
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"redirect_uri":  {c.config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("code exchange returned status %d: %w",
			resp.StatusCode, model.ErrUpstreamAuth)
	}

	var tokenResp oauthTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response: %w", model.ErrUpstreamAuth)
	}

	return tokenResp.AccessToken, nil
}

// installationsResponse はユーザーのインストール列挙エンドポイントのレスポンス。
type installationsResponse struct {
	TotalCount    int                  `json:"total_count"`
	Installations []model.Installation `json:"installations"`
}

// ListInstallations はユーザーがこのAppをインストールしている
// インストールの一覧を返す。
func (c *OAuthClient) ListInstallations(ctx context.Context, userToken string) ([]model.Installation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.APIBaseURL+"/user/installations", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create installations request: %w", err)
	}
	req.Header.Set("Authorization", "token "+userToken)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("installations request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read installations response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("installations listing returned status %d: %w",
			resp.StatusCode, model.ErrUpstreamAuth)
	}

	var listResp installationsResponse
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("failed to parse installations response: %w", err)
	}

	return listResp.Installations, nil
}
