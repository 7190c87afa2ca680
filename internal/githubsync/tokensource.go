package githubsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/wordsync/internal/model"
)

// InstallationTokenBroker はサーバー内でトークンを直接取得するための
// インターフェース。githubapp.Brokerがこれを満たす。
type InstallationTokenBroker interface {
	InstallationToken(ctx context.Context, installationID string) (*model.InstallationToken, error)
}

// BrokerTokenSource はBrokerから直接トークンを取得するTokenSource。
// サーバー内部でSync Clientを使う場合の供給元。
type BrokerTokenSource struct {
	broker         InstallationTokenBroker
	installationID string
}

// NewBrokerTokenSource はBrokerTokenSourceを生成する。
func NewBrokerTokenSource(broker InstallationTokenBroker, installationID string) *BrokerTokenSource {
	return &BrokerTokenSource{broker: broker, installationID: installationID}
}

// Token はTokenSourceを実装する。
func (s *BrokerTokenSource) Token(ctx context.Context) (*model.InstallationToken, error) {
	return s.broker.InstallationToken(ctx, s.installationID)
}

// GatewayTokenSource はSession Gatewayのトークンエンドポイントから
// トークンを取得するTokenSource。ブラウザクライアントと同じ経路であり、
// セッションCookieで認証する。
type GatewayTokenSource struct {
	endpoint     string // 例: https://api.example.com/api/github/get-token
	sessionToken string // auth_token Cookieの値
	httpClient   *http.Client
}

// NewGatewayTokenSource はGatewayTokenSourceを生成する。
func NewGatewayTokenSource(endpoint, sessionToken string, httpClient *http.Client) *GatewayTokenSource {
	return &GatewayTokenSource{
		endpoint:     endpoint,
		sessionToken: sessionToken,
		httpClient:   httpClient,
	}
}

// Token はTokenSourceを実装する。
// 401はmodel.ErrInvalidTokenとして返す（再ログインが必要）。
func (s *GatewayTokenSource) Token(ctx context.Context) (*model.InstallationToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: s.sessionToken})
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, model.ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.Token == "" {
		return nil, fmt.Errorf("empty token in response")
	}

	return &model.InstallationToken{
		Token:     tokenResp.Token,
		ExpiresIn: tokenResp.ExpiresIn,
	}, nil
}
