package githubapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/wordsync/internal/model"
)

const (
	// defaultAPIBaseURL はGitHub REST APIのベースURL。
	defaultAPIBaseURL = "https://api.github.com"
	// acceptHeader はGitHub REST API v3のメディアタイプ。
	acceptHeader = "application/vnd.github.v3+json"
	// defaultTokenExpiresIn はインストールトークンの既定有効期間（秒）。
	defaultTokenExpiresIn = 3600
)

// Broker はAppアサーションをインストールアクセストークンに交換する。
// ユーザー向けリクエストがGitHubリポジトリへの読み書き権限に変わるのは
// ここだけであり、呼び出し前に必ずセッショントークンの検証が済んでいること。
type Broker struct {
	signer     *AppSigner
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// NewBroker はBrokerの新しいインスタンスを生成する。
func NewBroker(signer *AppSigner, httpClient *http.Client, logger *slog.Logger) *Broker {
	return &Broker{
		signer:     signer,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultAPIBaseURL,
	}
}

// WithBaseURL はGitHub APIのベースURLを差し替えたBrokerを返す。テスト用。
func (b *Broker) WithBaseURL(baseURL string) *Broker {
	nb := *b
	nb.baseURL = baseURL
	return &nb
}

// installationTokenResponse はインストールトークンエンドポイントのレスポンス。
type installationTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// InstallationToken は新しいAppアサーションを生成し、指定インストールの
// 短命アクセストークンに交換する。
// 非成功ステータスはmodel.ErrUpstreamAuthとして返す。リトライはしない
// （呼び出し側の判断に委ねる）。詳細はサーバー側ログにのみ残す。
func (b *Broker) InstallationToken(ctx context.Context, installationID string) (*model.InstallationToken, error) {
	assertion, err := b.signer.Sign()
	if err != nil {
		return nil, fmt.Errorf("failed to build app assertion: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", b.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", acceptHeader)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("installation token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Error("installation token exchange rejected",
			slog.Int("http_status", resp.StatusCode),
			slog.String("installation_id", installationID),
			slog.String("body", string(body)),
		)
		return nil, fmt.Errorf("installation token exchange returned status %d: %w",
			resp.StatusCode, model.ErrUpstreamAuth)
	}

	var tokenResp installationTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.Token == "" {
		return nil, fmt.Errorf("empty token in response: %w", model.ErrUpstreamAuth)
	}

	return &model.InstallationToken{
		Token:     tokenResp.Token,
		ExpiresIn: expiresInSeconds(tokenResp.ExpiresAt),
	}, nil
}

// expiresInSeconds はexpires_at（RFC3339）を残り秒数に変換する。
// パースできない場合はGitHubの既定値3600を使う。
func expiresInSeconds(expiresAt string) int {
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return defaultTokenExpiresIn
	}
	secs := int(time.Until(t).Seconds())
	if secs <= 0 {
		return defaultTokenExpiresIn
	}
	return secs
}
