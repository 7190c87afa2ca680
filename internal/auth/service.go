// Package auth はGitHub App認可フローとセッション発行を提供する。
// すべての状態はCookieとトークンに載り、サーバー側にセッションストアは持たない。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitoshi/wordsync/internal/model"
	"github.com/hitoshi/wordsync/internal/token"
)

// SessionCodec はセッショントークンの発行・検証に必要なインターフェース。
// token.Codecがこれを満たす。
type SessionCodec interface {
	Issue(installationID string) (string, error)
	Verify(tokenString string) (*token.SessionClaims, error)
}

// TokenBroker はインストールアクセストークンの取得に必要なインターフェース。
type TokenBroker interface {
	InstallationToken(ctx context.Context, installationID string) (*model.InstallationToken, error)
}

// CodeExchanger はOAuth認可コードフローに必要なインターフェース。
// 将来的に複数プロバイダーに対応するための抽象化。
type CodeExchanger interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	ListInstallations(ctx context.Context, userToken string) ([]model.Installation, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AppSlug string // インストール選択ページURLの構築に使うApp公開名
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	codec  SessionCodec
	broker TokenBroker
	oauth  CodeExchanger
	config ServiceConfig
}

// NewService はServiceを生成する。
func NewService(codec SessionCodec, broker TokenBroker, oauth CodeExchanger, config ServiceConfig) *Service {
	return &Service{
		codec:  codec,
		broker: broker,
		oauth:  oauth,
		config: config,
	}
}

// LoginURL はOAuth認可URLを生成する。stateにはnonceを渡す。
func (s *Service) LoginURL(state string) string {
	return s.oauth.AuthorizeURL(state)
}

// HandleInstallation はインストールコールバックを処理し、
// インストール識別子を紐付けたセッショントークンを発行する。
// 認可コード交換を伴わないため、信頼境界はリダイレクト経路そのものにある。
func (s *Service) HandleInstallation(installationID string) (string, error) {
	if installationID == "" {
		return "", fmt.Errorf("installation ID is required")
	}

	sessionToken, err := s.codec.Issue(installationID)
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}

	slog.Info("session issued for installation",
		slog.String("installation_id", installationID),
	)
	return sessionToken, nil
}

// HandleAuthorizationCode は認可コードコールバックを処理する。
// コードをユーザートークンに交換し、ユーザーのAppインストールを列挙する。
// インストールが1件もない場合はmodel.ErrNoInstallationを返す
// （ハンドラーがインストール選択ページへ誘導する）。
// 複数ある場合は先頭のインストールに対してセッションを発行する。
func (s *Service) HandleAuthorizationCode(ctx context.Context, code string) (string, error) {
	userToken, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	installs, err := s.oauth.ListInstallations(ctx, userToken)
	if err != nil {
		return "", fmt.Errorf("failed to list installations: %w", err)
	}
	if len(installs) == 0 {
		return "", model.ErrNoInstallation
	}

	installationID := strconv.FormatInt(installs[0].ID, 10)
	sessionToken, err := s.codec.Issue(installationID)
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}

	slog.Info("session issued via authorization code",
		slog.String("installation_id", installationID),
		slog.Int("installation_count", len(installs)),
	)
	return sessionToken, nil
}

// InstallURL はAppのインストール選択ページのURLを返す。
func (s *Service) InstallURL() string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/new", s.config.AppSlug)
}

// FreshInstallationToken はセッショントークンを検証し、紐付いた
// インストールの短命アクセストークンを取得して返す。
// Brokerを呼ぶ前に必ずセッション検証を通す。トークンは永続化しない。
func (s *Service) FreshInstallationToken(ctx context.Context, sessionToken string) (*model.InstallationToken, error) {
	claims, err := s.codec.Verify(sessionToken)
	if err != nil {
		return nil, model.ErrInvalidToken
	}

	tok, err := s.broker.InstallationToken(ctx, claims.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint installation token: %w", err)
	}
	return tok, nil
}

// GenerateState はCSRF対策用のランダムなnonceを生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
