// Package githubapp はGitHub Appとしての資格情報操作を提供する。
// App自身を証明する短命アサーションの署名、インストールアクセストークンの
// 取得、およびOAuth認可コードフローの呼び出しを含む。
package githubapp

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// assertionBackdate はクロックずれを吸収するためiatを過去にずらす幅。
	assertionBackdate = 60 * time.Second
	// assertionTTL はAppアサーションの有効期間。GitHubの上限は10分。
	assertionTTL = 10 * time.Minute
)

// AppSigner はGitHub App自身を証明する短命アサーション（RS256 JWT）を生成する。
// ペイロードは暗号化されず署名のみ。発行者識別の証明であり機密性は持たない。
type AppSigner struct {
	appID string
	key   *rsa.PrivateKey
}

// NewAppSigner はPEM形式の秘密鍵からAppSignerを生成する。
// 鍵は起動時に1回パースし、以後読み取り専用で使い回す。
func NewAppSigner(appID string, privateKeyPEM []byte) (*AppSigner, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	return &AppSigner{appID: appID, key: key}, nil
}

// Sign はAppアサーションを生成する。
// iatは現在時刻の60秒前、expは10分後。有効期間が短いため
// キャッシュせず、呼び出しごとに再生成する。
func (s *AppSigner) Sign() (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-assertionBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		Issuer:    s.appID,
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app assertion: %w", err)
	}
	return signed, nil
}
