// Package token はセッショントークンの発行・検証を提供する。
// トークンはheader.payload.signatureの3分割base64url形式（JWT, HS256）で、
// GitHub Appのインストール識別子と有効期限を保持する。
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/wordsync/internal/model"
)

// DefaultTTL はセッショントークンの既定有効期間（30日）。
const DefaultTTL = 30 * 24 * time.Hour

// SessionClaims はセッショントークンのペイロード。
// 標準クレームに加えてインストール識別子を1つ持つ。
type SessionClaims struct {
	jwt.RegisteredClaims
	InstallationID string `json:"installationId"`
}

// Codec はセッショントークンの発行・検証を行う。
// 秘密鍵は起動時に1回読み込まれ、以後変更されない。
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec はCodecを生成する。ttlが0の場合はDefaultTTLを使用する。
func NewCodec(secret []byte, ttl time.Duration) *Codec {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: secret, ttl: ttl}
}

// Issue はインストール識別子を紐付けたセッショントークンを発行する。
// 副作用はなく、現在時刻と秘密鍵のみに依存する。
func (c *Codec) Issue(installationID string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		InstallationID: installationID,
	})
	return tok.SignedString(c.secret)
}

// Verify はトークンを検証し、ペイロードを返す。
// 署名不一致・形式不正・期限切れ・アルゴリズム不一致のすべてを
// model.ErrInvalidTokenに集約する（オラクル攻撃の防止）。
// HMAC署名の比較はライブラリ内部で定数時間に行われる。
func (c *Codec) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	tok, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !tok.Valid {
		return nil, model.ErrInvalidToken
	}

	if claims.InstallationID == "" {
		return nil, model.ErrInvalidToken
	}

	return claims, nil
}
