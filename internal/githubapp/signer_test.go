package githubapp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testPrivateKey はテスト用のRSA鍵ペアをPEMと共に生成する。
func testPrivateKey(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return pemBytes, key
}

func TestNewAppSigner_InvalidPEM(t *testing.T) {
	t.Parallel()

	if _, err := NewAppSigner("12345", []byte("not a pem")); err == nil {
		t.Fatal("expected error for invalid PEM, got nil")
	}
}

func TestAppSigner_Sign_Claims(t *testing.T) {
	t.Parallel()

	pemBytes, key := testPrivateKey(t)

	signer, err := NewAppSigner("12345", pemBytes)
	if err != nil {
		t.Fatalf("NewAppSigner error: %v", err)
	}

	before := time.Now()
	assertion, err := signer.Sign()
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(assertion, claims,
		func(t *jwt.Token) (interface{}, error) { return &key.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !tok.Valid {
		t.Fatal("assertion should be valid")
	}

	if claims.Issuer != "12345" {
		t.Errorf("iss = %q, want %q", claims.Issuer, "12345")
	}

	// iatは現在時刻の60秒前、expは10分後
	iat := claims.IssuedAt.Time
	exp := claims.ExpiresAt.Time

	if !iat.Before(before) {
		t.Errorf("iat = %v, should be backdated before %v", iat, before)
	}
	if got := exp.Sub(iat); got > 11*time.Minute {
		t.Errorf("exp - iat = %v, want <= 11m", got)
	}
	if got := exp.Sub(before); got > assertionTTL+time.Minute {
		t.Errorf("exp too far in the future: %v", got)
	}
}

func TestAppSigner_Sign_FreshEveryCall(t *testing.T) {
	t.Parallel()

	pemBytes, _ := testPrivateKey(t)
	signer, err := NewAppSigner("12345", pemBytes)
	if err != nil {
		t.Fatalf("NewAppSigner error: %v", err)
	}

	a1, err := signer.Sign()
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	a2, err := signer.Sign()
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	// iatが進むため、キャッシュされていれば同一文字列になるはず
	if a1 == a2 {
		t.Error("assertions should be regenerated per call, got identical strings")
	}
}
