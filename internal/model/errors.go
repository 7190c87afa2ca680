// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// センチネルエラー。各層はerrors.Isで分類のみを判定し、
// 詳細メッセージはラップ元から取り出す。
var (
	// ErrInvalidToken はセッショントークンが不正または期限切れであることを示す。
	// 署名不一致・形式不正・期限切れのいずれであるかは呼び出し側に区別させない。
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrStateMismatch はOAuthコールバックのstateパラメータが
	// nonce Cookieと一致しなかったことを示す。
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrUpstreamAuth はGitHub側でAppアサーションまたは
	// インストールトークン交換が拒否されたことを示す。
	ErrUpstreamAuth = errors.New("upstream auth rejected")

	// ErrNoInstallation はユーザーがAppを1件もインストールしていないことを示す。
	ErrNoInstallation = errors.New("no app installation found")

	// ErrFileNotFound は指定パスのファイルがツリーに存在しないことを示す。
	ErrFileNotFound = errors.New("file not found in repository")

	// ErrConcurrentModification はブランチrefの更新がfast-forwardでなかった
	// （保存開始後に他者がブランチを進めた）ことを示す。
	// 呼び出し側は再読み込みの上、保存シーケンス全体をやり直す必要がある。
	ErrConcurrentModification = errors.New("branch moved since load")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, sync, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeUpstreamAuth       = "UPSTREAM_AUTH_FAILED"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeConcurrentModified = "CONCURRENT_MODIFICATION"
	ErrCodeSyncFailed         = "SYNC_FAILED"
	ErrCodeInvalidWord        = "INVALID_WORD"
	ErrCodeInvalidScore       = "INVALID_SCORE"
)

// NewNotAuthenticatedError は未認証エラーを生成する。
// どの検証段階で失敗したかは意図的に含めない。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "認証されていないか、セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewUpstreamAuthError はGitHub側でのトークン交換失敗エラーを生成する。
func NewUpstreamAuthError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  "GitHubからアクセストークンを取得できませんでした。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。解決しない場合はAppを再インストールしてください。",
	}
}

// NewFileNotFoundError はリポジトリ内にファイルが存在しないエラーを生成する。
func NewFileNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeFileNotFound,
		Message:  fmt.Sprintf("ファイルが見つかりません: %s", path),
		Category: "sync",
		Action:   "ファイルパスとブランチ名を確認してください。",
	}
}

// NewConcurrentModificationError は保存競合エラーを生成する。
func NewConcurrentModificationError() *APIError {
	return &APIError{
		Code:     ErrCodeConcurrentModified,
		Message:  "他の変更によりブランチが更新されています。",
		Category: "sync",
		Action:   "最新の内容を読み込み直してから、再度保存してください。",
	}
}

// NewSyncFailedError は同期失敗エラーを生成する。
func NewSyncFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  fmt.Sprintf("GitHubとの同期に失敗しました: %s", reason),
		Category: "sync",
		Action:   "接続状態を確認し、再度お試しください。",
	}
}

// NewInvalidWordError は不正な単語エラーを生成する。
func NewInvalidWordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWord,
		Message:  "単語が空か、既にリストに存在します。",
		Category: "validation",
		Action:   "空でない、未登録の単語を入力してください。",
	}
}

// NewInvalidScoreError は不正なスコアエラーを生成する。
func NewInvalidScoreError(score int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidScore,
		Message:  fmt.Sprintf("無効なスコアです: %d", score),
		Category: "validation",
		Action:   "スコアは0から100の整数で指定してください。",
	}
}
