// Package githubsync はGitHubのGit data API（refs → commits → trees → blobs）に
// 対する単一ファイルの読み書きクライアントを提供する。
// 書き込みはブランチrefのcompare-and-swapによる楽観的並行性制御を行う。
package githubsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/wordsync/internal/model"
)

const (
	// defaultAPIBaseURL はGitHub REST APIのベースURL。
	defaultAPIBaseURL = "https://api.github.com"
	// acceptHeader はGitHub REST API v3のメディアタイプ。
	acceptHeader = "application/vnd.github.v3+json"
	// tokenExpiryMargin はキャッシュ済みトークンを期限の何秒前に捨てるか。
	tokenExpiryMargin = 60 * time.Second
	// blobFileMode は通常ファイルのgitモード。
	blobFileMode = "100644"
)

// TokenSource はインストールアクセストークンの供給元。
type TokenSource interface {
	Token(ctx context.Context) (*model.InstallationToken, error)
}

// SyncError は読み書き中のネットワーク・パース失敗を包む。
// 上流のメッセージを診断用に保持する。
type SyncError struct {
	Op  string // "load" または "save"
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *SyncError) Error() string {
	return fmt.Sprintf("github sync %s failed: %v", e.Op, e.Err)
}

// Unwrap はラップ元のエラーを返す。
func (e *SyncError) Unwrap() error { return e.Err }

// Client は1つのリポジトリ座標に対する同期クライアント。
// トークンの単一エントリキャッシュを持つ。
// 1インスタンスは1編集セッション専用であり、複数の読み書きを
// 同時に実行する場合は呼び出し側が直列化すること。
type Client struct {
	repo       model.Repo
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能

	cachedToken string
	tokenExpiry time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// repoのBranchが空の場合はmainを使用する。
func NewClient(repo model.Repo, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if repo.Branch == "" {
		repo.Branch = "main"
	}
	return &Client{
		repo:       repo,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultAPIBaseURL,
	}
}

// WithBaseURL はGitHub APIのベースURLを差し替えたClientを返す。テスト用。
func (c *Client) WithBaseURL(baseURL string) *Client {
	nc := *c
	nc.baseURL = baseURL
	return &nc
}

// getToken はキャッシュ済みトークンを返す。未取得または期限の60秒前を
// 過ぎている場合はTokenSourceから新しいトークンを取得する。
func (c *Client) getToken(ctx context.Context) (string, error) {
	if c.cachedToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.cachedToken, nil
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}

	c.cachedToken = tok.Token
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryMargin)
	return c.cachedToken, nil
}

// apiStatusError はGitHub APIの非成功レスポンスを表す。
type apiStatusError struct {
	status  int
	message string
}

func (e *apiStatusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("github api returned status %d: %s", e.status, e.message)
	}
	return fmt.Sprintf("github api returned status %d", e.status)
}

// request はGitHub APIの1呼び出しを実行し、レスポンスJSONをoutにデコードする。
// bodyがnilでない場合はJSONとして送信する。
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &apiErr) // メッセージ抽出失敗は無視
		return &apiStatusError{status: resp.StatusCode, message: apiErr.Message}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// repoPath は/repos/{owner}/{name}配下のAPIパスを構築する。
func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.repo.Owner, c.repo.Name, suffix)
}

// Git data APIのレスポンス型。
type (
	refResponse struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}

	commitResponse struct {
		SHA  string `json:"sha"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}

	treeEntry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}

	treeResponse struct {
		SHA  string      `json:"sha"`
		Tree []treeEntry `json:"tree"`
	}

	blobResponse struct {
		SHA      string `json:"sha"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}

	shaResponse struct {
		SHA string `json:"sha"`
	}
)

// resolveHead はブランチ先頭のコミットSHAと、そのコミットのツリーSHAを返す。
func (c *Client) resolveHead(ctx context.Context) (commitSHA, treeSHA string, err error) {
	var ref refResponse
	if err := c.request(ctx, http.MethodGet,
		c.repoPath("/git/ref/heads/"+c.repo.Branch), nil, &ref); err != nil {
		return "", "", fmt.Errorf("failed to resolve branch ref: %w", err)
	}

	var commit commitResponse
	if err := c.request(ctx, http.MethodGet,
		c.repoPath("/git/commits/"+ref.Object.SHA), nil, &commit); err != nil {
		return "", "", fmt.Errorf("failed to fetch head commit: %w", err)
	}

	return ref.Object.SHA, commit.Tree.SHA, nil
}

// Load はブランチ先頭から単一ファイルを読み取る。
// ツリーはトップレベルのみを検索する。サブディレクトリ内のパスは
// 対応外であり、model.ErrFileNotFoundになる。
// ネットワーク・パース失敗は*SyncErrorとして返し、部分的な結果は返さない。
func (c *Client) Load(ctx context.Context, filePath string) (*model.Snapshot, error) {
	commitSHA, treeSHA, err := c.resolveHead(ctx)
	if err != nil {
		return nil, &SyncError{Op: "load", Err: err}
	}

	var tree treeResponse
	if err := c.request(ctx, http.MethodGet,
		c.repoPath("/git/trees/"+treeSHA), nil, &tree); err != nil {
		return nil, &SyncError{Op: "load", Err: fmt.Errorf("failed to fetch tree: %w", err)}
	}

	var blobSHA string
	for _, entry := range tree.Tree {
		if entry.Path == filePath {
			blobSHA = entry.SHA
			break
		}
	}
	if blobSHA == "" {
		return nil, fmt.Errorf("%q not present at tree top level: %w", filePath, model.ErrFileNotFound)
	}

	var blob blobResponse
	if err := c.request(ctx, http.MethodGet,
		c.repoPath("/git/blobs/"+blobSHA), nil, &blob); err != nil {
		return nil, &SyncError{Op: "load", Err: fmt.Errorf("failed to fetch blob: %w", err)}
	}

	// GitHubはbase64を改行で折り返して返す
	raw := strings.ReplaceAll(blob.Content, "\n", "")
	content, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &SyncError{Op: "load", Err: fmt.Errorf("failed to decode blob content: %w", err)}
	}

	c.logger.Info("loaded file from repository",
		slog.String("owner", c.repo.Owner),
		slog.String("repo", c.repo.Name),
		slog.String("branch", c.repo.Branch),
		slog.String("path", filePath),
		slog.String("commit_sha", commitSHA),
	)

	return &model.Snapshot{
		Content:   string(content),
		CommitSHA: commitSHA,
		BlobSHA:   blobSHA,
		LoadedAt:  time.Now(),
	}, nil
}

// Save は単一ファイルを置き換えた新しいコミットを作り、ブランチrefを進める。
// ブランチ先頭の再解決からref更新までの5ステップを毎回実行する。
// ref更新はforce=falseのcompare-and-swapで、ステップ1以降にブランチが
// 動いていた場合はmodel.ErrConcurrentModificationを返す。
// 自動リトライはしない。呼び出し側は再読み込みの上、全体をやり直すこと。
func (c *Client) Save(ctx context.Context, filePath, content, commitMessage string) (string, error) {
	// 1-2. 楽観的並行性制御の基準となるブランチ先頭を解決
	baseCommitSHA, baseTreeSHA, err := c.resolveHead(ctx)
	if err != nil {
		return "", &SyncError{Op: "save", Err: err}
	}

	// 3. 新しいblobを作成
	var blob shaResponse
	blobReq := map[string]string{
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		"encoding": "base64",
	}
	if err := c.request(ctx, http.MethodPost,
		c.repoPath("/git/blobs"), blobReq, &blob); err != nil {
		return "", &SyncError{Op: "save", Err: fmt.Errorf("failed to create blob: %w", err)}
	}

	// 4. ベースツリーの上に1パスだけ置き換えたツリーを作成
	var newTree shaResponse
	treeReq := map[string]any{
		"base_tree": baseTreeSHA,
		"tree": []treeEntry{{
			Path: filePath,
			Mode: blobFileMode,
			Type: "blob",
			SHA:  blob.SHA,
		}},
	}
	if err := c.request(ctx, http.MethodPost,
		c.repoPath("/git/trees"), treeReq, &newTree); err != nil {
		return "", &SyncError{Op: "save", Err: fmt.Errorf("failed to create tree: %w", err)}
	}

	// 5. 基準コミットを唯一の親とする新しいコミットを作成
	var newCommit shaResponse
	commitReq := map[string]any{
		"message": commitMessage,
		"tree":    newTree.SHA,
		"parents": []string{baseCommitSHA},
	}
	if err := c.request(ctx, http.MethodPost,
		c.repoPath("/git/commits"), commitReq, &newCommit); err != nil {
		return "", &SyncError{Op: "save", Err: fmt.Errorf("failed to create commit: %w", err)}
	}

	// 6. ブランチrefをfast-forward限定で更新（compare-and-swap）
	refReq := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: newCommit.SHA, Force: false}
	if err := c.request(ctx, http.MethodPatch,
		c.repoPath("/git/refs/heads/"+c.repo.Branch), refReq, nil); err != nil {
		if isNonFastForward(err) {
			c.logger.Warn("branch moved during save",
				slog.String("owner", c.repo.Owner),
				slog.String("repo", c.repo.Name),
				slog.String("branch", c.repo.Branch),
				slog.String("base_commit_sha", baseCommitSHA),
			)
			return "", fmt.Errorf("ref update rejected: %w", model.ErrConcurrentModification)
		}
		return "", &SyncError{Op: "save", Err: fmt.Errorf("failed to update ref: %w", err)}
	}

	c.logger.Info("saved file to repository",
		slog.String("owner", c.repo.Owner),
		slog.String("repo", c.repo.Name),
		slog.String("branch", c.repo.Branch),
		slog.String("path", filePath),
		slog.String("commit_sha", newCommit.SHA),
	)

	return newCommit.SHA, nil
}

// isNonFastForward はref更新の失敗がnon-fast-forward起因かどうかを判定する。
// GitHubは422（Update is not a fast forward）または409を返す。
func isNonFastForward(err error) bool {
	var apiErr *apiStatusError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.status == http.StatusUnprocessableEntity ||
		apiErr.status == http.StatusConflict
}
