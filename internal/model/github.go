package model

import "time"

// Repo は同期対象のリポジトリ座標を表す。
// ユーザー入力に由来し、サーバー側には保存しない。
type Repo struct {
	Owner  string
	Name   string
	Branch string
}

// InstallationToken はGitHubから取得したインストールアクセストークン。
// 永続化してはならない。Sync Clientのメモリ内キャッシュのみが保持を許される。
type InstallationToken struct {
	Token     string
	ExpiresIn int // 秒。GitHubの既定では3600
}

// Installation はGitHub Appのインストール（AppとユーザーORGの紐付け）を表す。
type Installation struct {
	ID int64 `json:"id"`
}

// Snapshot はリモートファイルのある時点の読み取り結果を表す。
// 保存パスの楽観的並行性制御の基準としてのみ使用し、保存完了後は保持しない。
type Snapshot struct {
	Content   string
	CommitSHA string
	BlobSHA   string
	LoadedAt  time.Time
}
