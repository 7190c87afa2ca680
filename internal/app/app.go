package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/wordsync/internal/auth"
	"github.com/hitoshi/wordsync/internal/config"
	"github.com/hitoshi/wordsync/internal/githubapp"
	"github.com/hitoshi/wordsync/internal/githubsync"
	"github.com/hitoshi/wordsync/internal/handler"
	"github.com/hitoshi/wordsync/internal/logger"
	"github.com/hitoshi/wordsync/internal/metrics"
	"github.com/hitoshi/wordsync/internal/middleware"
	"github.com/hitoshi/wordsync/internal/model"
	"github.com/hitoshi/wordsync/internal/token"
	"github.com/hitoshi/wordsync/internal/wordlist"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandSync:
		return runSync(cfg, args[1:])
	case CommandServe:
		return runServe(cfg)
	default:
		return runServe(cfg)
	}
}

// buildRouter は全依存関係をワイヤリングしてルーターを構築する。
// 返すcleanup関数はレートリミッターのバックグラウンド処理を停止する。
func buildRouter(cfg *config.Config) (http.Handler, func(), error) {
	signer, err := githubapp.NewAppSigner(cfg.GitHubAppID, []byte(cfg.GitHubAppPrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize app signer: %w", err)
	}

	// メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// GitHub向けHTTPクライアント。全呼び出しを計測する。
	upstreamClient := &http.Client{
		Timeout:   cfg.UpstreamTimeout,
		Transport: metrics.NewTransport(nil, collector),
	}

	broker := githubapp.NewBroker(signer, upstreamClient, slog.Default()).
		WithBaseURL(cfg.GitHubAPIBaseURL)

	oauthClient := githubapp.NewOAuthClient(githubapp.OAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		AuthorizeURL: cfg.GitHubAuthorizeURL,
		TokenURL:     cfg.GitHubTokenURL,
		APIBaseURL:   cfg.GitHubAPIBaseURL,
	}, upstreamClient)

	codec := token.NewCodec([]byte(cfg.SessionSecret), time.Duration(cfg.SessionMaxAge)*time.Second)
	authService := auth.NewService(codec, broker, oauthClient, auth.ServiceConfig{
		AppSlug: cfg.GitHubAppName,
	})

	// configのRateLimitTokenはreq/min単位なのでreq/secに変換する
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.TokenRate = rate.Limit(float64(cfg.RateLimitToken) / 60.0)
	limiter := middleware.NewRateLimiter(rlCfg)

	router := handler.NewRouter(&handler.RouterDeps{
		SessionVerifier:   codec,
		CORSAllowedOrigin: cfg.FrontendURL,
		RateLimiter:       limiter,
		Logger:            slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:   cfg.FrontendURL,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Metrics:  collector,
		Gatherer: reg,
	})

	return router, limiter.Stop, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	router, cleanup, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runSync はローカルの単語リストファイルとリポジトリを1回だけ同期する。
// args[0]に方向（pull/push）を指定する。デフォルトはpull。
func runSync(cfg *config.Config, args []string) error {
	direction := "pull"
	if len(args) > 0 {
		direction = args[0]
	}
	if direction != "pull" && direction != "push" {
		return fmt.Errorf("unknown sync direction %q (want pull or push)", direction)
	}

	if cfg.SyncRepoOwner == "" || cfg.SyncRepoName == "" || cfg.SyncInstallationID == "" {
		return fmt.Errorf("sync requires SYNC_REPO_OWNER, SYNC_REPO_NAME and SYNC_INSTALLATION_ID")
	}

	signer, err := githubapp.NewAppSigner(cfg.GitHubAppID, []byte(cfg.GitHubAppPrivateKey))
	if err != nil {
		return fmt.Errorf("failed to initialize app signer: %w", err)
	}

	upstreamClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	broker := githubapp.NewBroker(signer, upstreamClient, slog.Default()).
		WithBaseURL(cfg.GitHubAPIBaseURL)
	tokens := githubsync.NewBrokerTokenSource(broker, cfg.SyncInstallationID)

	client := githubsync.NewClient(model.Repo{
		Owner:  cfg.SyncRepoOwner,
		Name:   cfg.SyncRepoName,
		Branch: cfg.SyncBranch,
	}, tokens, upstreamClient, slog.Default()).WithBaseURL(cfg.GitHubAPIBaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch direction {
	case "pull":
		return runSyncPull(ctx, cfg, client)
	default:
		return runSyncPush(ctx, cfg, client)
	}
}

// runSyncPull はリポジトリの単語リストを取得してローカルファイルに書き出す。
func runSyncPull(ctx context.Context, cfg *config.Config, client *githubsync.Client) error {
	snap, err := client.Load(ctx, cfg.SyncFilePath)
	if errors.Is(err, model.ErrFileNotFound) {
		return fmt.Errorf("%s not found in %s/%s@%s",
			cfg.SyncFilePath, cfg.SyncRepoOwner, cfg.SyncRepoName, cfg.SyncBranch)
	}
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	entries := wordlist.Parse(snap.Content)
	if err := wordlist.SaveFile(cfg.SyncLocalFile, entries); err != nil {
		return fmt.Errorf("failed to write local file: %w", err)
	}

	slog.Info("pull completed",
		slog.String("path", cfg.SyncFilePath),
		slog.String("commit_sha", snap.CommitSHA),
		slog.Int("entry_count", len(entries)),
	)
	return nil
}

// runSyncPush はローカルファイルの単語リストをリポジトリに保存する。
func runSyncPush(ctx context.Context, cfg *config.Config, client *githubsync.Client) error {
	entries, err := wordlist.LoadFile(cfg.SyncLocalFile)
	if errors.Is(err, model.ErrFileNotFound) {
		return fmt.Errorf("local file %s not found", cfg.SyncLocalFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read local file: %w", err)
	}

	content := wordlist.Format(entries)
	message := fmt.Sprintf("Update %s (%d entries)", cfg.SyncFilePath, len(entries))

	commitSHA, err := client.Save(ctx, cfg.SyncFilePath, content, message)
	if errors.Is(err, model.ErrConcurrentModification) {
		return fmt.Errorf("branch %s moved during push, pull and retry: %w", cfg.SyncBranch, err)
	}
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	slog.Info("push completed",
		slog.String("path", cfg.SyncFilePath),
		slog.String("commit_sha", commitSHA),
		slog.Int("entry_count", len(entries)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
