package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	TokenRate       rate.Limit    // トークンエンドポイントのレート（req/sec）
	TokenBurst      int           // トークンエンドポイントのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
	EntryTTL        time.Duration // 最終アクセスからエントリを保持する期間
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// トークンエンドポイントは60 req/min/クライアント。
// Sync Clientは60秒マージン付きでトークンをキャッシュするため、
// 正常なクライアントがこの制限に達することはない。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		TokenRate:       rate.Limit(60.0 / 60.0), // 1 req/sec
		TokenBurst:      30,
		CleanupInterval: 5 * time.Minute,
		EntryTTL:        15 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はクライアント（リモートアドレス）ごとのレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// TokenEndpointMiddleware はトークンエンドポイント用のレート制限ミドルウェアを返す。
// 超過したリクエストには429を返す。
func (rl *RateLimiter) TokenEndpointMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			if !rl.allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "too many requests",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allow はキーに対応するリミッターでリクエストの可否を判定する。
func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rl.config.TokenRate, rl.config.TokenBurst),
		}
		rl.limiters[key] = cl
	}
	cl.lastAccess = time.Now()

	return cl.limiter.Allow()
}

// cleanupLoop は一定間隔で使われていないリミッターを破棄する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.EntryTTL)
			rl.mu.Lock()
			for key, cl := range rl.limiters {
				if cl.lastAccess.Before(cutoff) {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientKey はレート制限のキーとなるクライアント識別子を返す。
// リバースプロキシ配下ではX-Forwarded-Forの先頭を優先する。
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
