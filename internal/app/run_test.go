package app

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newFakeGitHub はsyncサブコマンドのpullに必要な最小限のGitHub APIを模したサーバーを返す。
// インストールトークン発行とref/commit/tree/blobの読み取りに応答する。
func newFakeGitHub(t *testing.T, fileContent string) *httptest.Server {
	t.Helper()

	encoded := base64.StdEncoding.EncodeToString([]byte(fileContent))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("token mint should use Bearer auth, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"token": "ghs_fake"})
	})
	mux.HandleFunc("GET /repos/hitoshi/words/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"object": map[string]string{"sha": "commit-1"}})
	})
	mux.HandleFunc("GET /repos/hitoshi/words/git/commits/commit-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sha":  "commit-1",
			"tree": map[string]string{"sha": "tree-1"},
		})
	})
	mux.HandleFunc("GET /repos/hitoshi/words/git/trees/tree-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sha": "tree-1",
			"tree": []map[string]string{
				{"path": "dictionary.txt", "mode": "100644", "type": "blob", "sha": "blob-1"},
			},
		})
	})
	mux.HandleFunc("GET /repos/hitoshi/words/git/blobs/blob-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"sha":      "blob-1",
			"content":  encoded,
			"encoding": "base64",
		})
	})

	return httptest.NewServer(mux)
}

func TestRun_SyncPull_WritesLocalFile(t *testing.T) {
	server := newFakeGitHub(t, "CAT;50\nDOG;75\n")
	defer server.Close()

	localFile := filepath.Join(t.TempDir(), "dictionary.txt")

	setTestEnv(t)
	t.Setenv("GITHUB_API_BASE_URL", server.URL)
	t.Setenv("SYNC_REPO_OWNER", "hitoshi")
	t.Setenv("SYNC_REPO_NAME", "words")
	t.Setenv("SYNC_INSTALLATION_ID", "42")
	t.Setenv("SYNC_LOCAL_FILE", localFile)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"sync", "pull"}); err != nil {
		t.Fatalf("sync pull failed: %v", err)
	}

	data, err := os.ReadFile(localFile)
	if err != nil {
		t.Fatalf("local file not written: %v", err)
	}
	if string(data) != "CAT;50\nDOG;75\n" {
		t.Errorf("local file = %q, want canonical wordlist", string(data))
	}
}

func TestRun_Sync_MissingSettings_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SYNC_REPO_OWNER", "")
	t.Setenv("SYNC_REPO_NAME", "")
	t.Setenv("SYNC_INSTALLATION_ID", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"sync"})
	if err == nil {
		t.Fatal("expected error for missing sync settings")
	}
	if !strings.Contains(err.Error(), "SYNC_REPO_OWNER") {
		t.Errorf("error = %v, should name required variables", err)
	}
}

func TestRun_Sync_UnknownDirection_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SYNC_REPO_OWNER", "hitoshi")
	t.Setenv("SYNC_REPO_NAME", "words")
	t.Setenv("SYNC_INSTALLATION_ID", "42")

	var buf bytes.Buffer
	err := Run(&buf, []string{"sync", "sideways"})
	if err == nil {
		t.Fatal("expected error for unknown direction")
	}
	if !strings.Contains(err.Error(), "sideways") {
		t.Errorf("error = %v, should name the bad direction", err)
	}
}

func TestRun_Healthcheck_NoServer_ReturnsError(t *testing.T) {
	// 誰もlistenしていないポートに対するヘルスチェックは失敗する
	t.Setenv("SERVER_PORT", "1")

	var buf bytes.Buffer
	err := Run(&buf, []string{"healthcheck"})
	if err == nil {
		t.Fatal("expected error when no server is listening")
	}
}

func TestRun_Healthcheck_HealthyServer_Succeeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// httptestのポートをSERVER_PORTとして渡す
	port := server.URL[strings.LastIndex(server.URL, ":")+1:]
	t.Setenv("SERVER_PORT", port)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err != nil {
		t.Fatalf("healthcheck failed: %v", err)
	}
}
