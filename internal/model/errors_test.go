package model

import (
	"strings"
	"testing"
)

func TestAPIErrorConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *APIError
		code     string
		category string
	}{
		{"not authenticated", NewNotAuthenticatedError(), ErrCodeNotAuthenticated, "auth"},
		{"upstream auth", NewUpstreamAuthError(), ErrCodeUpstreamAuth, "auth"},
		{"file not found", NewFileNotFoundError("dictionary.txt"), ErrCodeFileNotFound, "sync"},
		{"concurrent modification", NewConcurrentModificationError(), ErrCodeConcurrentModified, "sync"},
		{"sync failed", NewSyncFailedError("connection reset"), ErrCodeSyncFailed, "sync"},
		{"invalid word", NewInvalidWordError(), ErrCodeInvalidWord, "validation"},
		{"invalid score", NewInvalidScoreError(150), ErrCodeInvalidScore, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Category != tt.category {
				t.Errorf("Category = %q, want %q", tt.err.Category, tt.category)
			}
			if tt.err.Message == "" || tt.err.Action == "" {
				t.Errorf("Message/Action should not be empty: %+v", tt.err)
			}
			// Error()はコードとメッセージの両方を含む
			if got := tt.err.Error(); !strings.Contains(got, tt.code) {
				t.Errorf("Error() = %q, should contain %q", got, tt.code)
			}
		})
	}
}

func TestFileNotFoundError_IncludesPath(t *testing.T) {
	t.Parallel()

	err := NewFileNotFoundError("words/list.txt")
	if !strings.Contains(err.Message, "words/list.txt") {
		t.Errorf("Message = %q, should contain the path", err.Message)
	}
}
