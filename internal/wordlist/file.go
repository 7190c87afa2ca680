package wordlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hitoshi/wordsync/internal/model"
)

// SaveFile はエントリをWORD;SCORE形式でローカルファイルに保存する。
// 一時ファイルに書いてからリネームし、途中失敗で元ファイルを壊さない。
func SaveFile(path string, entries []model.Entry) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".wordlist-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(Format(entries)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write wordlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace wordlist file: %w", err)
	}
	return nil
}

// LoadFile はローカルファイルから単語リストを読み込む。
// ファイルが存在しない場合はmodel.ErrFileNotFoundを返す。
func LoadFile(path string) ([]model.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read wordlist file: %w", err)
	}
	return Parse(string(data)), nil
}
