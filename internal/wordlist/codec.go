// Package wordlist は単語リストのパース・整形・編集操作を提供する。
// 永続化形式はローカル・リモート共通で、1行1レコードの「WORD;SCORE」。
package wordlist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/wordsync/internal/model"
)

// separator はレコード内の単語とスコアの区切り文字。
const separator = ";"

// Normalize は単語をトリムして大文字に正規化する。
func Normalize(word string) string {
	return strings.ToUpper(strings.TrimSpace(word))
}

// Parse は「WORD;SCORE」形式のテキストを単語エントリに変換する。
// 空行は無視する。スコアが整数として読めない場合は0として扱う。
// 範囲外のスコアは0〜100に丸める。大文字小文字を無視した重複語は
// 最初の1件のみ残す。
func Parse(text string) []model.Entry {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	entries := make([]model.Entry, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		word, scoreStr, _ := strings.Cut(line, separator)
		word = Normalize(word)
		if word == "" {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}

		score, err := strconv.Atoi(strings.TrimSpace(scoreStr))
		if err != nil {
			score = 0
		}
		entries = append(entries, model.Entry{Word: word, Score: clampScore(score)})
	}

	return entries
}

// Format は単語エントリを「WORD;SCORE」形式のテキストに変換する。
// Parseとの往復で同一テキストになる正準形を出力する。
func Format(entries []model.Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Word)
		sb.WriteString(separator)
		sb.WriteString(strconv.Itoa(e.Score))
		sb.WriteString("\n")
	}
	return sb.String()
}

// clampScore はスコアを有効範囲に丸める。
func clampScore(score int) int {
	if score < model.MinScore {
		return model.MinScore
	}
	if score > model.MaxScore {
		return model.MaxScore
	}
	return score
}

// validateEntry は追加・更新対象のエントリを検証する。
func validateEntry(word string, score int) error {
	if Normalize(word) == "" {
		return fmt.Errorf("word must not be empty")
	}
	if !model.ValidScore(score) {
		return model.NewInvalidScoreError(score)
	}
	return nil
}
