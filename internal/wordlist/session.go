package wordlist

import (
	"sort"
	"strings"

	"github.com/hitoshi/wordsync/internal/model"
)

// Session は編集中の単語リストを保持するエディタセッション。
// リスト全体の置き換え（ファイル・リモート読み込み時）と
// 個別エントリの追加・更新・削除を提供する。
// 単語は大文字正規化後の値で一意。並行アクセスには対応しない。
type Session struct {
	entries []model.Entry
	index   map[string]int // 正規化済み単語 -> entriesの添字
}

// NewSession は空のSessionを生成する。
func NewSession() *Session {
	return &Session{index: make(map[string]int)}
}

// ReplaceAll はリスト全体を置き換える。読み込み時に使用する。
// 重複語は最初の1件のみ残す。
func (s *Session) ReplaceAll(entries []model.Entry) {
	s.entries = make([]model.Entry, 0, len(entries))
	s.index = make(map[string]int, len(entries))
	for _, e := range entries {
		word := Normalize(e.Word)
		if word == "" {
			continue
		}
		if _, dup := s.index[word]; dup {
			continue
		}
		s.index[word] = len(s.entries)
		s.entries = append(s.entries, model.Entry{Word: word, Score: clampScore(e.Score)})
	}
}

// Add は新しい単語を追加する。
// 空の単語・登録済みの単語はmodel.APIErrorとして拒否する。
func (s *Session) Add(word string, score int) error {
	if err := validateEntry(word, score); err != nil {
		return model.NewInvalidWordError()
	}
	normalized := Normalize(word)
	if _, exists := s.index[normalized]; exists {
		return model.NewInvalidWordError()
	}

	s.index[normalized] = len(s.entries)
	s.entries = append(s.entries, model.Entry{Word: normalized, Score: score})
	return nil
}

// SetScore は既存エントリのスコアを更新する。
func (s *Session) SetScore(word string, score int) error {
	if !model.ValidScore(score) {
		return model.NewInvalidScoreError(score)
	}
	i, exists := s.index[Normalize(word)]
	if !exists {
		return model.NewInvalidWordError()
	}
	s.entries[i].Score = score
	return nil
}

// Remove はエントリを削除する。存在しない単語の削除は無視する。
func (s *Session) Remove(word string) {
	normalized := Normalize(word)
	i, exists := s.index[normalized]
	if !exists {
		return
	}

	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, normalized)
	// 削除位置より後ろの添字を詰める
	for w, j := range s.index {
		if j > i {
			s.index[w] = j - 1
		}
	}
}

// Entries は現在のエントリのコピーを返す。
func (s *Session) Entries() []model.Entry {
	out := make([]model.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len は現在のエントリ数を返す。
func (s *Session) Len() int {
	return len(s.entries)
}

// Filter は絞り込み条件を表す。ゼロ値は「絞り込みなし」。
type Filter struct {
	Substring string // 単語の部分一致（大文字小文字を無視）
	MinLength int
	MaxLength int // 0は上限なし
	MinScore  int
	MaxScore  int // 0は上限なし（model.MaxScore扱い）
}

// Apply は条件に一致するエントリだけを返す純粋関数。
func (f Filter) Apply(entries []model.Entry) []model.Entry {
	sub := strings.ToUpper(f.Substring)
	maxLen := f.MaxLength
	if maxLen <= 0 {
		maxLen = int(^uint(0) >> 1)
	}
	maxScore := f.MaxScore
	if maxScore <= 0 {
		maxScore = model.MaxScore
	}

	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if sub != "" && !strings.Contains(e.Word, sub) {
			continue
		}
		if len(e.Word) < f.MinLength || len(e.Word) > maxLen {
			continue
		}
		if e.Score < f.MinScore || e.Score > maxScore {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SortKey は並び替えの基準を表す。
type SortKey string

const (
	SortWordAsc   SortKey = "word_asc"
	SortWordDesc  SortKey = "word_desc"
	SortScoreAsc  SortKey = "score_asc"
	SortScoreDesc SortKey = "score_desc"
)

// SortBy は指定キーで並び替えた新しいスライスを返す純粋関数。
// 同スコアの場合は単語の昇順で安定させる。
func SortBy(entries []model.Entry, key SortKey) []model.Entry {
	out := make([]model.Entry, len(entries))
	copy(out, entries)

	switch key {
	case SortWordDesc:
		sort.Slice(out, func(i, j int) bool { return out[i].Word > out[j].Word })
	case SortScoreAsc:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score < out[j].Score
			}
			return out[i].Word < out[j].Word
		})
	case SortScoreDesc:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return out[i].Word < out[j].Word
		})
	default: // SortWordAsc
		sort.Slice(out, func(i, j int) bool { return out[i].Word < out[j].Word })
	}
	return out
}

// Paginate は1始まりのページ番号でエントリを切り出す純粋関数。
// 範囲外のページは空スライスを返す。
func Paginate(entries []model.Entry, page, perPage int) []model.Entry {
	if page < 1 || perPage < 1 {
		return nil
	}
	start := (page - 1) * perPage
	if start >= len(entries) {
		return nil
	}
	end := start + perPage
	if end > len(entries) {
		end = len(entries)
	}
	out := make([]model.Entry, end-start)
	copy(out, entries[start:end])
	return out
}
