package model

// Entry は単語リストの1エントリを表す。
// Wordは空でなく、トリム済み・大文字正規化済みの文字列。
// Scoreは0〜100の整数。
type Entry struct {
	Word  string `json:"word"`
	Score int    `json:"score"`
}

// スコアの有効範囲。
const (
	MinScore = 0
	MaxScore = 100
)

// ValidScore はスコアが有効範囲内かどうかを判定する。
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
