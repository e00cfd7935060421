package model

import "time"

// DateLayout はエントリ日時の正規化フォーマット（UTC、秒精度）。
// 辞書順比較が時系列順と一致する。
const DateLayout = "2006-01-02T15:04:05Z"

// UnknownDate は日時が取得できなかったエントリに割り当てる番兵値（エポック）。
const UnknownDate = "1970-01-01T00:00:00Z"

// ContentType はエントリ本文の種別を表す。
type ContentType string

const (
	// ContentTypePlain はプレーンテキスト本文。
	ContentTypePlain ContentType = ""
	// ContentTypeHTML はHTML本文。
	ContentTypeHTML ContentType = "html"
)

// Entry はフィードに含まれる1件の記事を表す。
// (FeedURL, ID) の組がストア全体で一意となる。
type Entry struct {
	FeedURL     string
	ID          string
	Title       string
	Link        string
	Date        string // DateLayout形式
	Content     string
	ContentType ContentType
	Tags        TagSet

	// Seq はストアへの初回挿入順。同一日時のエントリの並び順を決める。
	Seq uint64
}

// Clone はタグ集合を含めたEntryのディープコピーを返す。
func (e *Entry) Clone() *Entry {
	c := *e
	c.Tags = e.Tags.Clone()
	return &c
}

// Time はDateをtime.Timeとして返す。パースできない場合はエポックを返す。
func (e *Entry) Time() time.Time {
	t, err := time.Parse(DateLayout, e.Date)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// FormatDate は時刻を正規化フォーマットの文字列に変換する。
// 4桁で表現できない年は番兵値として扱う。
func FormatDate(t time.Time) string {
	t = t.UTC()
	if t.Year() < 1 || t.Year() > 9999 {
		return UnknownDate
	}
	return t.Format(DateLayout)
}
