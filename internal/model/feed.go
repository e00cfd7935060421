// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はRSS/Atomフィードを表す。
// URLが主キーであり、フェッチ対象のURLでもある。
// Entriesはエントリ識別子をキーとするマップで、ストアが所有する。
type Feed struct {
	URL     string
	Title   string
	Entries map[string]*Entry

	// フェッチ結果のメタデータ。最後の成功/失敗のみを保持する。
	LastFetchedAt time.Time
	FailureCount  int
	LastError     string
}

// NewFeed は空のエントリ集合を持つFeedを生成する。
func NewFeed(url string) *Feed {
	return &Feed{
		URL:     url,
		Entries: make(map[string]*Entry),
	}
}

// Clone はエントリを含めたFeedのディープコピーを返す。
func (f *Feed) Clone() *Feed {
	c := *f
	c.Entries = make(map[string]*Entry, len(f.Entries))
	for id, e := range f.Entries {
		c.Entries[id] = e.Clone()
	}
	return &c
}
