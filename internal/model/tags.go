package model

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// TagSet はエントリに付与されたタグの集合。
// タグは大文字小文字を区別する識別子で、重複を持たない。
type TagSet map[string]struct{}

// NewTagSet は指定タグを含むTagSetを生成する。空文字列は無視する。
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	s.Add(tags...)
	return s
}

// Add はタグを追加する。既に存在するタグは何もしない。
func (s TagSet) Add(tags ...string) {
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			s[t] = struct{}{}
		}
	}
}

// Remove はタグを削除する。存在しないタグは何もしない。
func (s TagSet) Remove(tags ...string) {
	for _, t := range tags {
		delete(s, strings.TrimSpace(t))
	}
}

// Has はタグが含まれるかを返す。
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Slice はタグを辞書順に並べたスライスを返す。
func (s TagSet) Slice() []string {
	tags := lo.Keys(s)
	slices.Sort(tags)
	return tags
}

// Clone はTagSetのコピーを返す。nilの場合は空集合を返す。
func (s TagSet) Clone() TagSet {
	c := make(TagSet, len(s))
	for t := range s {
		c[t] = struct{}{}
	}
	return c
}
