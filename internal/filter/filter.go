// Package filter はタグ条件によるエントリの絞り込みを提供する。
//
// フィルタ文字列は空白区切りの語からなり、"+tag" は必須タグ、
// "-tag" は禁止タグを表す。それ以外の語は無視する。
package filter

import (
	"strings"

	"github.com/samber/lo"

	"github.com/hitoshi/feedtag/internal/model"
)

// Filter は必須タグと禁止タグの組。ゼロ値は全エントリに一致する。
type Filter struct {
	Must    []string
	MustNot []string
}

// Parse はフィルタ文字列を解釈する。
func Parse(query string) Filter {
	var f Filter
	for _, term := range strings.Fields(query) {
		if len(term) < 2 {
			continue
		}
		switch term[0] {
		case '+':
			f.Must = append(f.Must, term[1:])
		case '-':
			f.MustNot = append(f.MustNot, term[1:])
		}
	}
	f.Must = lo.Uniq(f.Must)
	f.MustNot = lo.Uniq(f.MustNot)
	return f
}

// Match はエントリが全ての必須タグを持ち、禁止タグを1つも持たない場合にtrueを返す。
func (f Filter) Match(e *model.Entry) bool {
	return lo.EveryBy(f.Must, e.Tags.Has) && lo.NoneBy(f.MustNot, e.Tags.Has)
}

// Apply は一致するエントリを入力の順序を保って返す。
func (f Filter) Apply(entries []*model.Entry) []*model.Entry {
	return lo.Filter(entries, func(e *model.Entry, _ int) bool {
		return f.Match(e)
	})
}

// String はフィルタを正規形の文字列で返す。Parseで同じFilterに戻る。
func (f Filter) String() string {
	terms := make([]string, 0, len(f.Must)+len(f.MustNot))
	for _, t := range f.Must {
		terms = append(terms, "+"+t)
	}
	for _, t := range f.MustNot {
		terms = append(terms, "-"+t)
	}
	return strings.Join(terms, " ")
}
