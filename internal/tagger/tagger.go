// Package tagger は新規エントリに条件付きでタグを付与するフックを提供する。
//
// ルールはフィードURLとタイトルの正規表現、エントリの経過時間で対象を絞り込み、
// 一致したエントリにタグの追加/削除を適用する。
package tagger

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hitoshi/feedtag/internal/model"
)

// RuleSpec はルールの設定値。正規表現と期間は文字列のまま保持する。
type RuleSpec struct {
	FeedURL   string
	Title     string
	OlderThan string
	NewerThan string
	Add       []string
	Remove    []string
}

// Rule はコンパイル済みのタグ付けルール。
type Rule struct {
	feedURL   *regexp.Regexp
	title     *regexp.Regexp
	olderThan time.Duration
	newerThan time.Duration
	add       []string
	remove    []string
}

// Compile はRuleSpecをRuleに変換する。
// 追加/削除タグがどちらも空の場合はエラーを返す。
func Compile(spec RuleSpec) (*Rule, error) {
	r := &Rule{add: spec.Add, remove: spec.Remove}
	if len(r.add) == 0 && len(r.remove) == 0 {
		return nil, fmt.Errorf("add または remove のタグを指定してください")
	}

	var err error
	if spec.FeedURL != "" {
		if r.feedURL, err = regexp.Compile(spec.FeedURL); err != nil {
			return nil, fmt.Errorf("feed_url の正規表現が不正です: %w", err)
		}
	}
	if spec.Title != "" {
		if r.title, err = regexp.Compile(spec.Title); err != nil {
			return nil, fmt.Errorf("title の正規表現が不正です: %w", err)
		}
	}
	if spec.OlderThan != "" {
		if r.olderThan, err = time.ParseDuration(spec.OlderThan); err != nil {
			return nil, fmt.Errorf("older_than の期間が不正です: %w", err)
		}
	}
	if spec.NewerThan != "" {
		if r.newerThan, err = time.ParseDuration(spec.NewerThan); err != nil {
			return nil, fmt.Errorf("newer_than の期間が不正です: %w", err)
		}
	}
	return r, nil
}

// Matches はエントリがルールの全条件を満たすかを返す。
func (r *Rule) Matches(e *model.Entry, now time.Time) bool {
	if r.feedURL != nil && !r.feedURL.MatchString(e.FeedURL) {
		return false
	}
	if r.title != nil && !r.title.MatchString(e.Title) {
		return false
	}
	age := now.Sub(e.Time())
	if r.olderThan > 0 && age <= r.olderThan {
		return false
	}
	if r.newerThan > 0 && age >= r.newerThan {
		return false
	}
	return true
}

// Tagger はルール列を新規エントリに適用する。
type Tagger struct {
	rules []*Rule
	now   func() time.Time
}

// New はルール列からTaggerを生成する。
func New(rules []*Rule) *Tagger {
	return &Tagger{rules: rules, now: time.Now}
}

// FromSpecs はRuleSpec列をコンパイルしてTaggerを生成する。
func FromSpecs(specs []RuleSpec) (*Tagger, error) {
	rules := make([]*Rule, 0, len(specs))
	for i, spec := range specs {
		r, err := Compile(spec)
		if err != nil {
			return nil, fmt.Errorf("タグ付けルール %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return New(rules), nil
}

// Len はルール数を返す。
func (t *Tagger) Len() int {
	return len(t.rules)
}

// Hook は新規エントリフックとして全ルールを順に適用する。
func (t *Tagger) Hook(e *model.Entry) error {
	if e.Tags == nil {
		e.Tags = model.NewTagSet()
	}
	now := t.now()
	for _, r := range t.rules {
		if !r.Matches(e, now) {
			continue
		}
		e.Tags.Add(r.add...)
		e.Tags.Remove(r.remove...)
	}
	return nil
}
