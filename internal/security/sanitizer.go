package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/feedtag/internal/model"
)

// Sanitizer はエントリ本文を表示用の安全なHTMLに変換する。
// ストアには元の本文を保持し、API応答時にのみ変換する。
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer はフィード本文向けの許可リストポリシーでSanitizerを生成する。
// script/style/iframeとon*属性は許可リストに含めないため除去される。
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "div", "span",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "dl", "dt", "dd",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "u", "s", "sub", "sup",
		"figure", "figcaption",
		"table", "thead", "tbody", "tr", "th", "td",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowAttrs("title").OnElements("abbr", "a")

	return &Sanitizer{policy: p}
}

// Sanitize はHTML断片をサニタイズする。
func (s *Sanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// RenderContent はエントリ本文を表示用HTMLに変換する。
// HTML本文はサニタイズし、プレーンテキストはエスケープする。
// 本文は正規化時に改行が空白へ畳まれている。
func (s *Sanitizer) RenderContent(e *model.Entry) string {
	if e.Content == "" {
		return ""
	}
	if e.ContentType == model.ContentTypeHTML {
		return s.Sanitize(e.Content)
	}
	return html.EscapeString(e.Content)
}
