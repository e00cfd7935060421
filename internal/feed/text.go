package feed

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// blankRun は改行/タブを含む空白の連続にマッチする。
var blankRun = regexp.MustCompile(`[ ]*[\r\n\t]+[ \r\n\t]*`)

// CleanText は前後の空白を除去し、内部の改行/タブの連続を1つの空白に置換する。
func CleanText(s string) string {
	return strings.TrimSpace(blankRun.ReplaceAllString(s, " "))
}

// Excerpt はエントリ本文からプレーンテキストの抜粋を生成する。
// HTML本文はテキストノードのみを連結する。maxRunesを超える部分は「…」で省略する。
func Excerpt(content string, isHTML bool, maxRunes int) string {
	text := content
	if isHTML {
		text = htmlText(content)
	}
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// htmlText はHTML断片のテキストノードを連結して返す。
// script/style要素の中身は含めない。
func htmlText(fragment string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}
