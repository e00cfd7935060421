// Package feed はAtom/RSS文書を正規化されたエントリ列に変換する。
//
// Normalize は純粋関数であり、ストアには触れない。
// 形式判別はルート要素で行い、Atom/RSSそれぞれの抽出規則を適用する。
package feed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"

	"github.com/hitoshi/feedtag/internal/model"
)

// Format はフィード文書の形式。
type Format int

const (
	// FormatUnknown はAtomでもRSSでもない文書。
	FormatUnknown Format = iota
	// FormatAtom はルート要素が feed の文書。
	FormatAtom
	// FormatRSS はルート要素が rss または rdf の文書。
	FormatRSS
)

// String は形式名を返す。
func (f Format) String() string {
	switch f {
	case FormatAtom:
		return "atom"
	case FormatRSS:
		return "rss"
	default:
		return "unknown"
	}
}

// Result はNormalizeの結果。
type Result struct {
	Format  Format
	Title   string
	Entries []*model.Entry
	// DateFallbacks は日時が取得できず番兵値を割り当てたエントリ数。
	DateFallbacks int
	// Skipped は識別子を決定できず破棄した要素数。
	Skipped int
}

// Classify は文書のルート要素から形式を判別する。
// JSON Feedなど対象外の形式はFormatUnknownとなる。
func Classify(doc []byte) Format {
	switch gofeed.DetectFeedType(bytes.NewReader(doc)) {
	case gofeed.FeedTypeAtom:
		return FormatAtom
	case gofeed.FeedTypeRSS:
		return FormatRSS
	default:
		return FormatUnknown
	}
}

// Normalize はフィード文書をエントリ列に変換する。
// 各エントリにはfeedURLとinitialTagsのコピーが設定される。
// 形式が判別できない場合はmodel.ErrUnknownFormatを、
// 文書が壊れている場合はmodel.ErrParseFailureをラップしたエラーを返す。
func Normalize(feedURL string, doc []byte, initialTags []string) (*Result, error) {
	switch Classify(doc) {
	case FormatAtom:
		return normalizeAtom(feedURL, doc, initialTags)
	case FormatRSS:
		return normalizeRSS(feedURL, doc, initialTags)
	default:
		return nil, fmt.Errorf("%w: ルート要素が feed/rss/rdf ではありません", model.ErrUnknownFormat)
	}
}

func normalizeAtom(feedURL string, doc []byte, initialTags []string) (*Result, error) {
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: Atom: %v", model.ErrParseFailure, err)
	}

	res := &Result{
		Format:  FormatAtom,
		Title:   CleanText(parsed.Title),
		Entries: make([]*model.Entry, 0, len(parsed.Entries)),
	}

	summaryTypes := atomSummaryTypes(doc)
	if len(summaryTypes) != len(parsed.Entries) {
		summaryTypes = nil
	}

	for i, item := range parsed.Entries {
		if item == nil {
			continue
		}

		alternate, anyLink := atomLinks(item.Links)
		id := CleanText(item.ID)
		if id == "" {
			id = CleanText(alternate)
		}
		if id == "" {
			id = CleanText(anyLink)
		}
		if id == "" {
			res.Skipped++
			continue
		}

		date, ok := pickDate(
			dateSource{parsed: item.PublishedParsed, raw: item.Published},
			dateSource{parsed: item.UpdatedParsed, raw: item.Updated},
			dateSource{raw: extensionValue(item.Extensions, "dc", "date")},
		)
		if !ok {
			res.DateFallbacks++
		}

		link := alternate
		if link == "" {
			link = anyLink
		}

		content, contentType := item.Summary, model.ContentTypePlain
		if summaryTypes != nil && isHTMLType(summaryTypes[i]) {
			contentType = model.ContentTypeHTML
		}
		if item.Content != nil && strings.TrimSpace(item.Content.Value) != "" {
			content, contentType = item.Content.Value, model.ContentTypePlain
			if isHTMLType(item.Content.Type) {
				contentType = model.ContentTypeHTML
			}
		}

		res.Entries = append(res.Entries, &model.Entry{
			FeedURL:     feedURL,
			ID:          id,
			Title:       CleanText(item.Title),
			Link:        strings.TrimSpace(link),
			Date:        date,
			Content:     CleanText(content),
			ContentType: contentType,
			Tags:        model.NewTagSet(initialTags...),
		})
	}

	return res, nil
}

// atomLinks は alternate 関係のリンクと最初に見つかったリンクを返す。
// rel 属性のないリンクは alternate として扱う。
func atomLinks(links []*atom.Link) (alternate, first string) {
	for _, l := range links {
		if l == nil || strings.TrimSpace(l.Href) == "" {
			continue
		}
		if first == "" {
			first = l.Href
		}
		if alternate == "" && (l.Rel == "" || strings.EqualFold(l.Rel, "alternate")) {
			alternate = l.Href
		}
	}
	return alternate, first
}

func normalizeRSS(feedURL string, doc []byte, initialTags []string) (*Result, error) {
	parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: RSS: %v", model.ErrParseFailure, err)
	}

	res := &Result{
		Format:  FormatRSS,
		Title:   CleanText(parsed.Title),
		Entries: make([]*model.Entry, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		var guid string
		if item.GUID != nil {
			guid = CleanText(item.GUID.Value)
		}
		link := strings.TrimSpace(item.Link)

		id := guid
		if id == "" {
			id = CleanText(link)
		}
		if id == "" {
			res.Skipped++
			continue
		}

		// リンクがなくGUIDがURL形式の場合はGUIDをリンクとして使用
		if link == "" && (strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://")) {
			link = guid
		}

		date, ok := pickDate(
			dateSource{parsed: item.PubDateParsed, raw: item.PubDate},
			dateSource{raw: extensionValue(item.Extensions, "atom", "updated")},
			dateSource{raw: extensionValue(item.Extensions, "dc", "date")},
		)
		if !ok {
			res.DateFallbacks++
		}

		content := item.Content
		if strings.TrimSpace(content) == "" {
			content = item.Description
		}

		res.Entries = append(res.Entries, &model.Entry{
			FeedURL:     feedURL,
			ID:          id,
			Title:       CleanText(item.Title),
			Link:        link,
			Date:        date,
			Content:     CleanText(content),
			ContentType: model.ContentTypePlain,
			Tags:        model.NewTagSet(initialTags...),
		})
	}

	return res, nil
}

// extensionValue は名前空間拡張要素の最初の値を返す。
func extensionValue(exts ext.Extensions, prefix, name string) string {
	if exts == nil {
		return ""
	}
	values := exts[prefix][name]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}
