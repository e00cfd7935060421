package feed

import (
	"bytes"
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"
)

// atomSummaryDoc はsummary要素のtype属性だけを取り出すための構造。
type atomSummaryDoc struct {
	Entries []struct {
		Summary struct {
			Type string `xml:"type,attr"`
		} `xml:"summary"`
	} `xml:"entry"`
}

// atomSummaryTypes はAtom文書の各entryのsummary要素のtype属性を文書順に返す。
// atom.Entryはsummaryのtypeを保持しないため文書を別途読む。読めない場合はnil。
func atomSummaryTypes(doc []byte) []string {
	d := xml.NewDecoder(bytes.NewReader(doc))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity

	var parsed atomSummaryDoc
	if err := d.Decode(&parsed); err != nil {
		return nil
	}
	types := make([]string, len(parsed.Entries))
	for i, e := range parsed.Entries {
		types[i] = e.Summary.Type
	}
	return types
}

// isHTMLType はAtomのtype属性がHTML系(html, xhtml, text/html)かを返す。
func isHTMLType(t string) bool {
	return strings.Contains(strings.ToLower(t), "html")
}
