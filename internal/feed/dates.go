package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/hitoshi/feedtag/internal/model"
)

// dateSource は日時候補。gofeedが解釈済みの値があればそれを優先し、
// なければ生文字列をdateparseで解釈する。
type dateSource struct {
	parsed *time.Time
	raw    string
}

// pickDate は候補を優先順に評価し、最初に解釈できた日時を正規化して返す。
// いずれも解釈できなければ番兵値とfalseを返す。
func pickDate(sources ...dateSource) (string, bool) {
	for _, src := range sources {
		if src.parsed != nil && !src.parsed.IsZero() {
			if d := model.FormatDate(*src.parsed); d != model.UnknownDate {
				return d, true
			}
		}
		if strings.TrimSpace(src.raw) == "" {
			continue
		}
		t, err := ParseDate(src.raw)
		if err != nil {
			continue
		}
		if d := model.FormatDate(t); d != model.UnknownDate {
			return d, true
		}
	}
	return model.UnknownDate, false
}

// ParseDate は RFC 3339 / RFC 822 / W3CDTF などの日時文字列を解釈する。
// タイムゾーン指定のない文字列はUTCとして扱う。
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", model.ErrDateParse, raw, err)
	}
	return t.UTC(), nil
}
