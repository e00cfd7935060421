package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/hitoshi/feedtag/internal/feed"
	"github.com/hitoshi/feedtag/internal/filter"
	"github.com/hitoshi/feedtag/internal/model"
	"github.com/hitoshi/feedtag/internal/store"
)

const (
	// defaultEntriesLimit はエントリ一覧の1回の取得件数（デフォルト）。
	defaultEntriesLimit = 100
	// maxEntriesLimit はlimitパラメータの上限。
	maxEntriesLimit = 1000
	// excerptRunes は一覧に含める抜粋の最大文字数。
	excerptRunes = 200
)

// EntryStore はエントリハンドラーが必要とするストアのインターフェース。
type EntryStore interface {
	Entries(opts store.ListOptions) []*model.Entry
	Entry(feedURL, id string) (*model.Entry, error)
	UpdateTags(feedURL, id string, add, remove []string) (*model.Entry, error)
	Feeds() []store.FeedInfo
}

// ContentRenderer はエントリ本文を表示用の安全なHTMLに変換する。
type ContentRenderer interface {
	RenderContent(e *model.Entry) string
}

// EntryHandler はエントリ参照とタグ操作のHTTPハンドラー。
type EntryHandler struct {
	store    EntryStore
	renderer ContentRenderer
}

// NewEntryHandler はEntryHandlerを生成する。
func NewEntryHandler(st EntryStore, renderer ContentRenderer) *EntryHandler {
	return &EntryHandler{store: st, renderer: renderer}
}

// --- レスポンス型 ---

// entrySummaryResponse はエントリ一覧のサマリーレスポンス。
type entrySummaryResponse struct {
	FeedURL string   `json:"feed_url"`
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Link    string   `json:"link"`
	Date    string   `json:"date"`
	Tags    []string `json:"tags"`
	Excerpt string   `json:"excerpt"`
}

// entryListResponse はエントリ一覧のレスポンス。
type entryListResponse struct {
	Filter  string                 `json:"filter"`
	Total   int                    `json:"total"`
	Entries []entrySummaryResponse `json:"entries"`
}

// entryDetailResponse はエントリ詳細のレスポンス。
type entryDetailResponse struct {
	entrySummaryResponse
	ContentType string `json:"content_type"`
	ContentHTML string `json:"content_html"` // サニタイズ済みHTML
}

// updateTagsRequest はタグ更新リクエストのボディ。
type updateTagsRequest struct {
	FeedURL string   `json:"feed_url"`
	ID      string   `json:"id"`
	Add     []string `json:"add"`
	Remove  []string `json:"remove"`
}

// ListEntries はフィルタに一致するエントリ一覧を返す。
// GET /api/entries?filter=+unread -junk&feed=URL&order=desc|asc&limit=N
func (h *EntryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := store.ListOptions{FeedURL: q.Get("feed")}
	switch order := q.Get("order"); order {
	case "", "desc":
	case "asc":
		opts.OldestFirst = true
	default:
		writeAPIError(w, model.NewInvalidOrderError(order))
		return
	}

	limit := defaultEntriesLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeAPIError(w, model.NewInvalidRequestError("limitには正の整数を指定してください"))
			return
		}
		limit = min(n, maxEntriesLimit)
	}

	if opts.FeedURL != "" && !h.hasFeed(opts.FeedURL) {
		writeAPIError(w, model.NewFeedNotFoundError(opts.FeedURL))
		return
	}

	f := filter.Parse(q.Get("filter"))
	matched := f.Apply(h.store.Entries(opts))

	resp := entryListResponse{
		Filter:  f.String(),
		Total:   len(matched),
		Entries: make([]entrySummaryResponse, 0, min(len(matched), limit)),
	}
	for _, e := range lo.Slice(matched, 0, limit) {
		resp.Entries = append(resp.Entries, toEntrySummary(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetEntry はエントリ詳細を返す。本文はサニタイズ済みHTMLとして返す。
// GET /api/entry?feed=URL&id=ID
func (h *EntryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	feedURL := r.URL.Query().Get("feed")
	id := r.URL.Query().Get("id")
	if feedURL == "" || id == "" {
		writeAPIError(w, model.NewInvalidRequestError("feedとidは必須です"))
		return
	}

	e, err := h.store.Entry(feedURL, id)
	if err != nil {
		handleStoreError(w, err, feedURL, id)
		return
	}

	writeJSON(w, http.StatusOK, entryDetailResponse{
		entrySummaryResponse: toEntrySummary(e),
		ContentType:          contentTypeName(e.ContentType),
		ContentHTML:          h.renderer.RenderContent(e),
	})
}

// UpdateTags はエントリのタグを追加・削除する。
// POST /api/entries/tags
func (h *EntryHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req updateTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if req.FeedURL == "" || req.ID == "" {
		writeAPIError(w, model.NewInvalidRequestError("feed_urlとidは必須です"))
		return
	}
	if len(req.Add) == 0 && len(req.Remove) == 0 {
		writeAPIError(w, model.NewInvalidRequestError("addまたはremoveのいずれかを指定してください"))
		return
	}

	e, err := h.store.UpdateTags(req.FeedURL, req.ID, req.Add, req.Remove)
	if err != nil {
		handleStoreError(w, err, req.FeedURL, req.ID)
		return
	}

	writeJSON(w, http.StatusOK, toEntrySummary(e))
}

func (h *EntryHandler) hasFeed(url string) bool {
	return lo.ContainsBy(h.store.Feeds(), func(f store.FeedInfo) bool { return f.URL == url })
}

// --- ヘルパー関数 ---

// toEntrySummary はmodel.EntryからAPIレスポンスに変換する。
func toEntrySummary(e *model.Entry) entrySummaryResponse {
	return entrySummaryResponse{
		FeedURL: e.FeedURL,
		ID:      e.ID,
		Title:   e.Title,
		Link:    e.Link,
		Date:    e.Date,
		Tags:    e.Tags.Slice(),
		Excerpt: feed.Excerpt(e.Content, e.ContentType == model.ContentTypeHTML, excerptRunes),
	}
}

func contentTypeName(ct model.ContentType) string {
	if ct == model.ContentTypeHTML {
		return "html"
	}
	return "text"
}
