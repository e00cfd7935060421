package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedtag/internal/store"
	"github.com/hitoshi/feedtag/internal/worker/fetch"
)

// FeedStore はフィードハンドラーが必要とするストアのインターフェース。
type FeedStore interface {
	Feeds() []store.FeedInfo
	Stats() store.Stats
}

// UpdateTrigger は全フィードの更新を開始する。fetch.Poller が実装する。
type UpdateTrigger interface {
	Trigger(ctx context.Context) int
}

// QueueStatus はフェッチスケジューラの状態を返す。fetch.Scheduler が実装する。
type QueueStatus interface {
	Stats() fetch.SchedulerStats
}

// FeedHandler はフィード一覧、更新要求、状態参照のHTTPハンドラー。
type FeedHandler struct {
	store   FeedStore
	updater UpdateTrigger
	queue   QueueStatus
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(st FeedStore, updater UpdateTrigger, queue QueueStatus, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{
		store:   st,
		updater: updater,
		queue:   queue,
		logger:  logger,
	}
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	EntryCount    int        `json:"entry_count"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	FailureCount  int        `json:"failure_count"`
	LastError     string     `json:"last_error,omitempty"`
}

// updateResponse は更新要求のレスポンス。
type updateResponse struct {
	Enqueued int `json:"enqueued"`
}

// statusResponse はエンジン全体の状態のレスポンス。
type statusResponse struct {
	LastUpdate     *time.Time     `json:"last_update,omitempty"`
	Feeds          int            `json:"feeds"`
	Entries        int            `json:"entries"`
	Tags           map[string]int `json:"tags"`
	InFlight       int            `json:"in_flight"`
	Queued         int            `json:"queued"`
	MaxConnections int            `json:"max_connections"`
	Completed      uint64         `json:"completed"`
}

// ListFeeds はフィード一覧をURL順に返す。
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	infos := h.store.Feeds()
	resp := make([]feedResponse, 0, len(infos))
	for _, f := range infos {
		resp = append(resp, feedResponse{
			URL:           f.URL,
			Title:         f.Title,
			EntryCount:    f.EntryCount,
			LastFetchedAt: timePtr(f.LastFetchedAt),
			FailureCount:  f.FailureCount,
			LastError:     f.LastError,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerUpdate は全フィードの更新をキューに投入し、完了を待たずに202を返す。
// フェッチはリクエスト終了後も続くため、キャンセルを伝播しないコンテキストで投入する。
// POST /api/update
func (h *FeedHandler) TriggerUpdate(w http.ResponseWriter, r *http.Request) {
	n := h.updater.Trigger(context.WithoutCancel(r.Context()))

	h.logger.Info("update requested via API", slog.Int("enqueued", n))
	writeJSON(w, http.StatusAccepted, updateResponse{Enqueued: n})
}

// Status はストアとスケジューラの状態を返す。
// GET /api/status
func (h *FeedHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.store.Stats()
	qs := h.queue.Stats()

	writeJSON(w, http.StatusOK, statusResponse{
		LastUpdate:     timePtr(st.LastUpdate),
		Feeds:          st.Feeds,
		Entries:        st.Entries,
		Tags:           st.Tags,
		InFlight:       qs.InFlight,
		Queued:         qs.Queued,
		MaxConnections: qs.MaxConnections,
		Completed:      qs.Completed,
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
