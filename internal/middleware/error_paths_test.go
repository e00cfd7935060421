package middleware_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/feedtag/internal/handler"
	"github.com/hitoshi/feedtag/internal/middleware"
	"github.com/hitoshi/feedtag/internal/model"
	"github.com/hitoshi/feedtag/internal/security"
	"github.com/hitoshi/feedtag/internal/store"
)

const errPathFeed = "https://a.example.com/atom.xml"

// newAPIServer は実際のルーターとストアで組み立てたAPIを返す。
func newAPIServer(t *testing.T, rl middleware.RateLimiterConfig) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	st := store.New(logger)
	st.MergeFeed(errPathFeed, "Feed A", []*model.Entry{
		{ID: "a1", Title: "A1", Date: "2024-01-01T00:00:00Z", Tags: model.NewTagSet("unread")},
	})

	limiter := middleware.NewRateLimiter(rl, logger)
	t.Cleanup(limiter.Stop)

	return handler.NewRouter(&handler.RouterDeps{
		Logger:      logger,
		RateLimiter: limiter,
		Store:       st,
		Renderer:    security.NewSanitizer(),
	})
}

// TestAPIErrorPaths はハンドラーのエラー経路が統一フォーマットと正しいステータスで返ることを検証する。
func TestAPIErrorPaths(t *testing.T) {
	srv := newAPIServer(t, middleware.DefaultRateLimiterConfig())

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"不正なorder", "/api/entries?order=sideways", http.StatusBadRequest, model.ErrCodeInvalidOrder},
		{"不正なlimit", "/api/entries?limit=-3", http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"未知のフィード", "/api/entries?feed=" + url.QueryEscape("https://unknown.example.com/rss"), http.StatusNotFound, model.ErrCodeFeedNotFound},
		{"存在しないエントリ", "/api/entry?feed=" + url.QueryEscape(errPathFeed) + "&id=missing", http.StatusNotFound, model.ErrCodeEntryNotFound},
		{"idなし", "/api/entry?feed=" + url.QueryEscape(errPathFeed), http.StatusBadRequest, model.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Message == "" || body.Action == "" {
				t.Errorf("messageとactionは空であってはならない: %+v", body)
			}
		})
	}
}

// TestAPIErrorPaths_RateLimited はAPIルートでのレート制限超過が429の統一フォーマットになることを検証する。
func TestAPIErrorPaths_RateLimited(t *testing.T) {
	srv := newAPIServer(t, middleware.RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute})

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/entries", nil))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entries", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されるべき")
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}
