package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/feedtag/internal/model"
)

// TestWriteAPIError_StatusFollowsCode はエラーコードからステータスが決まることを検証する。
func TestWriteAPIError_StatusFollowsCode(t *testing.T) {
	tests := []struct {
		name       string
		apiErr     *model.APIError
		wantStatus int
		wantCode   string
	}{
		{"InvalidRequest", model.NewInvalidRequestError("limitが不正です"), http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"InvalidOrder", model.NewInvalidOrderError("sideways"), http.StatusBadRequest, model.ErrCodeInvalidOrder},
		{"EntryNotFound", model.NewEntryNotFoundError("https://a.example.com/feed", "x"), http.StatusNotFound, model.ErrCodeEntryNotFound},
		{"FeedNotFound", model.NewFeedNotFoundError("https://a.example.com/feed"), http.StatusNotFound, model.ErrCodeFeedNotFound},
		{"RateLimited", model.NewRateLimitedError(), http.StatusTooManyRequests, model.ErrCodeRateLimited},
		{"Internal", model.NewInternalError(), http.StatusInternalServerError, model.ErrCodeInternal},
		{"UnknownCode", &model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError, "SOMETHING_ELSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAPIError(w, tt.apiErr)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Message != tt.apiErr.Message || body.Category != tt.apiErr.Category || body.Action != tt.apiErr.Action {
				t.Errorf("body = %+v, APIErrorの内容がそのまま返るべき", body)
			}
		})
	}
}

// TestWriteInternalServerError は内部エラーの詳細を含まない500が返ることを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var raw map[string]string
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["code"] != model.ErrCodeInternal || raw["category"] != "system" {
		t.Errorf("body = %v", raw)
	}
	if len(raw) != 4 {
		t.Errorf("fields = %v, want code/message/category/action only", raw)
	}
}
