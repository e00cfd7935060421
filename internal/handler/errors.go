package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedtag/internal/middleware"
	"github.com/hitoshi/feedtag/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIError は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteAPIError(w, apiErr)
}

// handleStoreError はストアから返されたエラーを適切なHTTPステータスコードに変換する。
func handleStoreError(w http.ResponseWriter, err error, feedURL, id string) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		writeAPIError(w, apiErr)
	case errors.Is(err, model.ErrEntryNotFound):
		writeAPIError(w, model.NewEntryNotFoundError(feedURL, id))
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}
