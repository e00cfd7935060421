package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedtag/internal/middleware"
)

// Store はAPIが参照するストアの操作をまとめたインターフェース。*store.Store が実装する。
type Store interface {
	EntryStore
	FeedStore
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	RateLimiter     *middleware.RateLimiter
	RequestObserver middleware.RequestObserver

	// エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Store          Store
	Renderer       ContentRenderer
	Updater        UpdateTrigger
	Queue          QueueStatus
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → RateLimit
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.RequestObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	entryHandler := NewEntryHandler(deps.Store, deps.Renderer)
	feedHandler := NewFeedHandler(deps.Store, deps.Updater, deps.Queue, logger)

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/entries", entryHandler.ListEntries)
		r.Post("/entries/tags", entryHandler.UpdateTags)
		r.Get("/entry", entryHandler.GetEntry)

		r.Get("/feeds", feedHandler.ListFeeds)
		r.Post("/update", feedHandler.TriggerUpdate)
		r.Get("/status", feedHandler.Status)
	})

	return r
}
