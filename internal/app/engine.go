package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feedtag/internal/config"
	"github.com/hitoshi/feedtag/internal/database"
	"github.com/hitoshi/feedtag/internal/metrics"
	"github.com/hitoshi/feedtag/internal/repository"
	"github.com/hitoshi/feedtag/internal/security"
	"github.com/hitoshi/feedtag/internal/store"
	"github.com/hitoshi/feedtag/internal/tagger"
	"github.com/hitoshi/feedtag/internal/worker/fetch"
)

// engine は各サブコマンドが共有するストアとフェッチ系の依存関係をまとめる。
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *prometheus.Registry
	metrics   *metrics.Collector
	store     *store.Store
	sanitizer *security.Sanitizer
	scheduler *fetch.Scheduler
	updater   *fetch.Updater

	// DATABASE_URL未設定時はnil
	db        *sql.DB
	persister store.Persister

	// 最後に保存したときのストアのリビジョン
	savedRev atomic.Uint64
}

// newEngine は設定から依存関係を組み立てる。
// DATABASE_URLが設定されていればマイグレーションを適用し、保存済みのスナップショットを復元する。
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	st := store.New(logger)
	t, err := buildTagger(cfg)
	if err != nil {
		return nil, err
	}
	if t.Len() > 0 {
		st.AddNewEntryHook(t.Hook)
	}

	guard := security.NewGuard(cfg.AllowPrivateHosts)
	transport := fetch.NewHTTPTransport(guard, logger, fetch.HTTPTransportConfig{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.UserAgent,
		HostRate:    cfg.FetchHostRate,
	})
	scheduler := fetch.NewScheduler(transport, logger, cfg.MaxConnections)
	scheduler.SetMetrics(collector)

	updater := fetch.NewUpdater(scheduler, st, logger, cfg.FeedURLs(), cfg.InitialTags)
	updater.SetMetrics(collector)

	e := &engine{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		metrics:   collector,
		store:     st,
		sanitizer: security.NewSanitizer(),
		scheduler: scheduler,
		updater:   updater,
	}

	if cfg.DatabaseURL != "" {
		if err := e.openPersistence(ctx); err != nil {
			return nil, err
		}
	}
	e.metrics.SetStoreEntries(e.store.Stats().Entries)

	return e, nil
}

// buildTagger は設定のタグ付けルールとフィードごとのタグからTaggerを生成する。
// フィードごとのタグはURL完全一致のルールとして末尾に追加する。
func buildTagger(cfg *config.Config) (*tagger.Tagger, error) {
	specs := make([]tagger.RuleSpec, 0, len(cfg.Taggers)+len(cfg.Feeds))
	for _, ts := range cfg.Taggers {
		specs = append(specs, tagger.RuleSpec{
			FeedURL:   ts.FeedURL,
			Title:     ts.Title,
			OlderThan: ts.OlderThan,
			NewerThan: ts.NewerThan,
			Add:       ts.Add,
			Remove:    ts.Remove,
		})
	}
	for _, f := range cfg.Feeds {
		if len(f.Tags) == 0 {
			continue
		}
		specs = append(specs, tagger.RuleSpec{
			FeedURL: "^" + regexp.QuoteMeta(f.URL) + "$",
			Add:     f.Tags,
		})
	}

	t, err := tagger.FromSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("invalid tagger config: %w", err)
	}
	return t, nil
}

// openPersistence はDB接続を開き、マイグレーション適用後にスナップショットを復元する。
func (e *engine) openPersistence(ctx context.Context) error {
	db, err := database.Open(e.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return err
	}
	e.logger.Info("database connection established")

	status, err := database.RunMigrations(e.cfg.DatabaseURL)
	if err != nil {
		db.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	e.logger.Info("database schema ready",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)

	repo := repository.NewSnapshotRepo(db)
	if err := e.store.LoadFrom(ctx, repo); err != nil {
		db.Close()
		return err
	}

	e.db = db
	e.persister = repo
	return nil
}

// save は永続化が有効な場合にストアの内容を保存する。
func (e *engine) save(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	rev := e.store.Revision()
	if err := e.store.SaveTo(ctx, e.persister); err != nil {
		return err
	}
	e.savedRev.Store(rev)
	return nil
}

// saveIfChanged は前回の保存以降にストアが変更されている場合だけ保存する。
func (e *engine) saveIfChanged(ctx context.Context) error {
	if e.persister == nil || e.store.Revision() == e.savedRev.Load() {
		return nil
	}
	return e.save(ctx)
}

// runSaver はAPIからのタグ編集など更新サイクル外の変更を一定間隔で保存する。
// コンテキストがキャンセルされるまで継続する。
func (e *engine) runSaver(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.saveIfChanged(ctx); err != nil {
				e.logger.Error("failed to save snapshot", slog.String("error", err.Error()))
			}
		}
	}
}

// afterCycle は更新サイクル完了後にメトリクスを更新し、スナップショットを保存する。
func (e *engine) afterCycle(ctx context.Context, _ fetch.CycleStats) error {
	e.metrics.SetStoreEntries(e.store.Stats().Entries)
	return e.save(ctx)
}

// poller はafterCycleを後処理に持つPollerを生成する。
func (e *engine) poller() *fetch.Poller {
	return fetch.NewPoller(e.updater, e.scheduler, e.logger, e.afterCycle)
}

// close はDB接続を閉じる。
func (e *engine) close() {
	if e.db != nil {
		e.db.Close()
	}
}
