package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedtag/internal/feed"
	"github.com/hitoshi/feedtag/internal/model"
	"github.com/hitoshi/feedtag/internal/store"
)

// FeedMerger はフェッチ結果の反映先。store.Storeが実装する。
type FeedMerger interface {
	GetOrCreate(feedURL string) *model.Feed
	MergeFeed(feedURL, title string, entries []*model.Entry) store.MergeResult
	RecordFailure(feedURL string, err error)
}

// UpdateMetrics はフィード更新結果の記録先。
type UpdateMetrics interface {
	RecordFetchSuccess(feedURL string)
	RecordFetchFailure(feedURL string, kind model.FailureKind)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEntriesMerged(inserted, updated int)
	RecordHookFailures(count int)
	RecordDateFallbacks(count int)
}

// ErrorReporter はフィード単位の失敗を通知するコールバック。
type ErrorReporter func(*model.FeedError)

// CycleStats は一括更新1回分の集計。
type CycleStats struct {
	StartedAt time.Time
	Requested int
	Succeeded int
	Failed    int
	Inserted  int
	Updated   int
}

// CycleRun は投入済みの一括更新1回分。サイクルごとに集計を分けて持つため、
// 実行中のサイクルと後から投入したサイクルの結果は混ざらない。
type CycleRun struct {
	mu      sync.Mutex
	stats   CycleStats
	pending int
	done    chan struct{}
}

func newCycleRun(requested int) *CycleRun {
	c := &CycleRun{
		stats:   CycleStats{StartedAt: time.Now(), Requested: requested},
		pending: requested,
		done:    make(chan struct{}),
	}
	if requested == 0 {
		close(c.done)
	}
	return c
}

// Requested は投入したフィード数を返す。
func (c *CycleRun) Requested() int {
	return c.stats.Requested
}

// Stats は現時点の集計を返す。
func (c *CycleRun) Stats() CycleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Wait はサイクル内の全フェッチの反映が終わるまで待ち、集計を返す。
func (c *CycleRun) Wait(ctx context.Context) (CycleStats, error) {
	select {
	case <-c.done:
		return c.Stats(), nil
	case <-ctx.Done():
		return c.Stats(), ctx.Err()
	}
}

func (c *CycleRun) recordSuccess(merged store.MergeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Succeeded++
	c.stats.Inserted += merged.Inserted
	c.stats.Updated += merged.Updated
}

func (c *CycleRun) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Failed++
}

func (c *CycleRun) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if c.pending == 0 {
		close(c.done)
	}
}

// Updater は設定済みフィードのフェッチをスケジューラに投入し、
// 完了したフェッチを正規化してストアにマージする。
type Updater struct {
	scheduler   *Scheduler
	store       FeedMerger
	logger      *slog.Logger
	initialTags []string

	mu       sync.Mutex
	feedURLs []string
	metrics  UpdateMetrics
	reporter ErrorReporter
	last     *CycleRun
}

// NewUpdater はUpdaterの新しいインスタンスを生成する。
func NewUpdater(scheduler *Scheduler, st FeedMerger, logger *slog.Logger, feedURLs, initialTags []string) *Updater {
	return &Updater{
		scheduler:   scheduler,
		store:       st,
		logger:      logger,
		initialTags: initialTags,
		feedURLs:    append([]string(nil), feedURLs...),
	}
}

// SetMetrics は更新結果の記録先を設定する。
func (u *Updater) SetMetrics(m UpdateMetrics) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.metrics = m
}

// SetErrorReporter はフィード単位の失敗の通知先を設定する。
func (u *Updater) SetErrorReporter(r ErrorReporter) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reporter = r
}

// FeedURLs は設定済みフィードURLのコピーを返す。
func (u *Updater) FeedURLs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.feedURLs...)
}

// StartCycle は設定済みの全フィードのフェッチを1サイクルとして投入する。
// 完了を待たずに返る。待つ場合は戻り値のWaitを使う。
func (u *Updater) StartCycle(ctx context.Context) *CycleRun {
	urls := u.FeedURLs()
	run := newCycleRun(len(urls))

	u.mu.Lock()
	u.last = run
	u.mu.Unlock()

	u.logger.Info("全フィードの更新を開始します",
		slog.Int("feed_count", len(urls)),
	)

	for _, url := range urls {
		u.enqueue(ctx, url, run)
	}
	return run
}

// UpdateFeed は1フィードのフェッチを投入し、要求IDを返す。どのサイクルにも集計されない。
func (u *Updater) UpdateFeed(ctx context.Context, feedURL string) string {
	return u.enqueue(ctx, feedURL, nil)
}

func (u *Updater) enqueue(ctx context.Context, feedURL string, run *CycleRun) string {
	u.store.GetOrCreate(feedURL)
	return u.scheduler.Enqueue(ctx, feedURL, func(res Result) {
		u.handleResult(run, res)
	})
}

// handleResult はフェッチ完了時の処理。失敗はフィード単位で記録し、他のフィードに影響しない。
func (u *Updater) handleResult(run *CycleRun, res Result) {
	if run != nil {
		defer run.finish()
	}
	m := u.currentMetrics()

	if res.Err != nil {
		u.fail(run, res.URL, model.FailureTransport, fmt.Errorf("%w: %v", model.ErrTransportFailure, res.Err))
		return
	}
	if res.Response == nil {
		u.fail(run, res.URL, model.FailureTransport, fmt.Errorf("%w: レスポンスが空です", model.ErrTransportFailure))
		return
	}

	resp := res.Response
	if m != nil {
		m.RecordHTTPStatus(resp.StatusCode)
		m.RecordFetchLatency(resp.Duration)
	}
	if resp.StatusCode != 200 {
		u.fail(run, res.URL, model.FailureTransport, fmt.Errorf("%w: HTTPステータス %d (%s)",
			model.ErrTransportFailure, resp.StatusCode, ClassifyHTTPStatus(resp.StatusCode)))
		return
	}

	parsed, err := feed.Normalize(res.URL, resp.Body, u.initialTags)
	if err != nil {
		kind := model.FailureParse
		if errors.Is(err, model.ErrUnknownFormat) {
			kind = model.FailureUnknownFormat
		}
		u.fail(run, res.URL, kind, err)
		return
	}

	merged := u.store.MergeFeed(res.URL, parsed.Title, parsed.Entries)

	if run != nil {
		run.recordSuccess(merged)
	}

	if m != nil {
		m.RecordFetchSuccess(res.URL)
		m.RecordEntriesMerged(merged.Inserted, merged.Updated)
		m.RecordHookFailures(merged.HookFailures)
		m.RecordDateFallbacks(parsed.DateFallbacks)
	}

	if parsed.DateFallbacks > 0 {
		u.logger.Warn("日時を解釈できないエントリがありました",
			slog.String("feed_url", res.URL),
			slog.Int("count", parsed.DateFallbacks),
		)
	}

	u.logger.Info("フィードの更新が完了しました",
		slog.String("feed_url", res.URL),
		slog.String("format", parsed.Format.String()),
		slog.Int("entries_inserted", merged.Inserted),
		slog.Int("entries_updated", merged.Updated),
		slog.Int("entries_total", len(parsed.Entries)),
		slog.Float64("duration_ms", float64(resp.Duration.Milliseconds())),
	)
}

func (u *Updater) fail(run *CycleRun, feedURL string, kind model.FailureKind, err error) {
	feedErr := &model.FeedError{FeedURL: feedURL, Kind: kind, Err: err}

	u.store.RecordFailure(feedURL, err)

	if run != nil {
		run.recordFailure()
	}

	u.mu.Lock()
	reporter := u.reporter
	m := u.metrics
	u.mu.Unlock()

	if m != nil {
		m.RecordFetchFailure(feedURL, kind)
	}

	u.logger.Error("フィードの更新に失敗しました",
		slog.String("feed_url", feedURL),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)

	if reporter != nil {
		reporter(feedErr)
	}
}

func (u *Updater) currentMetrics() UpdateMetrics {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.metrics
}

// Cycle は最後に開始した一括更新の集計を返す。
func (u *Updater) Cycle() CycleStats {
	u.mu.Lock()
	last := u.last
	u.mu.Unlock()
	if last == nil {
		return CycleStats{}
	}
	return last.Stats()
}
