// Package fetch はフィードのフェッチ処理を提供する。
// 同時接続数を制限するスケジューラ、HTTPトランスポート、
// フェッチ結果をストアへ反映するアップデータ、定期実行のポーラーを含む。
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Response はトランスポートが返すHTTPレスポンス。ボディは読み込み済み。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Transport はURLを取得するトランスポートのインターフェース。
type Transport interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Result はフェッチ1件の結果。Errがnilでもステータスが200とは限らない。
type Result struct {
	RequestID string
	URL       string
	Response  *Response
	Err       error
}

// CompletionFunc はフェッチ完了時に1回だけ呼び出される。
// 呼び出し時点で接続スロットは解放済みであり、次のリクエストが開始されている。
type CompletionFunc func(Result)

// QueueMetrics はキューと実行中リクエスト数の記録先。
type QueueMetrics interface {
	SetQueueDepth(queued, inFlight int)
}

// SchedulerStats はスケジューラの状態。
type SchedulerStats struct {
	Queued         int
	InFlight       int
	MaxConnections int
	Completed      uint64
}

// request はキュー内のフェッチ要求。
type request struct {
	id     string
	ctx    context.Context
	url    string
	onDone CompletionFunc
}

// Scheduler はフェッチ要求をFIFOキューで受け付け、同時実行数を上限以下に保って実行する。
// 要求はキャンセルできず、完了時に必ずコールバックが呼ばれる。
type Scheduler struct {
	transport      Transport
	logger         *slog.Logger
	metrics        QueueMetrics
	maxConnections int

	mu        sync.Mutex
	queue     []*request
	inFlight  map[string]*request
	pending   int
	completed uint64
	idle      chan struct{}
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConnectionsが0以下の場合はデフォルト値6を使用する。
func NewScheduler(transport Transport, logger *slog.Logger, maxConnections int) *Scheduler {
	if maxConnections <= 0 {
		maxConnections = 6
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		transport:      transport,
		logger:         logger,
		maxConnections: maxConnections,
		inFlight:       make(map[string]*request),
		idle:           idle,
	}
}

// SetMetrics はキュー状態の記録先を設定する。
func (s *Scheduler) SetMetrics(m QueueMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Enqueue はフェッチ要求をキューに追加し、要求IDを返す。
// 空きスロットがあれば即座に開始する。ctxはトランスポート呼び出しに渡される。
func (s *Scheduler) Enqueue(ctx context.Context, url string, onDone CompletionFunc) string {
	req := &request{
		id:     uuid.NewString(),
		ctx:    ctx,
		url:    url,
		onDone: onDone,
	}

	s.mu.Lock()
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
	s.queue = append(s.queue, req)
	s.admitLocked()
	queued, inFlight := len(s.queue), len(s.inFlight)
	s.mu.Unlock()

	s.logger.Debug("フェッチ要求をキューに追加しました",
		slog.String("request_id", req.id),
		slog.String("url", url),
		slog.Int("queued", queued),
		slog.Int("in_flight", inFlight),
	)
	s.recordDepth(queued, inFlight)
	return req.id
}

// admitLocked は空きスロットの分だけキュー先頭から要求を開始する。
func (s *Scheduler) admitLocked() {
	for len(s.inFlight) < s.maxConnections && len(s.queue) > 0 {
		req := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.inFlight[req.id] = req
		go s.run(req)
	}
}

// run はトランスポート呼び出しをロック外で実行し、完了処理を行う。
func (s *Scheduler) run(req *request) {
	result := Result{RequestID: req.id, URL: req.url}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("トランスポートでパニックが発生: %v", r)
			}
		}()
		result.Response, result.Err = s.transport.Fetch(req.ctx, req.url)
	}()

	s.mu.Lock()
	delete(s.inFlight, req.id)
	s.admitLocked()
	queued, inFlight := len(s.queue), len(s.inFlight)
	s.mu.Unlock()
	s.recordDepth(queued, inFlight)

	s.complete(req, result)

	s.mu.Lock()
	s.pending--
	s.completed++
	if s.pending == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

// complete は完了コールバックを呼び出す。パニックは記録して握りつぶす。
func (s *Scheduler) complete(req *request, result Result) {
	if req.onDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("完了コールバックでパニックが発生しました",
				slog.String("request_id", req.id),
				slog.String("url", req.url),
				slog.Any("panic", r),
			)
		}
	}()
	req.onDone(result)
}

func (s *Scheduler) recordDepth(queued, inFlight int) {
	s.mu.Lock()
	m := s.metrics
	s.mu.Unlock()
	if m != nil {
		m.SetQueueDepth(queued, inFlight)
	}
}

// WaitIdle はキューと実行中の要求が全て完了し、コールバックが返るまで待つ。
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight は実行中の要求数を返す。
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Queued は開始待ちの要求数を返す。
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats はスケジューラの状態を返す。
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Queued:         len(s.queue),
		InFlight:       len(s.inFlight),
		MaxConnections: s.maxConnections,
		Completed:      s.completed,
	}
}
