package fetch

import (
	"context"
	"log/slog"
	"time"
)

// CycleHook は一括更新の完了後に呼び出される。スナップショット保存などに使う。
type CycleHook func(ctx context.Context, stats CycleStats) error

// Poller は一定間隔で全フィードの更新を実行する。
type Poller struct {
	updater   *Updater
	scheduler *Scheduler
	logger    *slog.Logger
	after     []CycleHook
}

// NewPoller はPollerの新しいインスタンスを生成する。
func NewPoller(updater *Updater, scheduler *Scheduler, logger *slog.Logger, after ...CycleHook) *Poller {
	return &Poller{
		updater:   updater,
		scheduler: scheduler,
		logger:    logger,
		after:     after,
	}
}

// Start は指定間隔のティッカーで更新を繰り返す。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("フィード更新ポーラーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_connections", p.scheduler.Stats().MaxConnections),
	)

	if err := p.RunOnce(ctx); err != nil {
		p.logger.Error("更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("フィード更新ポーラーを停止しました")
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.logger.Error("更新サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全フィードの更新を投入し、そのサイクルの完了を待ってから後処理を呼び出す。
func (p *Poller) RunOnce(ctx context.Context) error {
	run := p.updater.StartCycle(ctx)
	if run.Requested() == 0 {
		p.logger.Info("更新対象のフィードはありません")
		return nil
	}
	return p.finish(ctx, run)
}

// Trigger は全フィードの更新を投入して即座に投入数を返す。
// 完了待ちと後処理はバックグラウンドで行う。
func (p *Poller) Trigger(ctx context.Context) int {
	run := p.updater.StartCycle(ctx)
	if run.Requested() == 0 {
		return 0
	}
	go func() {
		if err := p.finish(ctx, run); err != nil {
			p.logger.Error("更新サイクルの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
	return run.Requested()
}

func (p *Poller) finish(ctx context.Context, run *CycleRun) error {
	stats, err := run.Wait(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("更新サイクルが完了しました",
		slog.Int("feed_count", stats.Requested),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("entries_inserted", stats.Inserted),
		slog.Float64("duration_ms", float64(time.Since(stats.StartedAt).Milliseconds())),
	)

	for _, hook := range p.after {
		if err := hook(ctx, stats); err != nil {
			p.logger.Error("更新サイクルの後処理に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
