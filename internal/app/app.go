package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/feedtag/internal/config"
	"github.com/hitoshi/feedtag/internal/database"
	"github.com/hitoshi/feedtag/internal/filter"
	"github.com/hitoshi/feedtag/internal/handler"
	"github.com/hitoshi/feedtag/internal/logger"
	"github.com/hitoshi/feedtag/internal/metrics"
	"github.com/hitoshi/feedtag/internal/middleware"
	"github.com/hitoshi/feedtag/internal/model"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。outにはfetch/listの結果を、logWにはログを出力する。
func Run(out, logW io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(logW)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Int("feeds", len(cfg.Feeds)),
		slog.Bool("persistence", cfg.DatabaseURL != ""),
	)

	if cmd == CommandMigrate {
		return runMigrate(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer eng.close()

	switch cmd {
	case CommandFetch:
		return runFetch(ctx, eng, out)
	case CommandList:
		return runList(ctx, eng, out, FilterQuery(args))
	default:
		return runServe(ctx, eng)
	}
}

// runServe はHTTP APIと定期更新ポーラーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行い、
// 最後にスナップショットを保存する。
func runServe(ctx context.Context, eng *engine) error {
	cfg := eng.cfg

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral), eng.logger,
	)
	defer rateLimiter.Stop()

	pol := eng.poller()

	deps := &handler.RouterDeps{
		Logger:          eng.logger,
		RateLimiter:     rateLimiter,
		RequestObserver: eng.metrics,
		MetricsHandler:  metrics.Handler(eng.registry),
		Store:           eng.store,
		Renderer:        eng.sanitizer,
		Updater:         pol,
		Queue:           eng.scheduler,
	}
	// *sql.DBのnilをインターフェースに入れないようにする
	if eng.db != nil {
		deps.HealthChecker = eng.db
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		pol.Start(gctx, cfg.FetchInterval)
		return nil
	})

	if eng.persister != nil {
		g.Go(func() error {
			eng.runSaver(gctx, cfg.SnapshotInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()

	// 実行中のフェッチの完了を待ってから最終状態を保存する
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if werr := eng.scheduler.WaitIdle(drainCtx); werr != nil {
		slog.Warn("in-flight fetches did not finish before shutdown", slog.String("error", werr.Error()))
	}
	if serr := eng.save(drainCtx); serr != nil {
		slog.Error("failed to save snapshot on shutdown", slog.String("error", serr.Error()))
	}

	if err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runFetch は全フィードを1回更新し、完了後に結果の集計を出力する。
func runFetch(ctx context.Context, eng *engine, out io.Writer) error {
	if len(eng.updater.FeedURLs()) == 0 {
		return fmt.Errorf("no feeds configured: set FEED_URLS or FEEDS_FILE")
	}

	var (
		mu       sync.Mutex
		failures []*model.FeedError
	)
	eng.updater.SetErrorReporter(func(fe *model.FeedError) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, fe)
	})

	if err := eng.poller().RunOnce(ctx); err != nil {
		return fmt.Errorf("fetch cycle failed: %w", err)
	}

	stats := eng.updater.Cycle()
	fmt.Fprintf(out, "feeds: %d, succeeded: %d, failed: %d, new entries: %d, updated entries: %d\n",
		stats.Requested, stats.Succeeded, stats.Failed, stats.Inserted, stats.Updated)

	mu.Lock()
	defer mu.Unlock()
	slices.SortFunc(failures, func(a, b *model.FeedError) int {
		return strings.Compare(a.FeedURL, b.FeedURL)
	})
	for _, fe := range failures {
		fmt.Fprintf(out, "  error %s (%s): %v\n", fe.FeedURL, fe.Kind, fe.Err)
	}
	return nil
}

// runList はフィルタに一致するエントリを新しい順に出力する。
// 永続化が無効な場合は先に全フィードを更新する。
func runList(ctx context.Context, eng *engine, out io.Writer, query string) error {
	if eng.persister == nil && len(eng.updater.FeedURLs()) > 0 {
		if err := eng.poller().RunOnce(ctx); err != nil {
			return fmt.Errorf("fetch cycle failed: %w", err)
		}
	}

	f := filter.Parse(query)
	entries := f.Apply(eng.store.AllEntries())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		date := e.Date
		if len(date) >= 10 {
			date = date[:10]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t(%s)\n", date, e.FeedURL, e.Title, strings.Join(e.Tags.Slice(), " "))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write entries: %w", err)
	}

	slog.Info("listed entries",
		slog.String("filter", f.String()),
		slog.Int("count", len(entries)),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
