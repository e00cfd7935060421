package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// HTTPTransportConfig はHTTPTransportの設定。
type HTTPTransportConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
	// HostRate はホストごとの1秒あたりの最大リクエスト数。0以下で無制限。
	HostRate float64
}

// HTTPTransport はSSRF検証とホスト単位のレート制限付きでフィードを取得する。
type HTTPTransport struct {
	guard       SSRFValidator
	client      *http.Client
	logger      *slog.Logger
	userAgent   string
	maxBodySize int64
	hostRate    float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPTransport はHTTPTransportの新しいインスタンスを生成する。
func NewHTTPTransport(guard SSRFValidator, logger *slog.Logger, cfg HTTPTransportConfig) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "feedtag/1.0"
	}
	return &HTTPTransport{
		guard:       guard,
		client:      guard.NewSafeClient(cfg.Timeout, cfg.MaxBodySize),
		logger:      logger,
		userAgent:   cfg.UserAgent,
		maxBodySize: cfg.MaxBodySize,
		hostRate:    cfg.HostRate,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Fetch はURLをGETし、ステータスとボディを返す。
// ステータスコードの判定は呼び出し側で行う。
func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	start := time.Now()

	if err := t.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	if err := t.wait(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("レート制限の待機に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, */*")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	duration := time.Since(start)
	t.logger.Debug("フィードを取得しました",
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   duration,
	}, nil
}

// wait はホストごとのレートリミッターでトークンを待つ。
func (t *HTTPTransport) wait(ctx context.Context, rawURL string) error {
	if t.hostRate <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())

	t.mu.Lock()
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(t.hostRate), 1)
		t.limiters[host] = limiter
	}
	t.mu.Unlock()

	return limiter.Wait(ctx)
}
