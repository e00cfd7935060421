package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数（とFEEDS_FILEのYAML）から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Feeds
	Feeds       []FeedSpec
	Taggers     []TaggerSpec
	InitialTags []string

	// Fetch
	MaxConnections    int
	FetchTimeout      time.Duration
	FetchMaxSize      int64
	FetchInterval     time.Duration
	FetchHostRate     float64
	AllowPrivateHosts bool
	UserAgent         string

	// Database（空の場合は永続化しない）
	DatabaseURL      string
	SnapshotInterval time.Duration

	// Server
	ServerPort       string
	RateLimitGeneral int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// FEEDS_FILE が指定されていればYAMLを読み込み、FEED_URLS と統合する。
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("FEEDS_FILE"); path != "" {
		file, err := LoadFeedsFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Feeds = append(cfg.Feeds, file.Feeds...)
		cfg.Taggers = append(cfg.Taggers, file.Taggers...)
	}
	for _, u := range getEnvList("FEED_URLS") {
		cfg.Feeds = append(cfg.Feeds, FeedSpec{URL: u})
	}
	cfg.Feeds = lo.UniqBy(cfg.Feeds, func(f FeedSpec) string { return f.URL })

	cfg.InitialTags = []string{"unread"}
	if _, ok := os.LookupEnv("INITIAL_TAGS"); ok {
		cfg.InitialTags = getEnvList("INITIAL_TAGS")
	}

	cfg.MaxConnections = getEnvInt("MAX_CONNECTIONS", 6)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 30*time.Minute)
	cfg.FetchHostRate = getEnvFloat("FETCH_HOST_RATE", 2)
	cfg.AllowPrivateHosts = getEnvBool("ALLOW_PRIVATE_HOSTS", false)
	cfg.UserAgent = getEnvString("USER_AGENT", "feedtag/1.0 (+https://github.com/hitoshi/feedtag)")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("MAX_CONNECTIONS must be positive: %d", cfg.MaxConnections)
	}
	if cfg.FetchInterval <= 0 {
		return nil, fmt.Errorf("FETCH_INTERVAL must be positive: %s", cfg.FetchInterval)
	}
	if cfg.SnapshotInterval <= 0 {
		return nil, fmt.Errorf("SNAPSHOT_INTERVAL must be positive: %s", cfg.SnapshotInterval)
	}

	return cfg, nil
}

// FeedURLs は設定済みフィードのURLを設定順に返す。
func (c *Config) FeedURLs() []string {
	return lo.Map(c.Feeds, func(f FeedSpec, _ int) string { return f.URL })
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの値を空白除去・空要素除外して返す。
func getEnvList(key string) []string {
	parts := strings.Split(os.Getenv(key), ",")
	parts = lo.Map(parts, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Compact(parts))
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
