// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel はログレベル名をslog.Levelに変換する。
// 未知の名前や空文字列はInfoとして扱う。
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup は指定レベル以上を出力するJSON構造化ログのslog.Loggerを生成する。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// defaultLevel はSetupDefaultで設定したグローバルロガーのレベル。SetLevelで後から変更できる。
var defaultLevel = new(slog.LevelVar)

// SetupDefault はJSON構造化ログをグローバルロガーとして設定し、そのロガーを返す。
// wがnilの場合はos.Stdoutに出力する。レベルはSetLevelを呼ぶまでInfo。
func SetupDefault(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	defaultLevel.Set(slog.LevelInfo)
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: defaultLevel,
	}))
	slog.SetDefault(l)
	return l
}

// SetLevel はグローバルロガーのレベルをレベル名で変更する。
func SetLevel(name string) {
	defaultLevel.Set(ParseLevel(name))
}
