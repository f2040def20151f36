// Package logger は slog による構造化ログの初期化を提供します。
package logger

import (
	"log/slog"
	"os"
)

// New は指定されたレベルとフォーマットでロガーを作成し、
// デフォルトロガーとしても登録します。
// level は debug / info / warn / error、format は json / text を受け付けます。
func New(level, format string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
