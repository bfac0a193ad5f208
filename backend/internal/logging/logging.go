package logging

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 未识别的值按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init 设置默认 logger。LOG_LEVEL 环境变量优先于配置文件。
func Init(level string) slog.Level {
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = l
	}
	lv := ParseLevel(level)

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: lv,
		}),
	)
	slog.SetDefault(logger)
	return lv
}
