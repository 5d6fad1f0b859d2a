package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. Records go to stdout and to a rotating file
// under STATE_DIR/logs; the returned closer flushes and closes that file.
func New(cfg config.Config) (*slog.Logger, io.Closer, error) {
	file, err := rotatingFile(cfg)
	if err != nil {
		return nil, nil, err
	}
	return newLogger(io.MultiWriter(os.Stdout, file), cfg.LogLevel), file, nil
}

// rotatingFile maps the LOG_* settings onto lumberjack.
func rotatingFile(cfg config.Config) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	}, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("app", "telebot2exl")
}

func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel accepts LOG_LEVEL values case-insensitively; anything unknown is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
