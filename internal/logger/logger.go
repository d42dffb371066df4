// Package logger builds the process-wide slog logger from LOG_LEVEL and
// LOG_FORMAT, and routes the Telegram library's own log output through it.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LevelCritical sits above ERROR for operator-facing alerts. It renders as
// "ERROR+4" unless a handler maps it.
const LevelCritical = slog.LevelError + 4

// ParseLevel maps a level name to a slog.Level. WARNING and CRITICAL are
// accepted for compatibility with Python-style settings.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("logger: unknown level %q", level)
	}
}

// New returns a logger writing to w in "text" (default) or "json" format
// and makes it the slog default.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logger: unknown format %q (use text or json)", format)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l, nil
}

// BridgeTelegram sends the telegram-bot-api package logger to l at DEBUG,
// tagged with component=tgbotapi.
func BridgeTelegram(l *slog.Logger) {
	_ = tgbotapi.SetLogger(&tgLogger{l: l.With(slog.String("component", "tgbotapi"))})
}

// tgLogger satisfies tgbotapi.BotLogger.
type tgLogger struct {
	l *slog.Logger
}

func (t *tgLogger) Println(v ...interface{}) {
	t.l.Log(context.Background(), slog.LevelDebug, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (t *tgLogger) Printf(format string, v ...interface{}) {
	t.l.Log(context.Background(), slog.LevelDebug, strings.TrimSpace(fmt.Sprintf(format, v...)))
}
